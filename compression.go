// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/woozymasta/pathrules"
)

// pathMatcher holds compiled include/exclude rules for archive paths.
type pathMatcher struct {
	matcher *pathrules.Matcher
}

// newPathMatcher compiles path rules; empty rules produce a nil matcher.
func newPathMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*pathMatcher, error) {
	rules = normalizeRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidPathRules, err)
	}

	return &pathMatcher{matcher: matcher}, nil
}

// normalizeRules normalizes rule patterns and drops empty patterns.
func normalizeRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizePathForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// Match reports whether path is included by the rules.
func (m *pathMatcher) Match(path string) bool {
	if m == nil || m.matcher == nil {
		return false
	}

	candidate := NormalizePath(path)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, false)
}

// shouldCompress returns true if path and size pass IPK compression policy.
func shouldCompress(opts IPKOptions, matcher *pathMatcher, path string, size uint32) bool {
	if size > opts.MaxCompressSize || size < opts.MinCompressSize {
		return false
	}

	return matcher.Match(path)
}

// compressZlib compresses data as one zlib stream.
func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)

	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}

	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// zlibStreamReader decodes one zlib stream lazily and closes it at EOF.
type zlibStreamReader struct {
	src  io.Reader
	zr   io.ReadCloser
	name string
}

// Read implements io.Reader.
func (z *zlibStreamReader) Read(p []byte) (int, error) {
	if z.zr == nil {
		zr, err := zlib.NewReader(z.src)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: zlib header: %w", ErrDecode, z.name, err)
		}

		z.zr = zr
	}

	n, err := z.zr.Read(p)
	if err == io.EOF {
		_ = z.zr.Close()
	}

	return n, err
}
