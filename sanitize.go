// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"fmt"
	"hash/fnv"
	"path"
	"strconv"
	"strings"
	"unicode"
)

// maxSanitizedSegmentLen limits one path segment to common filesystem-safe length.
const maxSanitizedSegmentLen = 240

// reservedDeviceNames are DOS/Windows device names that can not be used as file names.
var reservedDeviceNames = map[string]struct{}{
	"aux": {}, "clock$": {}, "con": {}, "nul": {}, "prn": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// SanitizePath rewrites one archive path to deterministic filesystem-safe slash-separated form.
func SanitizePath(pathValue string) (string, error) {
	normalizedPath := NormalizePath(pathValue)
	if normalizedPath == "" {
		return "", nil
	}

	sanitized := sanitizeRelativePath(normalizedPath)
	if _, err := normalizeExtractEntryPath(sanitized); err != nil {
		return "", err
	}

	return sanitized, nil
}

// pathSanitizer rewrites archive paths for extraction and keeps results unique.
type pathSanitizer struct {
	used       map[string]struct{}
	nextSuffix map[string]int
}

// newPathSanitizer creates an empty sanitizer for one extraction run.
func newPathSanitizer(capacity int) *pathSanitizer {
	return &pathSanitizer{
		used:       make(map[string]struct{}, capacity),
		nextSuffix: make(map[string]int, capacity),
	}
}

// Sanitize returns a safe unique relative path for one archive path.
func (s *pathSanitizer) Sanitize(archivePath string) (string, error) {
	relativePath, err := normalizeExtractEntryPath(archivePath)
	if err != nil {
		// mangled names are sanitized segment by segment instead of failing
		relativePath = strings.ReplaceAll(archivePath, `\`, `/`)
	}

	sanitized, err := s.unique(sanitizeRelativePath(relativePath))
	if err != nil {
		return "", fmt.Errorf("sanitize path %s: %w", archivePath, err)
	}

	if _, err := normalizeExtractEntryPath(sanitized); err != nil {
		return "", fmt.Errorf("sanitize path %s: %w", archivePath, err)
	}

	return sanitized, nil
}

// unique resolves case-insensitive collisions with a "~N" suffix before extension.
func (s *pathSanitizer) unique(pathValue string) (string, error) {
	key := strings.ToLower(pathValue)
	if _, exists := s.used[key]; !exists {
		s.used[key] = struct{}{}
		return pathValue, nil
	}

	dir := path.Dir(pathValue)
	name := path.Base(pathValue)
	startIdx := max(s.nextSuffix[key], 2)

	for idx := startIdx; idx < 1000000; idx++ {
		candidate := withNumericSuffix(name, idx)
		if dir != "." {
			candidate = dir + "/" + candidate
		}

		candidateKey := strings.ToLower(candidate)
		if _, exists := s.used[candidateKey]; exists {
			continue
		}

		s.used[candidateKey] = struct{}{}
		s.nextSuffix[key] = idx + 1
		return candidate, nil
	}

	return "", ErrInvalidExtractPath
}

// sanitizeRelativePath sanitizes each segment of relative slash-separated path.
func sanitizeRelativePath(relativePath string) string {
	parts := strings.Split(relativePath, "/")
	sanitized := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "." {
			continue
		}

		sanitized = append(sanitized, sanitizePathSegment(part))
	}

	if len(sanitized) == 0 {
		return "_"
	}

	return strings.Join(sanitized, "/")
}

// sanitizePathSegment rewrites one path segment for broad filesystem compatibility.
func sanitizePathSegment(segment string) string {
	if segment == ".." {
		return "_"
	}

	reserved := isReservedDeviceName(segment)

	var b strings.Builder
	b.Grow(len(segment))
	for _, r := range segment {
		if isUnsafeNameRune(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			b.WriteRune('_')
			continue
		}

		b.WriteRune(r)
	}

	sanitized := strings.TrimRight(b.String(), ". ")
	if sanitized == "" {
		sanitized = "_"
	}

	if reserved || isReservedDeviceName(sanitized) {
		sanitized = "_" + sanitized
	}

	return shortenSegmentDeterministic(sanitized, maxSanitizedSegmentLen)
}

// isUnsafeNameRune reports control, format and replacement runes.
func isUnsafeNameRune(r rune) bool {
	if unicode.IsControl(r) || unicode.In(r, unicode.Cf) {
		return true
	}

	// U+FFFD appears for bytes a legacy code page could not map.
	return r == '\uFFFD'
}

// isReservedDeviceName reports whether name (without extension) is a reserved device name.
func isReservedDeviceName(name string) bool {
	candidate := strings.ToLower(strings.TrimSpace(name))
	if dot := strings.IndexByte(candidate, '.'); dot >= 0 {
		candidate = candidate[:dot]
	}

	candidate = strings.TrimRight(candidate, ". :")
	_, ok := reservedDeviceNames[candidate]
	return ok
}

// withNumericSuffix appends "~N" before extension and preserves max segment length.
func withNumericSuffix(name string, n int) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	suffix := "~" + strconv.Itoa(n)
	allowedBaseLen := max(maxSanitizedSegmentLen-len(ext)-len(suffix), 1)

	return shortenSegmentDeterministic(base, allowedBaseLen) + suffix + ext
}

// shortenSegmentDeterministic shortens long segment keeping a hash of the full value.
func shortenSegmentDeterministic(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	if maxLen <= 10 {
		return value[:maxLen]
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	hashPart := fmt.Sprintf("~%08x", h.Sum32())

	return value[:max(maxLen-len(hashPart), 1)] + hashPart
}
