// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// extractCopyBufferSize defines per-worker buffer size for file copy during extraction.
const extractCopyBufferSize = 64 * 1024

// extractWorkItem stores one selected file with prepared output relative paths.
type extractWorkItem struct {
	relPath string
	relDir  string
	file    FileInfo
}

// ExtractAll writes decoded files of a to dstDir. Extraction is parallelized
// by MaxWorkers; on failure it returns the first encountered error.
// The archive must not be mutated while extraction runs.
func ExtractAll(ctx context.Context, a Archive, dstDir string, opts ExtractOptions) error {
	if a == nil {
		return ErrNilReader
	}

	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	filter, err := newPathMatcher(opts.Filter, opts.FilterMatcherOptions)
	if err != nil {
		return err
	}

	files := a.List()
	if filter != nil {
		selected := files[:0:0]
		for _, fi := range files {
			if filter.Match(fi.Path()) {
				selected = append(selected, fi)
			}
		}

		files = selected
	}

	if len(files) == 0 {
		return nil
	}

	dstRootAbs, err := filepath.Abs(dstDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}

	if err := os.MkdirAll(dstRootAbs, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	workItems, err := prepareExtractWorkItems(dstRootAbs, files, opts.SanitizeNames)
	if err != nil {
		return err
	}

	if err := prepareExtractDirs(dstRootAbs, workItems); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, task := range workItems {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			return extractPreparedFile(gctx, a, dstRootAbs, task, opts)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

// prepareExtractWorkItems validates selected files and prepares relative fs paths.
func prepareExtractWorkItems(dstRootAbs string, files []FileInfo, sanitize bool) ([]extractWorkItem, error) {
	var sanitizer *pathSanitizer
	if sanitize {
		sanitizer = newPathSanitizer(len(files))
	}

	workItems := make([]extractWorkItem, 0, len(files))
	for _, fi := range files {
		var (
			normalizedPath string
			err            error
		)
		if sanitizer != nil {
			normalizedPath, err = sanitizer.Sanitize(fi.Path())
		} else {
			normalizedPath, err = normalizeExtractEntryPath(fi.Path())
		}
		if err != nil {
			return nil, fmt.Errorf("normalize entry path %s: %w", fi.Path(), err)
		}

		relPath := filepath.FromSlash(normalizedPath)
		if err := ensureInsideRoot(dstRootAbs, relPath); err != nil {
			return nil, fmt.Errorf("entry path %s: %w", fi.Path(), err)
		}

		relDir := filepath.Dir(relPath)
		if relDir == "." {
			relDir = ""
		}

		workItems = append(workItems, extractWorkItem{
			file:    fi,
			relPath: relPath,
			relDir:  relDir,
		})
	}

	return workItems, nil
}

// prepareExtractDirs creates all unique parent directories needed by work items.
func prepareExtractDirs(dstRootAbs string, workItems []extractWorkItem) error {
	seen := make(map[string]struct{}, len(workItems))
	for _, task := range workItems {
		if task.relDir == "" {
			continue
		}

		dirPath := filepath.Join(dstRootAbs, task.relDir)
		key := strings.ToLower(dirPath)
		if _, exists := seen[key]; exists {
			continue
		}

		seen[key] = struct{}{}
		if err := os.MkdirAll(dirPath, 0o750); err != nil {
			return fmt.Errorf("create output directory %s: %w", dirPath, err)
		}
	}

	return nil
}

// extractPreparedFile decodes one file and writes it under destination root.
func extractPreparedFile(ctx context.Context, a Archive, dstRootAbs string, task extractWorkItem, opts ExtractOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	outPath := filepath.Join(dstRootAbs, task.relPath)
	rc, err := a.Open(task.file.Path())
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if opts.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	file, err := os.OpenFile(outPath, flags, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", task.file.Path(), err)
	}

	buf := make([]byte, extractCopyBufferSize)
	written, copyErr := io.CopyBuffer(file, rc, buf)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("write %s: %w", task.file.Path(), copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close %s: %w", task.file.Path(), closeErr)
	}

	if opts.OnEntryDone != nil {
		opts.OnEntryDone(task.file, written, outPath)
	}

	return nil
}

// ensureInsideRoot rejects relative paths resolving outside root.
func ensureInsideRoot(rootAbs string, relPath string) error {
	rel, err := filepath.Rel(rootAbs, filepath.Join(rootAbs, relPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrExtractPathOutsideRoot
	}

	return nil
}

// normalizeExtractEntryPath normalizes entry path and rejects absolute/traversal inputs.
func normalizeExtractEntryPath(entryPath string) (string, error) {
	raw := strings.TrimSpace(entryPath)
	if raw == "" {
		return "", ErrInvalidExtractPath
	}
	if strings.ContainsRune(raw, 0) {
		return "", ErrInvalidExtractPath
	}
	if strings.HasPrefix(raw, `/`) || strings.HasPrefix(raw, `\`) {
		return "", ErrInvalidExtractPath
	}

	raw = strings.ReplaceAll(raw, `\`, `/`)
	if hasWindowsAbsDrivePrefix(raw) {
		return "", ErrInvalidExtractPath
	}

	parts := strings.Split(raw, `/`)
	cleanParts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", ErrInvalidExtractPath
		default:
			cleanParts = append(cleanParts, part)
		}
	}
	if len(cleanParts) == 0 {
		return "", ErrInvalidExtractPath
	}

	return strings.Join(cleanParts, `/`), nil
}

// hasWindowsAbsDrivePrefix reports whether path starts with drive-root prefix like C:/.
func hasWindowsAbsDrivePrefix(path string) bool {
	if len(path) < 3 {
		return false
	}

	return isASCIIAlpha(path[0]) && path[1] == ':' && path[2] == '/'
}

// isASCIIAlpha reports whether byte is ASCII latin letter.
func isASCIIAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
