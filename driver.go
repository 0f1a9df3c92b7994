// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Driver is the format-specific strategy bridging the generic tree and one container layout.
// H is the whole-container handle, E the per-file entry; both stay statically typed inside a driver.
type Driver[H any, E comparable] interface {
	// Format returns the container format handled by this driver.
	Format() Format
	// LoadArchive parses header and entry table.
	LoadArchive(ra io.ReaderAt, size int64) (H, error)
	// LoadArchiveData builds the tree and binds a read generator to the container.
	LoadArchiveData(h H, ra io.ReaderAt, size int64, originName string) (*Tree[E], *ReadGenerator[E], error)
	// CreateArchive returns a fresh handle with format defaults.
	CreateArchive() H
	// NewFileEntry mints metadata for a new file, normalizing its name.
	NewFileEntry(h H, dir string, fileName string) (E, error)
	// EntryName returns normalized file name stored in entry.
	EntryName(e E) string
	// EncodeFile encodes raw bytes for entry and updates its size/key/checksum fields.
	EncodeFile(raw []byte, e E) ([]byte, error)
	// DecodeFile reverses EncodeFile.
	DecodeFile(encoded []byte, e E) ([]byte, error)
	// NewDecoder wraps an encoded stream of entry with streaming decode.
	NewDecoder(r io.Reader, e E) (io.Reader, error)
	// FileData returns stored bytes of entry from generator; valid while its source is open.
	FileData(gen *ReadGenerator[E], e E) (io.Reader, error)
	// WriteArchive repacks items into out and updates handle entries to the written layout.
	WriteArchive(ctx context.Context, h H, out io.WriteSeeker, items []*FileItem[E], opts WriteOptions) (*RepackResult, error)
	// FileSize returns decoded or encoded size when known.
	FileSize(e E, encoded bool) (int64, bool)
	// FileInfo returns presentation data of entry.
	FileInfo(h H, e E) []InfoField
}

// newTree returns a tree holding only the root sentinel directory.
func newTree[E comparable]() *Tree[E] {
	return &Tree[E]{Directories: []*Directory[E]{{Path: ""}}}
}

// encodeName converts UTF-8 name to legacy code page bytes.
func encodeName(cm *charmap.Charmap, name string) ([]byte, error) {
	out, err := cm.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: name %q is not representable: %w", ErrInvalidEntryPath, name, err)
	}

	return out, nil
}

// decodeName converts legacy code page bytes to UTF-8 name.
func decodeName(cm *charmap.Charmap, raw []byte) string {
	out, err := cm.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}

	return string(out)
}

// trimNUL cuts fixed-size name field at the first NUL.
func trimNUL(raw []byte) []byte {
	for i, b := range raw {
		if b == 0 {
			return raw[:i]
		}
	}

	return raw
}

// collectDirectories returns distinct non-empty directory paths in first-use order
// and rejects case-insensitive directory or item path collisions.
func collectDirectories[E comparable](items []*FileItem[E]) ([]string, error) {
	dirs := make([]string, 0, 8)
	seenDirs := make(map[string]string, 8)
	seenItems := make(map[string]string, len(items))

	for _, it := range items {
		itemKey := strings.ToLower(it.Path())
		if existing, ok := seenItems[itemKey]; ok {
			return nil, fmt.Errorf("%w: %q conflicts with %q", ErrDuplicateEntryPath, it.Path(), existing)
		}
		seenItems[itemKey] = it.Path()

		if it.Directory == "" {
			continue
		}

		dirKey := strings.ToLower(it.Directory)
		existing, ok := seenDirs[dirKey]
		if !ok {
			seenDirs[dirKey] = it.Directory
			dirs = append(dirs, it.Directory)
			continue
		}

		if existing != it.Directory {
			return nil, fmt.Errorf("%w: directory %q conflicts with %q", ErrDuplicateEntryPath, it.Directory, existing)
		}
	}

	return dirs, nil
}

// directoryIndex maps directory table paths to their positions.
func directoryIndex(dirs []string) map[string]int {
	index := make(map[string]int, len(dirs))
	for i, dir := range dirs {
		index[dir] = i
	}

	return index
}

// checkpointEntries saves item entry values and returns a func that puts them back.
func checkpointEntries[T any](items []*FileItem[*T]) func() {
	saved := make([]T, len(items))
	for i, it := range items {
		saved[i] = *it.Entry
	}

	return func() {
		for i, it := range items {
			*it.Entry = saved[i]
		}
	}
}
