// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"fmt"
	"io"
	"strings"
)

// Tree is the format-neutral in-memory model of one archive.
// It is owned by a single editing session and is not safe for concurrent mutation.
type Tree[E comparable] struct {
	// Directories are kept in creation order; the root directory has empty Path.
	Directories []*Directory[E]
}

// Directory holds ordered file items of one directory path.
type Directory[E comparable] struct {
	// Path is slash-separated directory path; empty for root.
	Path string
	// Items are file items in archive order.
	Items []*FileItem[E]
}

// FileItem is one file of an archive tree.
// Content comes either from the originating container or from an owned pending import.
type FileItem[E comparable] struct {
	// Entry is driver-owned metadata; the generic layer only passes it back.
	Entry E
	// FileName is the normalized name inside Directory.
	FileName string
	// Directory is slash-separated directory path; empty for root.
	Directory string

	source  *ReadGenerator[E]
	pending *PendingImport
}

// NewFileItem creates an item without content; Stage or bind must follow before repack.
func NewFileItem[E comparable](dir string, name string, entry E) *FileItem[E] {
	return &FileItem[E]{
		Directory: dir,
		FileName:  name,
		Entry:     entry,
	}
}

// Path returns slash-separated directory/name path.
func (it *FileItem[E]) Path() string {
	return joinItemPath(it.Directory, it.FileName)
}

// FromSource reports whether item content is read from its originating container.
func (it *FileItem[E]) FromSource() bool {
	return it.source != nil
}

// Pending returns staged content or nil.
func (it *FileItem[E]) Pending() *PendingImport {
	return it.pending
}

// Stage replaces item content with a pending import; the previous import is released.
func (it *FileItem[E]) Stage(p *PendingImport) error {
	if p == nil {
		return fmt.Errorf("stage %s: %w", it.Path(), ErrReleased)
	}

	prev := it.pending
	it.pending = p
	it.source = nil

	if prev != nil && prev != p {
		return prev.Release()
	}

	return nil
}

// bind attaches item to a read generator and releases staged content.
func (it *FileItem[E]) bind(gen *ReadGenerator[E]) error {
	prev := it.pending
	it.pending = nil
	it.source = gen

	if prev != nil {
		return prev.Release()
	}

	return nil
}

// Release drops staged content; the item keeps no content afterwards unless it came from source.
func (it *FileItem[E]) Release() error {
	if it.pending == nil {
		return nil
	}

	prev := it.pending
	it.pending = nil
	return prev.Release()
}

// openEncoded opens stored (encoded) bytes of the item from whichever source it holds.
func (it *FileItem[E]) openEncoded() (io.ReadCloser, error) {
	switch {
	case it.pending != nil:
		return it.pending.Open()
	case it.source != nil:
		r, err := it.source.Open(it.Entry)
		if err != nil {
			return nil, err
		}

		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("%w: %s has no content", ErrEntryNotFound, it.Path())
	}
}

// Directory returns directory by path, or nil.
func (t *Tree[E]) Directory(dir string) *Directory[E] {
	for _, d := range t.Directories {
		if d.Path == dir {
			return d
		}
	}

	return nil
}

// ensureDirectory returns directory by path and creates it when absent.
func (t *Tree[E]) ensureDirectory(dir string) *Directory[E] {
	if d := t.Directory(dir); d != nil {
		return d
	}

	d := &Directory[E]{Path: dir}
	t.Directories = append(t.Directories, d)
	return d
}

// canonicalDirectory rewrites the leading segments of dir to the spelling of the
// longest existing directory that matches them case-insensitively.
func (t *Tree[E]) canonicalDirectory(dir string) string {
	best := ""
	for _, d := range t.Directories {
		p := d.Path
		if p == "" || len(p) <= len(best) || len(p) > len(dir) {
			continue
		}
		if len(p) < len(dir) && dir[len(p)] != '/' {
			continue
		}
		if strings.EqualFold(p, dir[:len(p)]) {
			best = p
		}
	}

	if best == "" {
		return dir
	}

	return best + dir[len(best):]
}

// Find returns item by directory and name using case-insensitive comparison.
func (t *Tree[E]) Find(dir string, name string) *FileItem[E] {
	for _, d := range t.Directories {
		if !strings.EqualFold(d.Path, dir) {
			continue
		}

		for _, it := range d.Items {
			if strings.EqualFold(it.FileName, name) {
				return it
			}
		}
	}

	return nil
}

// Add appends item into its directory, creating the directory when needed.
func (t *Tree[E]) Add(it *FileItem[E]) error {
	if t.Find(it.Directory, it.FileName) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateEntryPath, it.Path())
	}

	d := t.ensureDirectory(it.Directory)
	d.Items = append(d.Items, it)
	return nil
}

// Remove detaches item from the tree and releases its staged content.
func (t *Tree[E]) Remove(dir string, name string) error {
	for _, d := range t.Directories {
		if !strings.EqualFold(d.Path, dir) {
			continue
		}

		for i, it := range d.Items {
			if !strings.EqualFold(it.FileName, name) {
				continue
			}

			d.Items = append(d.Items[:i], d.Items[i+1:]...)
			return it.Release()
		}
	}

	return fmt.Errorf("%w: %s", ErrEntryNotFound, joinItemPath(dir, name))
}

// Items returns all items in directory order; this is the canonical repack order.
func (t *Tree[E]) Items() []*FileItem[E] {
	var n int
	for _, d := range t.Directories {
		n += len(d.Items)
	}

	out := make([]*FileItem[E], 0, n)
	for _, d := range t.Directories {
		out = append(out, d.Items...)
	}

	return out
}

// Release drops every staged import of the tree and returns the first error.
func (t *Tree[E]) Release() error {
	var first error
	for _, it := range t.Items() {
		if err := it.Release(); err != nil && first == nil {
			first = err
		}
	}

	return first
}
