// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"context"
	"fmt"
	"io"
	"sync"
)

const (
	// copyBufferSize is per-repack temporary buffer used by streaming payload copy.
	copyBufferSize = 64 * 1024
)

var (
	// copyBufferPool reuses payload copy buffers between repack calls.
	copyBufferPool = sync.Pool{
		New: func() any {
			return new([copyBufferSize]byte)
		},
	}
)

// Section locates stored bytes of one entry inside a container.
type Section struct {
	// Offset is absolute byte offset of entry payload.
	Offset int64 `json:"offset" yaml:"offset"`
	// Size is stored payload size in bytes.
	Size int64 `json:"size" yaml:"size"`
}

// sourceRecord binds one entry to its section and decode state as parsed.
type sourceRecord[E comparable] struct {
	section  Section
	snapshot E
}

// ReadGenerator is a lazy byte source bound to one container.
// Every fetch resolves to an independent io.SectionReader, so concurrent fetches are safe.
type ReadGenerator[E comparable] struct {
	src     io.ReaderAt
	records map[E]sourceRecord[E]
	name    string
	size    int64
}

// NewReadGenerator creates a generator over container bytes of known size.
func NewReadGenerator[E comparable](src io.ReaderAt, size int64, name string) *ReadGenerator[E] {
	return &ReadGenerator[E]{
		src:     src,
		size:    size,
		name:    name,
		records: make(map[E]sourceRecord[E]),
	}
}

// Name returns origin name of the bound container.
func (g *ReadGenerator[E]) Name() string {
	return g.name
}

// Bind registers stored section of entry together with its decode state snapshot.
func (g *ReadGenerator[E]) Bind(entry E, section Section, snapshot E) error {
	end := section.Offset + section.Size
	if section.Offset < 0 || section.Size < 0 || end < section.Offset || end > g.size {
		return fmt.Errorf("%w: %s: payload [%d,+%d) out of file bounds (%d)",
			ErrInvalidArchive, g.name, section.Offset, section.Size, g.size)
	}

	g.records[entry] = sourceRecord[E]{section: section, snapshot: snapshot}
	return nil
}

// Section returns stored section of entry.
func (g *ReadGenerator[E]) Section(entry E) (Section, bool) {
	rec, ok := g.records[entry]
	return rec.section, ok
}

// Snapshot returns entry decode state as it was when the section was bound.
func (g *ReadGenerator[E]) Snapshot(entry E) (E, bool) {
	rec, ok := g.records[entry]
	return rec.snapshot, ok
}

// Open returns stored (encoded) bytes of entry.
func (g *ReadGenerator[E]) Open(entry E) (io.Reader, error) {
	if g == nil || g.src == nil {
		return nil, ErrNilReader
	}

	rec, ok := g.records[entry]
	if !ok {
		return nil, fmt.Errorf("%w: entry is not bound to %s", ErrEntryNotFound, g.name)
	}

	return io.NewSectionReader(g.src, rec.section.Offset, rec.section.Size), nil
}

// writeCallback produces content of one entry once the write cursor is known.
type writeCallback[E comparable] struct {
	entry   E
	produce func(cursor int64) (io.ReadCloser, error)
	path    string
	size    int64
}

// writeGenerator is the deferred list of entry producers accumulated for one repack.
type writeGenerator[E comparable] struct {
	callbacks []writeCallback[E]
	invoked   int
	consumed  bool
}

// add appends one entry producer; size is the exact stored size it must yield.
func (g *writeGenerator[E]) add(entry E, path string, size int64, produce func(cursor int64) (io.ReadCloser, error)) {
	g.callbacks = append(g.callbacks, writeCallback[E]{
		entry:   entry,
		path:    path,
		size:    size,
		produce: produce,
	})
}

// Len returns number of registered producers.
func (g *writeGenerator[E]) Len() int {
	return len(g.callbacks)
}

// drain invokes every producer exactly once in order and streams its bytes to w.
// It returns the write cursor after the last entry.
func (g *writeGenerator[E]) drain(
	ctx context.Context,
	w io.Writer,
	start int64,
	onEntry func(RepackProgress),
) (int64, error) {
	if g.consumed {
		return start, ErrGeneratorConsumed
	}
	g.consumed = true

	arr := copyBufferPool.Get().(*[copyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	defer copyBufferPool.Put(arr)

	cursor := start
	total := len(g.callbacks)
	for i, cb := range g.callbacks {
		if err := ctx.Err(); err != nil {
			return cursor, err
		}

		rc, err := cb.produce(cursor)
		if err != nil {
			return cursor, fmt.Errorf("produce %s: %w", cb.path, err)
		}
		g.invoked++

		written, copyErr := copyPayloadBounded(w, rc, cb.size, arr[:])
		closeErr := rc.Close()
		if copyErr != nil {
			return cursor, fmt.Errorf("write %s: %w", cb.path, copyErr)
		}
		if closeErr != nil {
			return cursor, fmt.Errorf("close %s: %w", cb.path, closeErr)
		}
		if written != cb.size {
			return cursor, fmt.Errorf("write %s: short payload (%d/%d): %w", cb.path, written, cb.size, io.ErrUnexpectedEOF)
		}

		if onEntry != nil {
			onEntry(RepackProgress{
				Path:   cb.path,
				Offset: cursor,
				Size:   cb.size,
				Index:  i,
				Total:  total,
			})
		}

		cursor += cb.size
	}

	return cursor, nil
}

// copyPayloadBounded streams payload from src to dst and enforces strict size limit.
func copyPayloadBounded(dst io.Writer, src io.Reader, limit int64, buf []byte) (int64, error) {
	if dst == nil {
		return 0, ErrNilWriter
	}
	if src == nil {
		return 0, ErrNilReader
	}
	if limit < 0 {
		return 0, ErrSizeOverflow
	}
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}

	var written int64
	emptyReads := 0
	for written < limit {
		chunkSize := len(buf)
		remaining := limit - written
		if int64(chunkSize) > remaining {
			chunkSize = int(remaining)
		}

		n, readErr := src.Read(buf[:chunkSize])
		if n > 0 {
			emptyReads = 0
			nw, writeErr := dst.Write(buf[:n])
			written += int64(nw)

			if writeErr != nil {
				return written, writeErr
			}
			if nw != n {
				return written, io.ErrShortWrite
			}
		}
		if n == 0 && readErr == nil {
			emptyReads++
			if emptyReads > 100 {
				return written, io.ErrNoProgress
			}

			continue
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}

			return written, readErr
		}
	}

	// Probe one extra byte: sources longer than the table size would corrupt the layout.
	// The probe also drives checksum readers to EOF so their verification runs.
	if written == limit {
		var probe [1]byte
		n, err := src.Read(probe[:])
		if n > 0 {
			return written, ErrSizeOverflow
		}
		if err != nil && err != io.EOF {
			return written, err
		}
	}

	return written, nil
}
