// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"
)

// repackWriterBufferSize is buffered writer size used for header and payload writes.
const repackWriterBufferSize = 1024 * 1024

// repackLayout is the format side of one repack call.
type repackLayout struct {
	// writeHeader serializes header and entry table with current entry fields.
	writeHeader func(w io.Writer) error
	// headerSize is exact header region size and first content offset.
	headerSize int64
	// entries is entry count of the rebuilt table.
	entries int
	// headerFirst writes the header before content using precomputed offsets;
	// otherwise a placeholder is reserved and the header is patched after content.
	headerFirst bool
}

// sourceTransform converts stored bytes of an unmodified item into bytes for its live entry.
type sourceTransform[E comparable] func(r io.Reader, snapshot E, live E) (io.Reader, error)

// placeFunc assigns (or verifies) entry offset at the current write cursor.
type placeFunc[E comparable] func(entry E, cursor int64) error

// itemStoredSize returns stored size the item will occupy in the output.
func itemStoredSize[E comparable](it *FileItem[E]) (int64, error) {
	switch {
	case it.pending != nil:
		return it.pending.Size(), nil
	case it.source != nil:
		section, ok := it.source.Section(it.Entry)
		if !ok {
			return 0, fmt.Errorf("%w: %s is not bound to its source", ErrEntryNotFound, it.Path())
		}

		return section.Size, nil
	default:
		return 0, fmt.Errorf("%w: %s has no content", ErrEntryNotFound, it.Path())
	}
}

// addItemProducer registers a deferred content producer for one item.
func addItemProducer[E comparable](
	gen *writeGenerator[E],
	it *FileItem[E],
	size int64,
	transform sourceTransform[E],
	place placeFunc[E],
) {
	entry := it.Entry
	pending := it.pending
	source := it.source

	gen.add(entry, it.Path(), size, func(cursor int64) (io.ReadCloser, error) {
		if err := place(entry, cursor); err != nil {
			return nil, err
		}

		if pending != nil {
			return pending.Open()
		}

		r, err := source.Open(entry)
		if err != nil {
			return nil, err
		}

		if transform == nil {
			return io.NopCloser(r), nil
		}

		snapshot, ok := source.Snapshot(entry)
		if !ok {
			return nil, fmt.Errorf("%w: missing source snapshot", ErrEntryNotFound)
		}

		r, err = transform(r, snapshot, entry)
		if err != nil {
			return nil, err
		}

		return io.NopCloser(r), nil
	})
}

// repack writes header and generator content to out following layout.
// out must be positioned at the container start; it is left positioned at the container end.
func repack[E comparable](
	ctx context.Context,
	out io.WriteSeeker,
	layout repackLayout,
	gen *writeGenerator[E],
	opts WriteOptions,
) (*RepackResult, error) {
	startedAt := time.Now()

	if out == nil {
		return nil, ErrNilWriter
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek container start: %w", err)
	}

	w := bufio.NewWriterSize(out, repackWriterBufferSize)
	if layout.headerFirst {
		if err := writeExactHeader(w, layout); err != nil {
			return nil, err
		}
	} else {
		if _, err := io.CopyN(w, zeroReader{}, layout.headerSize); err != nil {
			return nil, fmt.Errorf("reserve header: %w", err)
		}
	}

	end, err := gen.drain(ctx, w, layout.headerSize, opts.OnEntryDone)
	if err != nil {
		return nil, err
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush payloads: %w", err)
	}

	if gen.invoked != layout.entries || gen.Len() != layout.entries {
		return nil, fmt.Errorf("%w: %d of %d entries written", ErrIncompleteGenerator, gen.invoked, layout.entries)
	}

	if !layout.headerFirst {
		if _, err := out.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek to header: %w", err)
		}

		if err := writeExactHeader(w, layout); err != nil {
			return nil, err
		}

		if _, err := out.Seek(end, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek container end: %w", err)
		}
	}

	return &RepackResult{
		WrittenEntries: gen.invoked,
		HeaderSize:     layout.headerSize,
		DataSize:       end - layout.headerSize,
		Duration:       time.Since(startedAt),
	}, nil
}

// writeExactHeader writes header through w, flushes, and checks its precomputed size.
func writeExactHeader(w *bufio.Writer, layout repackLayout) error {
	cw := &countingWriter{w: w}
	if err := layout.writeHeader(cw); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush header: %w", err)
	}

	if cw.n != layout.headerSize {
		return fmt.Errorf("%w: header is %d bytes, computed %d", ErrLayoutMismatch, cw.n, layout.headerSize)
	}

	return nil
}

// countingWriter counts bytes passed to the wrapped writer.
type countingWriter struct {
	w io.Writer
	n int64
}

// Write implements io.Writer.
func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// zeroReader yields zero bytes forever.
type zeroReader struct{}

// Read implements io.Reader.
func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
