// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// tableReader reads fixed-width header fields and keeps the first error.
// Every short read becomes ErrInvalidArchive.
type tableReader struct {
	r      io.Reader
	order  binary.ByteOrder
	err    error
	format string
	limit  int64
	pos    int64
	buf    [8]byte
}

// read fills p completely or records an error.
func (t *tableReader) read(p []byte) {
	if t.err != nil {
		return
	}

	if int64(len(p)) > t.limit-t.pos {
		t.err = fmt.Errorf("%w: %s: truncated header at %d", ErrInvalidArchive, t.format, t.pos)
		return
	}

	n, err := io.ReadFull(t.r, p)
	t.pos += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			t.err = fmt.Errorf("%w: %s: truncated header at %d", ErrInvalidArchive, t.format, t.pos)
			return
		}

		t.err = fmt.Errorf("read %s header: %w", t.format, err)
	}
}

func (t *tableReader) u8() byte {
	t.read(t.buf[:1])
	if t.err != nil {
		return 0
	}

	return t.buf[0]
}

func (t *tableReader) u32() uint32 {
	t.read(t.buf[:4])
	if t.err != nil {
		return 0
	}

	return t.order.Uint32(t.buf[:4])
}

func (t *tableReader) i32() int32 {
	return int32(t.u32()) //nolint:gosec // two's complement field
}

func (t *tableReader) u64() uint64 {
	t.read(t.buf[:8])
	if t.err != nil {
		return 0
	}

	return t.order.Uint64(t.buf[:8])
}

// lenBytes reads a 32-bit length prefix followed by that many bytes.
func (t *tableReader) lenBytes() []byte {
	n := t.u32()
	if t.err != nil {
		return nil
	}

	if int64(n) > t.limit-t.pos {
		t.err = fmt.Errorf("%w: %s: string of %d bytes at %d exceeds file", ErrInvalidArchive, t.format, n, t.pos)
		return nil
	}

	out := make([]byte, n)
	t.read(out)
	if t.err != nil {
		return nil
	}

	return out
}
