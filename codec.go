// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"fmt"
	"io"
)

// xorReader applies a cyclic XOR key to a stream.
type xorReader struct {
	r   io.Reader
	key []byte
	pos int
}

// newXORReader wraps r with cyclic XOR; an all-zero key returns r unchanged.
func newXORReader(r io.Reader, key []byte) io.Reader {
	if isZeroKey(key) {
		return r
	}

	return &xorReader{r: r, key: append([]byte(nil), key...)}
}

// Read implements io.Reader.
func (x *xorReader) Read(p []byte) (int, error) {
	n, err := x.r.Read(p)
	for i := 0; i < n; i++ {
		p[i] ^= x.key[x.pos]
		x.pos++
		if x.pos == len(x.key) {
			x.pos = 0
		}
	}

	return n, err
}

// xorBytes applies a cyclic XOR key in place.
func xorBytes(data []byte, key []byte) {
	if isZeroKey(key) {
		return
	}

	for i := range data {
		data[i] ^= key[i%len(key)]
	}
}

// isZeroKey reports whether key is empty or all zero bytes.
func isZeroKey(key []byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}

	return true
}

// checksumWidth selects additive checksum width.
type checksumWidth uint32

// Additive checksum widths.
const (
	checksum8  checksumWidth = 0xff
	checksum32 checksumWidth = 0xffffffff
)

// additiveSum returns running byte sum of data truncated to width.
func additiveSum(data []byte, width checksumWidth) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}

	return sum & uint32(width)
}

// checksumReader accumulates additive checksum of decoded bytes and verifies it at EOF.
type checksumReader struct {
	r     io.Reader
	name  string
	sum   uint32
	want  uint32
	width checksumWidth
	done  bool
}

// newChecksumReader wraps decoded stream r with EOF verification against want.
func newChecksumReader(r io.Reader, name string, want uint32, width checksumWidth) io.Reader {
	return &checksumReader{r: r, name: name, want: want, width: width}
}

// Read implements io.Reader.
func (c *checksumReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	for i := 0; i < n; i++ {
		c.sum += uint32(p[i])
	}

	if err == io.EOF && !c.done {
		c.done = true
		got := c.sum & uint32(c.width)
		if got != c.want {
			return n, fmt.Errorf("%w: %s: checksum 0x%X, want 0x%X", ErrDecode, c.name, got, c.want)
		}
	}

	return n, err
}

// sizeCheckReader fails when a decoded stream is shorter or longer than expected.
type sizeCheckReader struct {
	r    io.Reader
	name string
	want int64
	got  int64
}

// Read implements io.Reader.
func (s *sizeCheckReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.got += int64(n)
	if s.got > s.want {
		return n, fmt.Errorf("%w: %s: decoded size exceeds %d", ErrDecode, s.name, s.want)
	}

	if err == io.EOF && s.got != s.want {
		return n, fmt.Errorf("%w: %s: decoded %d bytes, want %d", ErrDecode, s.name, s.got, s.want)
	}

	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: %s: %w", ErrDecode, s.name, err)
	}

	return n, err
}
