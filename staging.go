// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/woozymasta/lzss"
)

// Staging is an arena of pending import buffers owned by one editing session.
// Small buffers stay in memory, larger ones spill to files in a private temp directory.
// Close releases every buffer still alive and removes the directory.
type Staging struct {
	live   map[*PendingImport]struct{}
	dir    string
	opts   StagingOptions
	mu     sync.Mutex
	closed bool
}

// PendingImport is an exclusively owned buffer of encoded bytes not yet committed to a container.
type PendingImport struct {
	owner      *Staging
	data       []byte
	path       string
	size       int64
	mu         sync.Mutex
	compressed bool
	released   bool
}

// NewStaging creates an empty staging arena; the spill directory is created lazily.
func NewStaging(opts StagingOptions) *Staging {
	opts.applyDefaults()

	return &Staging{
		opts: opts,
		live: make(map[*PendingImport]struct{}),
	}
}

// Stage copies encoded bytes into a new pending import buffer.
func (s *Staging) Stage(encoded []byte) (*PendingImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	p := &PendingImport{owner: s, size: int64(len(encoded))}
	if p.size < s.opts.SpillThreshold {
		p.data = append([]byte(nil), encoded...)
		s.live[p] = struct{}{}
		return p, nil
	}

	if err := s.ensureDirLocked(); err != nil {
		return nil, err
	}

	path, err := s.spillLocked(encoded)
	if err != nil {
		return nil, err
	}

	p.path = path
	p.compressed = s.opts.CompressSpill
	s.live[p] = struct{}{}
	return p, nil
}

// Live returns number of buffers not yet released.
func (s *Staging) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.live)
}

// Close releases every live buffer and removes the spill directory.
func (s *Staging) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	live := make([]*PendingImport, 0, len(s.live))
	for p := range s.live {
		live = append(live, p)
	}
	dir := s.dir
	s.mu.Unlock()

	var errs []error
	for _, p := range live {
		if err := p.Release(); err != nil {
			errs = append(errs, err)
		}
	}

	if dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove staging dir: %w", err))
		}
	}

	return errors.Join(errs...)
}

// ensureDirLocked creates private spill directory once.
func (s *Staging) ensureDirLocked() error {
	if s.dir != "" {
		return nil
	}

	dir, err := os.MkdirTemp(s.opts.Dir, "rayarc-staging-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	s.dir = dir
	return nil
}

// spillLocked writes encoded bytes to a new spill file and returns its path.
func (s *Staging) spillLocked(encoded []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, "import-*.bin")
	if err != nil {
		return "", fmt.Errorf("create spill file: %w", err)
	}

	path := f.Name()
	if s.opts.CompressSpill {
		_, _, err = lzss.CompressToWriter(f, bytes.NewReader(encoded), nil)
	} else {
		_, err = f.Write(encoded)
	}

	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write spill file: %w", err)
	}

	return path, nil
}

// forget drops released buffer from the live set.
func (s *Staging) forget(p *PendingImport) {
	s.mu.Lock()
	delete(s.live, p)
	s.mu.Unlock()
}

// Size returns encoded size in bytes.
func (p *PendingImport) Size() int64 {
	return p.size
}

// Spilled reports whether buffer is backed by a spill file.
func (p *PendingImport) Spilled() bool {
	return p.path != ""
}

// Open returns a fresh stream over the encoded bytes.
func (p *PendingImport) Open() (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return nil, ErrReleased
	}

	if p.path == "" {
		return io.NopCloser(bytes.NewReader(p.data)), nil
	}

	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open spill file: %w", err)
	}

	if !p.compressed {
		return f, nil
	}

	outLen, err := checkedInt64ToInt(p.size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	pr, pw := io.Pipe()
	go streamDecompressSpill(pw, f, outLen)

	return pr, nil
}

// Release deletes backing storage; repeated calls are no-ops.
func (p *PendingImport) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}

	p.released = true
	p.data = nil
	path := p.path
	p.mu.Unlock()

	if p.owner != nil {
		p.owner.forget(p)
	}

	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove spill file: %w", err)
	}

	return nil
}

// streamDecompressSpill decodes one compressed spill file into pipe writer.
func streamDecompressSpill(dst *io.PipeWriter, src *os.File, outLen int) {
	defer func() { _ = src.Close() }()

	if _, err := lzss.DecompressToWriter(dst, src, outLen, nil); err != nil {
		_ = dst.CloseWithError(fmt.Errorf("decompress spill file: %w", err))
		return
	}

	_ = dst.Close()
}

// checkedInt64ToInt converts int64 to int with platform-safe overflow check.
func checkedInt64ToInt(v int64) (int, error) {
	if v < 0 || v > int64(^uint(0)>>1) {
		return 0, ErrSizeOverflow
	}

	return int(v), nil
}
