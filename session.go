// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archive is one editing session over a container of any supported format.
// A session is not safe for concurrent mutation; Open and List may run concurrently
// with each other while no mutation is in progress.
type Archive interface {
	// Format returns container format of the session.
	Format() Format
	// Name returns origin name of the container, empty for created archives.
	Name() string
	// Directories returns non-root directory paths in tree order.
	Directories() []string
	// List returns file items in canonical repack order.
	List() []FileInfo
	// Stat returns one file item by slash-separated path.
	Stat(path string) (FileInfo, error)
	// Open returns decoded content of one file item.
	Open(path string) (io.ReadCloser, error)
	// Add encodes data and stages it as a new file item.
	Add(path string, data []byte) error
	// Replace encodes data and stages it over an existing file item.
	Replace(path string, data []byte) error
	// Remove detaches a file item and releases its staged content.
	Remove(path string) error
	// Commit repacks the tree into out; the session keeps reading from its source.
	Commit(ctx context.Context, out io.WriteSeeker, opts WriteOptions) (*RepackResult, error)
	// CommitFile repacks the tree into path and rebinds the session to the written file.
	CommitFile(ctx context.Context, path string, opts CommitOptions) (*RepackResult, error)
	// Close releases staged content and the source container.
	Close() error
}

// session binds one driver to its handle, tree and read generator.
type session[H any, E comparable] struct {
	driver  Driver[H, E]
	handle  H
	tree    *Tree[E]
	gen     *ReadGenerator[E]
	staging *Staging
	file    *os.File
	name    string
	closed  bool
}

// Open opens a container file; format is detected when OpenOptions.Format is empty.
func Open(path string, opts OpenOptions) (Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	if opts.Format == "" {
		format, err := DetectFormat(f, info.Size())
		if errors.Is(err, ErrUnknownFormat) {
			format, err = FormatFromPath(path)
		}
		if err != nil {
			_ = f.Close()
			return nil, err
		}

		opts.Format = format
	}

	a, err := openFormat(f, info.Size(), filepath.Base(path), opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	a.setFile(f)
	return a, nil
}

// OpenReaderAt opens a container from random-access bytes; ra must stay valid until Close.
func OpenReaderAt(ra io.ReaderAt, size int64, name string, opts OpenOptions) (Archive, error) {
	if ra == nil {
		return nil, ErrNilReader
	}

	if opts.Format == "" {
		format, err := DetectFormat(ra, size)
		if err != nil {
			return nil, err
		}

		opts.Format = format
	}

	return openFormat(ra, size, name, opts)
}

// Create starts a session over a new empty container.
func Create(format Format, opts OpenOptions) (Archive, error) {
	opts.applyDefaults()

	switch format {
	case FormatRayman1PC:
		return newSession[*Rayman1PCArchive, *Rayman1PCEntry](NewRayman1PCDriver(opts.Rayman1PC), opts.Staging), nil
	case FormatCNT:
		return newSession[*CNTArchive, *CNTEntry](NewCNTDriver(opts.CNT), opts.Staging), nil
	case FormatIPK:
		d, err := NewIPKDriver(opts.IPK)
		if err != nil {
			return nil, err
		}

		return newSession[*IPKArchive, *IPKEntry](d, opts.Staging), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// fileBound is implemented by sessions that can own their source file.
type fileBound interface {
	Archive
	setFile(f *os.File)
}

// openFormat dispatches over the closed format set.
func openFormat(ra io.ReaderAt, size int64, name string, opts OpenOptions) (fileBound, error) {
	opts.applyDefaults()

	switch opts.Format {
	case FormatRayman1PC:
		return loadSession[*Rayman1PCArchive, *Rayman1PCEntry](NewRayman1PCDriver(opts.Rayman1PC), ra, size, name, opts.Staging)
	case FormatCNT:
		return loadSession[*CNTArchive, *CNTEntry](NewCNTDriver(opts.CNT), ra, size, name, opts.Staging)
	case FormatIPK:
		d, err := NewIPKDriver(opts.IPK)
		if err != nil {
			return nil, err
		}

		return loadSession[*IPKArchive, *IPKEntry](d, ra, size, name, opts.Staging)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
}

// newSession creates a session over a fresh handle.
func newSession[H any, E comparable](d Driver[H, E], staging StagingOptions) *session[H, E] {
	return &session[H, E]{
		driver:  d,
		handle:  d.CreateArchive(),
		tree:    newTree[E](),
		staging: NewStaging(staging),
	}
}

// loadSession parses a container and builds its tree.
func loadSession[H any, E comparable](
	d Driver[H, E],
	ra io.ReaderAt,
	size int64,
	name string,
	staging StagingOptions,
) (*session[H, E], error) {
	h, tree, gen, err := loadTree(d, ra, size, name)
	if err != nil {
		return nil, err
	}

	return &session[H, E]{
		driver:  d,
		handle:  h,
		tree:    tree,
		gen:     gen,
		name:    name,
		staging: NewStaging(staging),
	}, nil
}

// loadTree runs both load phases of a driver.
func loadTree[H any, E comparable](d Driver[H, E], ra io.ReaderAt, size int64, name string) (H, *Tree[E], *ReadGenerator[E], error) {
	var zero H

	h, err := d.LoadArchive(ra, size)
	if err != nil {
		return zero, nil, nil, fmt.Errorf("load %s archive %s: %w", d.Format(), name, err)
	}

	tree, gen, err := d.LoadArchiveData(h, ra, size, name)
	if err != nil {
		return zero, nil, nil, fmt.Errorf("load %s archive %s: %w", d.Format(), name, err)
	}

	return h, tree, gen, nil
}

func (s *session[H, E]) setFile(f *os.File) {
	s.file = f
}

// Format implements Archive.
func (s *session[H, E]) Format() Format {
	return s.driver.Format()
}

// Name implements Archive.
func (s *session[H, E]) Name() string {
	return s.name
}

// Directories implements Archive.
func (s *session[H, E]) Directories() []string {
	out := make([]string, 0, len(s.tree.Directories))
	for _, d := range s.tree.Directories {
		if d.Path != "" {
			out = append(out, d.Path)
		}
	}

	return out
}

// List implements Archive.
func (s *session[H, E]) List() []FileInfo {
	items := s.tree.Items()
	out := make([]FileInfo, 0, len(items))
	for _, it := range items {
		out = append(out, s.info(it))
	}

	return out
}

// Stat implements Archive.
func (s *session[H, E]) Stat(path string) (FileInfo, error) {
	if s.closed {
		return FileInfo{}, ErrClosed
	}

	it, err := s.resolve(path)
	if err != nil {
		return FileInfo{}, err
	}

	return s.info(it), nil
}

// Open implements Archive.
// Unmodified files are decoded with their key and checksum as parsed.
func (s *session[H, E]) Open(path string) (io.ReadCloser, error) {
	if s.closed {
		return nil, ErrClosed
	}

	it, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	entry := it.Entry
	var rc io.ReadCloser
	if it.FromSource() {
		if snapshot, ok := it.source.Snapshot(entry); ok {
			entry = snapshot
		}

		r, err := s.driver.FileData(it.source, it.Entry)
		if err != nil {
			return nil, err
		}
		rc = io.NopCloser(r)
	} else {
		rc, err = it.openEncoded()
		if err != nil {
			return nil, err
		}
	}

	dec, err := s.driver.NewDecoder(rc, entry)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}

	return &decodedReader{Reader: dec, closer: rc}, nil
}

// Add implements Archive.
func (s *session[H, E]) Add(path string, data []byte) error {
	if s.closed {
		return ErrClosed
	}

	dir, name, err := splitItemPath(path)
	if err != nil {
		return err
	}
	dir = s.tree.canonicalDirectory(dir)

	entry, err := s.driver.NewFileEntry(s.handle, dir, name)
	if err != nil {
		return err
	}

	name = s.driver.EntryName(entry)
	if s.tree.Find(dir, name) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateEntryPath, joinItemPath(dir, name))
	}

	p, err := s.stage(data, entry)
	if err != nil {
		return err
	}

	it := NewFileItem(dir, name, entry)
	if err := it.Stage(p); err != nil {
		_ = p.Release()
		return err
	}

	if err := s.tree.Add(it); err != nil {
		return errors.Join(err, it.Release())
	}

	return nil
}

// Replace implements Archive.
func (s *session[H, E]) Replace(path string, data []byte) error {
	if s.closed {
		return ErrClosed
	}

	it, err := s.resolve(path)
	if err != nil {
		return err
	}

	entry, err := s.driver.NewFileEntry(s.handle, it.Directory, it.FileName)
	if err != nil {
		return err
	}

	p, err := s.stage(data, entry)
	if err != nil {
		return err
	}

	it.Entry = entry
	return it.Stage(p)
}

// Remove implements Archive.
func (s *session[H, E]) Remove(path string) error {
	if s.closed {
		return ErrClosed
	}

	it, err := s.resolve(path)
	if err != nil {
		return err
	}

	return s.tree.Remove(it.Directory, it.FileName)
}

// Commit implements Archive.
func (s *session[H, E]) Commit(ctx context.Context, out io.WriteSeeker, opts WriteOptions) (*RepackResult, error) {
	if s.closed {
		return nil, ErrClosed
	}

	return s.driver.WriteArchive(ctx, s.handle, out, s.tree.Items(), opts)
}

// CommitFile implements Archive.
func (s *session[H, E]) CommitFile(ctx context.Context, path string, opts CommitOptions) (*RepackResult, error) {
	if s.closed {
		return nil, ErrClosed
	}

	res, err := commitToFile(ctx, path, opts, func(out io.WriteSeeker) (*RepackResult, error) {
		return s.Commit(ctx, out, opts.WriteOptions)
	})
	if err != nil {
		return nil, err
	}

	if err := s.rebind(path); err != nil {
		return res, err
	}

	return res, nil
}

// Close implements Archive.
func (s *session[H, E]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	errs := []error{s.tree.Release(), s.staging.Close()}
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}

	return errors.Join(errs...)
}

// rebind reloads the session from a freshly written file and drops staged content.
func (s *session[H, E]) rebind(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reopen committed archive: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat committed archive: %w", err)
	}

	name := filepath.Base(path)
	h, tree, gen, err := loadTree(s.driver, f, info.Size(), name)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("reload committed archive: %w", err)
	}

	errs := []error{s.tree.Release()}
	if s.file != nil {
		errs = append(errs, s.file.Close())
	}

	s.handle = h
	s.tree = tree
	s.gen = gen
	s.file = f
	s.name = name

	return errors.Join(errs...)
}

// resolve finds an item by path, retrying with the driver-normalized name.
func (s *session[H, E]) resolve(path string) (*FileItem[E], error) {
	dir, name, err := splitItemPath(path)
	if err != nil {
		return nil, err
	}

	if it := s.tree.Find(dir, name); it != nil {
		return it, nil
	}

	if entry, err := s.driver.NewFileEntry(s.handle, dir, name); err == nil {
		if normalized := s.driver.EntryName(entry); !strings.EqualFold(normalized, name) {
			if it := s.tree.Find(dir, normalized); it != nil {
				return it, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, joinItemPath(dir, name))
}

// stage encodes data for entry and moves it into the staging arena.
func (s *session[H, E]) stage(data []byte, entry E) (*PendingImport, error) {
	encoded, err := s.driver.EncodeFile(data, entry)
	if err != nil {
		return nil, err
	}

	return s.staging.Stage(encoded)
}

// info builds presentation data of one item.
func (s *session[H, E]) info(it *FileItem[E]) FileInfo {
	fi := FileInfo{
		Directory:   it.Directory,
		Name:        it.FileName,
		Size:        -1,
		EncodedSize: -1,
		Pending:     it.Pending() != nil,
		Info:        s.driver.FileInfo(s.handle, it.Entry),
	}

	if size, ok := s.driver.FileSize(it.Entry, false); ok {
		fi.Size = size
	}
	if size, ok := s.driver.FileSize(it.Entry, true); ok {
		fi.EncodedSize = size
	}

	return fi
}

// decodedReader couples a decoded stream with the closer of its stored bytes.
type decodedReader struct {
	io.Reader
	closer io.Closer
}

// Close implements io.Closer.
func (d *decodedReader) Close() error {
	return d.closer.Close()
}
