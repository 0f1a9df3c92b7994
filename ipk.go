// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// UbiArt IPK bundle layout (big-endian).
const (
	ipkMagic          uint32 = 0x50EC12BA
	ipkFixedHeaderLen        = 5 * 4
	// ipkFileFixedLen is offset count, size, compressed size, timestamp, offset,
	// two string lengths, checksum and reserved field.
	ipkFileFixedLen = 4 + 4 + 4 + 8 + 8 + 4 + 4 + 4 + 4
	ipkMaxOffsets   = 64
)

// IPKArchive is the whole-container handle of a UbiArt IPK bundle.
type IPKArchive struct {
	// Entries are kept in table order.
	Entries []*IPKEntry
	// Version is bundle format version.
	Version uint32
	// Platform is target platform id.
	Platform uint32
	// BaseOffset is the start of the content region.
	BaseOffset uint32
}

// IPKEntry is one file record of an IPK bundle.
type IPKEntry struct {
	// Path is slash-separated directory without trailing slash; empty for root.
	Path string
	// Name is file name without directory.
	Name string
	// Offset is absolute payload offset.
	Offset uint64
	// TimeStamp is file time as stored by the packer.
	TimeStamp uint64
	// Size is decoded payload size.
	Size uint32
	// CompressedSize is zlib payload size; zero means stored.
	CompressedSize uint32
	// Checksum is CRC-32 of the upper-cased stored path.
	Checksum uint32

	sized bool
}

// clone returns a detached copy of entry.
func (e *IPKEntry) clone() *IPKEntry {
	c := *e
	return &c
}

// storedSize returns payload size in the container.
func (e *IPKEntry) storedSize() uint32 {
	if e.CompressedSize != 0 {
		return e.CompressedSize
	}

	return e.Size
}

// IPKDriver reads and writes UbiArt IPK bundles.
type IPKDriver struct {
	matcher *pathMatcher
	opts    IPKOptions
}

// NewIPKDriver creates an IPK driver and compiles its compression rules.
func NewIPKDriver(opts IPKOptions) (*IPKDriver, error) {
	opts.applyDefaults()

	matcher, err := newPathMatcher(opts.Compress, opts.CompressMatcherOptions)
	if err != nil {
		return nil, err
	}

	return &IPKDriver{opts: opts, matcher: matcher}, nil
}

// Format implements Driver.
func (d *IPKDriver) Format() Format {
	return FormatIPK
}

// LoadArchive implements Driver.
func (d *IPKDriver) LoadArchive(ra io.ReaderAt, size int64) (*IPKArchive, error) {
	if ra == nil {
		return nil, ErrNilReader
	}
	if size < ipkFixedHeaderLen {
		return nil, fmt.Errorf("%w: short header", ErrInvalidArchive)
	}

	r := &tableReader{
		r:      bufio.NewReader(io.NewSectionReader(ra, 0, size)),
		limit:  size,
		order:  binary.BigEndian,
		format: "ipk",
	}

	if magic := r.u32(); magic != ipkMagic {
		return nil, fmt.Errorf("%w: ipk: bad magic 0x%08X", ErrInvalidArchive, magic)
	}

	h := &IPKArchive{
		Version:    r.u32(),
		Platform:   r.u32(),
		BaseOffset: r.u32(),
	}
	fileCount := r.u32()
	if r.err != nil {
		return nil, r.err
	}

	if int64(fileCount)*ipkFileFixedLen > size-r.pos {
		return nil, fmt.Errorf("%w: ipk: bad file count %d", ErrInvalidArchive, fileCount)
	}

	h.Entries = make([]*IPKEntry, 0, fileCount)
	for i := range fileCount {
		offsetCount := r.u32()
		if r.err != nil {
			return nil, r.err
		}
		if offsetCount == 0 || offsetCount > ipkMaxOffsets {
			return nil, fmt.Errorf("%w: ipk: file %d has %d offsets", ErrInvalidArchive, i, offsetCount)
		}

		e := &IPKEntry{
			Size:           r.u32(),
			CompressedSize: r.u32(),
			TimeStamp:      r.u64(),
		}

		rel := r.u64()
		for range offsetCount - 1 {
			_ = r.u64()
		}

		name := r.lenBytes()
		dir := r.lenBytes()
		e.Checksum = r.u32()
		_ = r.u32()
		if r.err != nil {
			return nil, r.err
		}

		if rel > math.MaxInt64-uint64(h.BaseOffset) {
			return nil, fmt.Errorf("%w: ipk: file %d offset overflows", ErrInvalidArchive, i)
		}

		e.Offset = uint64(h.BaseOffset) + rel
		e.Name = string(name)
		e.Path = NormalizePath(string(dir))
		e.sized = true
		if e.Name == "" {
			return nil, fmt.Errorf("%w: ipk: file %d has empty name", ErrInvalidArchive, i)
		}

		h.Entries = append(h.Entries, e)
	}

	if int64(h.BaseOffset) < r.pos || int64(h.BaseOffset) > size {
		return nil, fmt.Errorf("%w: ipk: base offset %d outside [%d,%d]", ErrInvalidArchive, h.BaseOffset, r.pos, size)
	}

	return h, nil
}

// LoadArchiveData implements Driver.
func (d *IPKDriver) LoadArchiveData(
	h *IPKArchive,
	ra io.ReaderAt,
	size int64,
	originName string,
) (*Tree[*IPKEntry], *ReadGenerator[*IPKEntry], error) {
	tree := newTree[*IPKEntry]()
	gen := NewReadGenerator[*IPKEntry](ra, size, originName)

	for _, e := range h.Entries {
		dir, err := normalizeDirectory(e.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}
		e.Path = dir

		section := Section{Offset: int64(e.Offset), Size: int64(e.storedSize())} //nolint:gosec // bounded on load
		if err := gen.Bind(e, section, e.clone()); err != nil {
			return nil, nil, err
		}

		it := NewFileItem(dir, e.Name, e)
		it.source = gen
		if err := tree.Add(it); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}
	}

	return tree, gen, nil
}

// CreateArchive implements Driver.
func (d *IPKDriver) CreateArchive() *IPKArchive {
	return &IPKArchive{
		Version:  d.opts.Version,
		Platform: d.opts.Platform,
	}
}

// NewFileEntry implements Driver.
func (d *IPKDriver) NewFileEntry(_ *IPKArchive, dir string, fileName string) (*IPKEntry, error) {
	name, err := validateFileName(fileName)
	if err != nil {
		return nil, err
	}

	return &IPKEntry{
		Path:      dir,
		Name:      name,
		TimeStamp: uint64(time.Now().Unix()), //nolint:gosec // post-epoch clock
	}, nil
}

// EntryName implements Driver.
func (d *IPKDriver) EntryName(e *IPKEntry) string {
	return e.Name
}

// EncodeFile implements Driver.
// Payload is zlib-compressed when path and size match compression rules and output is smaller.
func (d *IPKDriver) EncodeFile(raw []byte, e *IPKEntry) ([]byte, error) {
	if uint64(len(raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrSizeOverflow, e.Name, len(raw))
	}

	size := uint32(len(raw))
	e.Size = size
	e.CompressedSize = 0
	e.sized = true

	if shouldCompress(d.opts, d.matcher, joinItemPath(e.Path, e.Name), size) {
		compressed, err := compressZlib(raw)
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", e.Name, err)
		}

		if len(compressed) < len(raw) {
			e.CompressedSize = uint32(len(compressed)) //nolint:gosec // smaller than raw
			return compressed, nil
		}
	}

	return append([]byte(nil), raw...), nil
}

// DecodeFile implements Driver.
func (d *IPKDriver) DecodeFile(encoded []byte, e *IPKEntry) ([]byte, error) {
	r, err := d.NewDecoder(bytes.NewReader(encoded), e)
	if err != nil {
		return nil, err
	}

	return io.ReadAll(r)
}

// NewDecoder implements Driver.
func (d *IPKDriver) NewDecoder(r io.Reader, e *IPKEntry) (io.Reader, error) {
	if r == nil {
		return nil, ErrNilReader
	}

	if e.CompressedSize == 0 {
		return r, nil
	}

	name := joinItemPath(e.Path, e.Name)
	return &sizeCheckReader{
		r:    &zlibStreamReader{src: r, name: name},
		name: name,
		want: int64(e.Size),
	}, nil
}

// FileData implements Driver.
func (d *IPKDriver) FileData(gen *ReadGenerator[*IPKEntry], e *IPKEntry) (io.Reader, error) {
	return gen.Open(e)
}

// FileSize implements Driver.
func (d *IPKDriver) FileSize(e *IPKEntry, encoded bool) (int64, bool) {
	if e == nil || !e.sized {
		return 0, false
	}

	if encoded {
		return int64(e.storedSize()), true
	}

	return int64(e.Size), true
}

// FileInfo implements Driver.
func (d *IPKDriver) FileInfo(h *IPKArchive, e *IPKEntry) []InfoField {
	return []InfoField{
		{Label: "Name", Value: e.Name},
		{Label: "Path", Value: ipkStoredDir(e.Path)},
		{Label: "Offset", Value: strconv.FormatUint(e.Offset, 10)},
		{Label: "Size", Value: strconv.FormatUint(uint64(e.Size), 10)},
		{Label: "Compressed size", Value: strconv.FormatUint(uint64(e.CompressedSize), 10)},
		{Label: "Timestamp", Value: strconv.FormatUint(e.TimeStamp, 10)},
		{Label: "Path checksum", Value: fmt.Sprintf("0x%08X", e.Checksum)},
		{Label: "Bundle version", Value: strconv.FormatUint(uint64(h.Version), 10)},
	}
}

// WriteArchive implements Driver.
// Content is written first behind a reserved header; offsets are stored relative to the header end.
func (d *IPKDriver) WriteArchive(
	ctx context.Context,
	h *IPKArchive,
	out io.WriteSeeker,
	items []*FileItem[*IPKEntry],
	opts WriteOptions,
) (res *RepackResult, err error) {
	restore := checkpointEntries(items)
	prev := *h
	defer func() {
		if err != nil {
			restore()
			*h = prev
		}
	}()

	if _, err := collectDirectories(items); err != nil {
		return nil, err
	}
	if uint64(len(items)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d files", ErrSizeOverflow, len(items))
	}

	entries := make([]*IPKEntry, 0, len(items))
	sizes := make([]int64, 0, len(items))
	headerSize := int64(ipkFixedHeaderLen)
	for _, it := range items {
		e := it.Entry
		name, err := validateFileName(it.FileName)
		if err != nil {
			return nil, err
		}

		size, err := itemStoredSize(it)
		if err != nil {
			return nil, err
		}
		if size != int64(e.storedSize()) {
			return nil, fmt.Errorf("%w: %s stored %d bytes, table says %d", ErrLayoutMismatch, it.Path(), size, e.storedSize())
		}

		e.Path = it.Directory
		e.Name = name
		e.Checksum = ipkPathChecksum(e.Path, e.Name)
		e.sized = true

		entries = append(entries, e)
		sizes = append(sizes, size)
		headerSize += ipkFileFixedLen + int64(len(e.Name)) + int64(len(ipkStoredDir(e.Path)))
	}

	if headerSize > math.MaxUint32 {
		return nil, fmt.Errorf("%w: header is %d bytes", ErrSizeOverflow, headerSize)
	}

	h.Entries = entries
	h.BaseOffset = uint32(headerSize)

	gen := &writeGenerator[*IPKEntry]{}
	for i, it := range items {
		addItemProducer(gen, it, sizes[i], nil, placeIPKEntry)
	}

	layout := repackLayout{
		headerSize:  headerSize,
		entries:     len(entries),
		writeHeader: func(w io.Writer) error { return writeIPKHeader(w, h) },
	}

	return repack(ctx, out, layout, gen, opts)
}

// placeIPKEntry assigns absolute entry offset at the write cursor.
func placeIPKEntry(e *IPKEntry, cursor int64) error {
	e.Offset = uint64(cursor) //nolint:gosec // cursor is never negative
	return nil
}

// writeIPKHeader serializes bundle header and file table.
func writeIPKHeader(w io.Writer, h *IPKArchive) error {
	buf := make([]byte, 0, h.BaseOffset)
	buf = binary.BigEndian.AppendUint32(buf, ipkMagic)
	buf = binary.BigEndian.AppendUint32(buf, h.Version)
	buf = binary.BigEndian.AppendUint32(buf, h.Platform)
	buf = binary.BigEndian.AppendUint32(buf, h.BaseOffset)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.Entries))) //nolint:gosec // bounded by WriteArchive

	for _, e := range h.Entries {
		if e.Offset < uint64(h.BaseOffset) {
			return fmt.Errorf("%w: %s offset %d before content start %d", ErrLayoutMismatch, e.Name, e.Offset, h.BaseOffset)
		}

		dir := ipkStoredDir(e.Path)
		buf = binary.BigEndian.AppendUint32(buf, 1)
		buf = binary.BigEndian.AppendUint32(buf, e.Size)
		buf = binary.BigEndian.AppendUint32(buf, e.CompressedSize)
		buf = binary.BigEndian.AppendUint64(buf, e.TimeStamp)
		buf = binary.BigEndian.AppendUint64(buf, e.Offset-uint64(h.BaseOffset))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Name))) //nolint:gosec // name length
		buf = append(buf, e.Name...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(dir))) //nolint:gosec // path length
		buf = append(buf, dir...)
		buf = binary.BigEndian.AppendUint32(buf, e.Checksum)
		buf = binary.BigEndian.AppendUint32(buf, 0)
	}

	_, err := w.Write(buf)
	return err
}

// ipkStoredDir returns directory as stored in the table, with trailing slash.
func ipkStoredDir(dir string) string {
	if dir == "" {
		return ""
	}

	return dir + "/"
}

// ipkPathChecksum returns CRC-32 of upper-cased stored path and name.
func ipkPathChecksum(dir string, name string) uint32 {
	return crc32.ChecksumIEEE([]byte(strings.ToUpper(ipkStoredDir(dir) + name)))
}
