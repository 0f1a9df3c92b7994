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
	"io"
	"math"
	"strconv"

	"golang.org/x/text/encoding/charmap"
)

// CNT archive layout.
const (
	cntFixedHeaderSize = 4 + 4 + 3
	cntDirChecksumSize = 1
	// cntFileFixedSize is directory index, name length, key, checksum, offset and size.
	cntFileFixedSize = 4 + 4 + 4 + 4 + 4 + 4
	cntRootDirIndex  = -1
)

// cntCodePage is the code page of CNT directory and file names.
var cntCodePage = charmap.Windows1252

// CNTArchive is the whole-container handle of an OpenSpace CNT archive.
type CNTArchive struct {
	// Directories are backslash-separated directory names in table order.
	Directories []string
	// Entries are kept in table order.
	Entries []*CNTEntry
	// XORUsed enables name encryption with XORKey.
	XORUsed bool
	// ChecksumUsed enables directory and file checksum verification.
	ChecksumUsed bool
	// XORKey encrypts directory and file names.
	XORKey byte
}

// CNTEntry is one file record of a CNT archive.
type CNTEntry struct {
	// Name is file name without directory.
	Name string
	// DirIndex indexes CNTArchive.Directories; -1 is the root.
	DirIndex int32
	// FileXORKey encrypts payload cyclically; all zero means plain.
	FileXORKey [4]byte
	// Checksum is 32-bit sum of decoded bytes; zero means none.
	Checksum uint32
	// Offset is absolute payload offset.
	Offset uint32
	// Size is payload size; XOR keeps encoded and decoded sizes equal.
	Size uint32

	sized    bool
	verified bool
}

// clone returns a detached copy of entry.
func (e *CNTEntry) clone() *CNTEntry {
	c := *e
	return &c
}

// CNTDriver reads and writes CNT archives.
type CNTDriver struct {
	opts CNTOptions
}

// NewCNTDriver creates a CNT driver.
func NewCNTDriver(opts CNTOptions) *CNTDriver {
	opts.applyDefaults()
	return &CNTDriver{opts: opts}
}

// Format implements Driver.
func (d *CNTDriver) Format() Format {
	return FormatCNT
}

// LoadArchive implements Driver.
func (d *CNTDriver) LoadArchive(ra io.ReaderAt, size int64) (*CNTArchive, error) {
	if ra == nil {
		return nil, ErrNilReader
	}
	if size < cntFixedHeaderSize+cntDirChecksumSize {
		return nil, fmt.Errorf("%w: short header", ErrInvalidArchive)
	}

	r := &tableReader{
		r:      bufio.NewReader(io.NewSectionReader(ra, 0, size)),
		limit:  size,
		order:  binary.LittleEndian,
		format: "cnt",
	}

	dirCount := r.i32()
	fileCount := r.i32()
	xorUsed := r.u8()
	checksumUsed := r.u8()
	h := &CNTArchive{
		XORUsed:      xorUsed != 0,
		ChecksumUsed: checksumUsed != 0,
		XORKey:       r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}

	// every directory takes at least 4 bytes and every file at least cntFileFixedSize
	if dirCount < 0 || fileCount < 0 ||
		int64(dirCount)*4+int64(fileCount)*cntFileFixedSize > size-r.pos {
		return nil, fmt.Errorf("%w: cnt: bad table counts %d/%d", ErrInvalidArchive, dirCount, fileCount)
	}

	var dirSum uint32
	h.Directories = make([]string, 0, dirCount)
	for range dirCount {
		raw := r.lenBytes()
		if r.err != nil {
			return nil, r.err
		}

		d.xorName(h, raw)
		dirSum += additiveSum(raw, checksum32)
		h.Directories = append(h.Directories, decodeName(cntCodePage, raw))
	}

	dirChecksum := r.u8()
	if r.err != nil {
		return nil, r.err
	}
	if h.ChecksumUsed && byte(dirSum) != dirChecksum {
		return nil, fmt.Errorf("%w: cnt: directory checksum 0x%02X, want 0x%02X", ErrInvalidArchive, byte(dirSum), dirChecksum)
	}

	h.Entries = make([]*CNTEntry, 0, fileCount)
	for i := range fileCount {
		e := &CNTEntry{DirIndex: r.i32()}
		raw := r.lenBytes()
		r.read(e.FileXORKey[:])
		e.Checksum = r.u32()
		e.Offset = r.u32()
		e.Size = r.u32()
		if r.err != nil {
			return nil, r.err
		}

		d.xorName(h, raw)
		e.Name = decodeName(cntCodePage, raw)
		e.sized = true
		e.verified = h.ChecksumUsed

		if e.Name == "" {
			return nil, fmt.Errorf("%w: cnt: file %d has empty name", ErrInvalidArchive, i)
		}
		if e.DirIndex < cntRootDirIndex || int(e.DirIndex) >= len(h.Directories) {
			return nil, fmt.Errorf("%w: cnt: file %s has directory index %d of %d", ErrInvalidArchive, e.Name, e.DirIndex, len(h.Directories))
		}

		h.Entries = append(h.Entries, e)
	}

	headerEnd := r.pos
	for _, e := range h.Entries {
		if e.Size > 0 && int64(e.Offset) < headerEnd {
			return nil, fmt.Errorf("%w: cnt: file %s payload overlaps header", ErrInvalidArchive, e.Name)
		}
	}

	return h, nil
}

// LoadArchiveData implements Driver.
func (d *CNTDriver) LoadArchiveData(
	h *CNTArchive,
	ra io.ReaderAt,
	size int64,
	originName string,
) (*Tree[*CNTEntry], *ReadGenerator[*CNTEntry], error) {
	tree := newTree[*CNTEntry]()
	gen := NewReadGenerator[*CNTEntry](ra, size, originName)

	dirs := make([]string, len(h.Directories))
	for i, raw := range h.Directories {
		dir, err := normalizeDirectory(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}

		dirs[i] = dir
		tree.ensureDirectory(dir)
	}

	for _, e := range h.Entries {
		section := Section{Offset: int64(e.Offset), Size: int64(e.Size)}
		if err := gen.Bind(e, section, e.clone()); err != nil {
			return nil, nil, err
		}

		dir := ""
		if e.DirIndex != cntRootDirIndex {
			dir = dirs[e.DirIndex]
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
// New archives carry no name encryption and no checksums.
func (d *CNTDriver) CreateArchive() *CNTArchive {
	return &CNTArchive{}
}

// NewFileEntry implements Driver.
func (d *CNTDriver) NewFileEntry(_ *CNTArchive, _ string, fileName string) (*CNTEntry, error) {
	name, err := validateFileName(fileName)
	if err != nil {
		return nil, err
	}

	if _, err := encodeName(cntCodePage, name); err != nil {
		return nil, err
	}

	return &CNTEntry{Name: name, DirIndex: cntRootDirIndex}, nil
}

// EntryName implements Driver.
func (d *CNTDriver) EntryName(e *CNTEntry) string {
	return e.Name
}

// EncodeFile implements Driver.
func (d *CNTDriver) EncodeFile(raw []byte, e *CNTEntry) ([]byte, error) {
	if uint64(len(raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrSizeOverflow, e.Name, len(raw))
	}

	out := append([]byte(nil), raw...)
	e.FileXORKey = [4]byte{}
	e.Checksum = 0
	e.verified = false
	if d.opts.Protection == ProtectionKeep {
		e.FileXORKey = d.opts.FileXORKey
		e.Checksum = additiveSum(raw, checksum32)
		e.verified = true
		xorBytes(out, e.FileXORKey[:])
	}

	e.Size = uint32(len(out))
	e.sized = true
	return out, nil
}

// DecodeFile implements Driver.
func (d *CNTDriver) DecodeFile(encoded []byte, e *CNTEntry) ([]byte, error) {
	r, err := d.NewDecoder(bytes.NewReader(encoded), e)
	if err != nil {
		return nil, err
	}

	return io.ReadAll(r)
}

// NewDecoder implements Driver.
func (d *CNTDriver) NewDecoder(r io.Reader, e *CNTEntry) (io.Reader, error) {
	if r == nil {
		return nil, ErrNilReader
	}

	r = newXORReader(r, e.FileXORKey[:])
	if e.verified && e.Checksum != 0 {
		r = newChecksumReader(r, e.Name, e.Checksum, checksum32)
	}

	return r, nil
}

// FileData implements Driver.
func (d *CNTDriver) FileData(gen *ReadGenerator[*CNTEntry], e *CNTEntry) (io.Reader, error) {
	return gen.Open(e)
}

// FileSize implements Driver.
func (d *CNTDriver) FileSize(e *CNTEntry, _ bool) (int64, bool) {
	if e == nil || !e.sized {
		return 0, false
	}

	return int64(e.Size), true
}

// FileInfo implements Driver.
func (d *CNTDriver) FileInfo(h *CNTArchive, e *CNTEntry) []InfoField {
	dir := ""
	if e.DirIndex >= 0 && int(e.DirIndex) < len(h.Directories) {
		dir = h.Directories[e.DirIndex]
	}

	return []InfoField{
		{Label: "Name", Value: e.Name},
		{Label: "Directory", Value: dir},
		{Label: "Directory index", Value: strconv.FormatInt(int64(e.DirIndex), 10)},
		{Label: "Offset", Value: strconv.FormatUint(uint64(e.Offset), 10)},
		{Label: "Size", Value: strconv.FormatUint(uint64(e.Size), 10)},
		{Label: "XOR key", Value: fmt.Sprintf("%02X %02X %02X %02X", e.FileXORKey[0], e.FileXORKey[1], e.FileXORKey[2], e.FileXORKey[3])},
		{Label: "Checksum", Value: fmt.Sprintf("0x%08X", e.Checksum)},
		{Label: "Name encryption", Value: strconv.FormatBool(h.XORUsed)},
	}
}

// WriteArchive implements Driver.
// Content is written first behind a reserved header; the header is patched in last.
func (d *CNTDriver) WriteArchive(
	ctx context.Context,
	h *CNTArchive,
	out io.WriteSeeker,
	items []*FileItem[*CNTEntry],
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

	dirs, err := collectDirectories(items)
	if err != nil {
		return nil, err
	}
	if len(dirs) > math.MaxInt32 || len(items) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d directories, %d files", ErrSizeOverflow, len(dirs), len(items))
	}

	dirIndex := directoryIndex(dirs)
	onDisk := make([]string, len(dirs))
	for i, dir := range dirs {
		onDisk[i] = toBackslashPath(dir)
	}

	entries := make([]*CNTEntry, 0, len(items))
	sizes := make([]int64, 0, len(items))
	transforms := make([]sourceTransform[*CNTEntry], 0, len(items))
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
		if size > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrSizeOverflow, it.Path(), size)
		}

		var transform sourceTransform[*CNTEntry]
		if it.FromSource() && d.opts.Protection == ProtectionDrop {
			e.FileXORKey = [4]byte{}
			e.Checksum = 0
			transform = d.transcode
		}

		e.Name = name
		e.DirIndex = cntRootDirIndex
		if it.Directory != "" {
			e.DirIndex = int32(dirIndex[it.Directory]) //nolint:gosec // bounded above
		}
		e.Size = uint32(size)
		e.sized = true

		entries = append(entries, e)
		sizes = append(sizes, size)
		transforms = append(transforms, transform)
	}

	h.Directories = onDisk
	h.Entries = entries

	headerSize, err := cntHeaderSize(h)
	if err != nil {
		return nil, err
	}

	gen := &writeGenerator[*CNTEntry]{}
	for i, it := range items {
		addItemProducer(gen, it, sizes[i], transforms[i], placeCNTEntry)
	}

	layout := repackLayout{
		headerSize:  headerSize,
		entries:     len(entries),
		writeHeader: func(w io.Writer) error { return d.writeHeader(w, h) },
	}

	return repack(ctx, out, layout, gen, opts)
}

// transcode decodes original bytes with parsed key and re-encodes them with the live key.
func (d *CNTDriver) transcode(r io.Reader, snapshot *CNTEntry, live *CNTEntry) (io.Reader, error) {
	decoded, err := d.NewDecoder(r, snapshot)
	if err != nil {
		return nil, err
	}

	return newXORReader(decoded, live.FileXORKey[:]), nil
}

// xorName applies archive name cipher in place.
func (d *CNTDriver) xorName(h *CNTArchive, raw []byte) {
	if h.XORUsed {
		xorBytes(raw, []byte{h.XORKey})
	}
}

// writeHeader serializes counts, flags, directory table and file table.
func (d *CNTDriver) writeHeader(w io.Writer, h *CNTArchive) error {
	buf := make([]byte, 0, 4096)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(h.Directories))) //nolint:gosec // bounded by WriteArchive
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(h.Entries)))     //nolint:gosec // bounded by WriteArchive
	buf = append(buf, boolByte(h.XORUsed), boolByte(h.ChecksumUsed), h.XORKey)

	var dirSum uint32
	for _, dir := range h.Directories {
		raw, err := encodeName(cntCodePage, dir)
		if err != nil {
			return err
		}

		dirSum += additiveSum(raw, checksum32)
		d.xorName(h, raw)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(raw))) //nolint:gosec // name length
		buf = append(buf, raw...)
	}
	buf = append(buf, byte(dirSum))

	for _, e := range h.Entries {
		raw, err := encodeName(cntCodePage, e.Name)
		if err != nil {
			return err
		}

		d.xorName(h, raw)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.DirIndex)) //nolint:gosec // -1 is stored as two's complement
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(raw)))   //nolint:gosec // name length
		buf = append(buf, raw...)
		buf = append(buf, e.FileXORKey[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, e.Checksum)
		buf = binary.LittleEndian.AppendUint32(buf, e.Offset)
		buf = binary.LittleEndian.AppendUint32(buf, e.Size)
	}

	_, err := w.Write(buf)
	return err
}

// placeCNTEntry assigns entry offset at the write cursor.
func placeCNTEntry(e *CNTEntry, cursor int64) error {
	if cursor+int64(e.Size) > math.MaxUint32 {
		return fmt.Errorf("%w: %s would end past 4 GiB", ErrSizeOverflow, e.Name)
	}

	e.Offset = uint32(cursor)
	return nil
}

// cntHeaderSize returns exact header size for current directory and entry tables.
func cntHeaderSize(h *CNTArchive) (int64, error) {
	size := int64(cntFixedHeaderSize + cntDirChecksumSize)
	for _, dir := range h.Directories {
		raw, err := encodeName(cntCodePage, dir)
		if err != nil {
			return 0, err
		}

		size += 4 + int64(len(raw))
	}

	for _, e := range h.Entries {
		raw, err := encodeName(cntCodePage, e.Name)
		if err != nil {
			return 0, err
		}

		size += cntFileFixedSize + int64(len(raw))
	}

	return size, nil
}

// boolByte converts flag to 0/1 byte.
func boolByte(v bool) byte {
	if v {
		return 1
	}

	return 0
}
