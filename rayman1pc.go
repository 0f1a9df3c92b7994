// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Rayman 1 PC archive layout.
const (
	r1pcCountSize  = 2
	r1pcRecordSize = 19
	r1pcNameSize   = 9
	r1pcMaxEntries = math.MaxUint16
)

// r1pcCodePage is the DOS code page of entry names.
var r1pcCodePage = charmap.CodePage437

// Rayman1PCArchive is the whole-container handle of a Rayman 1 PC archive.
type Rayman1PCArchive struct {
	// Entries are kept in table order.
	Entries []*Rayman1PCEntry
}

// Rayman1PCEntry is one 19-byte record of a Rayman 1 PC archive.
type Rayman1PCEntry struct {
	// Name is up to 9 characters without extension.
	Name string
	// Offset is absolute payload offset.
	Offset uint32
	// Size is payload size; XOR keeps encoded and decoded sizes equal.
	Size uint32
	// XORKey encrypts every payload byte; zero means plain.
	XORKey byte
	// Checksum is 8-bit sum of decoded bytes; zero means not checked.
	Checksum byte

	sized bool
}

// clone returns a detached copy of entry.
func (e *Rayman1PCEntry) clone() *Rayman1PCEntry {
	c := *e
	return &c
}

// Rayman1PCDriver reads and writes Rayman 1 PC archives.
type Rayman1PCDriver struct {
	opts Rayman1PCOptions
}

// NewRayman1PCDriver creates a Rayman 1 PC driver.
func NewRayman1PCDriver(opts Rayman1PCOptions) *Rayman1PCDriver {
	opts.applyDefaults()
	return &Rayman1PCDriver{opts: opts}
}

// Format implements Driver.
func (d *Rayman1PCDriver) Format() Format {
	return FormatRayman1PC
}

// LoadArchive implements Driver.
func (d *Rayman1PCDriver) LoadArchive(ra io.ReaderAt, size int64) (*Rayman1PCArchive, error) {
	if ra == nil {
		return nil, ErrNilReader
	}
	if size < r1pcCountSize {
		return nil, fmt.Errorf("%w: short header", ErrInvalidArchive)
	}

	var countBuf [r1pcCountSize]byte
	if _, err := ra.ReadAt(countBuf[:], 0); err != nil {
		return nil, fmt.Errorf("read entry count: %w", err)
	}

	count := int(binary.LittleEndian.Uint16(countBuf[:]))
	headerSize := r1pcHeaderSize(count)
	if headerSize > size {
		return nil, fmt.Errorf("%w: entry table of %d records exceeds file size", ErrInvalidArchive, count)
	}

	table := make([]byte, headerSize-r1pcCountSize)
	if _, err := ra.ReadAt(table, r1pcCountSize); err != nil {
		return nil, fmt.Errorf("read entry table: %w", err)
	}

	h := &Rayman1PCArchive{Entries: make([]*Rayman1PCEntry, 0, count)}
	for i := range count {
		rec := table[i*r1pcRecordSize : (i+1)*r1pcRecordSize]
		e := &Rayman1PCEntry{
			XORKey:   rec[0],
			Checksum: rec[1],
			Offset:   binary.LittleEndian.Uint32(rec[2:6]),
			Size:     binary.LittleEndian.Uint32(rec[6:10]),
			Name:     decodeName(r1pcCodePage, trimNUL(rec[10:19])),
			sized:    true,
		}

		if e.Name == "" {
			return nil, fmt.Errorf("%w: entry %d has empty name", ErrInvalidArchive, i)
		}

		end := int64(e.Offset) + int64(e.Size)
		if int64(e.Offset) < headerSize || end > size {
			return nil, fmt.Errorf("%w: entry %s payload [%d,+%d) out of bounds", ErrInvalidArchive, e.Name, e.Offset, e.Size)
		}

		h.Entries = append(h.Entries, e)
	}

	return h, nil
}

// LoadArchiveData implements Driver.
func (d *Rayman1PCDriver) LoadArchiveData(
	h *Rayman1PCArchive,
	ra io.ReaderAt,
	size int64,
	originName string,
) (*Tree[*Rayman1PCEntry], *ReadGenerator[*Rayman1PCEntry], error) {
	tree := newTree[*Rayman1PCEntry]()
	gen := NewReadGenerator[*Rayman1PCEntry](ra, size, originName)

	for _, e := range h.Entries {
		section := Section{Offset: int64(e.Offset), Size: int64(e.Size)}
		if err := gen.Bind(e, section, e.clone()); err != nil {
			return nil, nil, err
		}

		it := NewFileItem("", e.Name, e)
		it.source = gen
		if err := tree.Add(it); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}
	}

	return tree, gen, nil
}

// CreateArchive implements Driver.
func (d *Rayman1PCDriver) CreateArchive() *Rayman1PCArchive {
	return &Rayman1PCArchive{}
}

// NewFileEntry implements Driver.
func (d *Rayman1PCDriver) NewFileEntry(_ *Rayman1PCArchive, dir string, fileName string) (*Rayman1PCEntry, error) {
	if dir != "" {
		return nil, fmt.Errorf("%w: %s", ErrDirectoriesUnsupported, joinItemPath(dir, fileName))
	}

	name, err := normalizeRayman1PCName(fileName)
	if err != nil {
		return nil, err
	}

	return &Rayman1PCEntry{Name: name}, nil
}

// EntryName implements Driver.
func (d *Rayman1PCDriver) EntryName(e *Rayman1PCEntry) string {
	return e.Name
}

// EncodeFile implements Driver.
func (d *Rayman1PCDriver) EncodeFile(raw []byte, e *Rayman1PCEntry) ([]byte, error) {
	if uint64(len(raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrSizeOverflow, e.Name, len(raw))
	}

	out := append([]byte(nil), raw...)
	e.XORKey = 0
	e.Checksum = 0
	if d.opts.Protection == ProtectionKeep {
		e.XORKey = d.opts.XORKey
		e.Checksum = byte(additiveSum(raw, checksum8))
		xorBytes(out, []byte{e.XORKey})
	}

	e.Size = uint32(len(out))
	e.sized = true
	return out, nil
}

// DecodeFile implements Driver.
func (d *Rayman1PCDriver) DecodeFile(encoded []byte, e *Rayman1PCEntry) ([]byte, error) {
	r, err := d.NewDecoder(bytes.NewReader(encoded), e)
	if err != nil {
		return nil, err
	}

	return io.ReadAll(r)
}

// NewDecoder implements Driver.
func (d *Rayman1PCDriver) NewDecoder(r io.Reader, e *Rayman1PCEntry) (io.Reader, error) {
	if r == nil {
		return nil, ErrNilReader
	}

	r = newXORReader(r, []byte{e.XORKey})
	if e.Checksum != 0 {
		r = newChecksumReader(r, e.Name, uint32(e.Checksum), checksum8)
	}

	return r, nil
}

// FileData implements Driver.
func (d *Rayman1PCDriver) FileData(gen *ReadGenerator[*Rayman1PCEntry], e *Rayman1PCEntry) (io.Reader, error) {
	return gen.Open(e)
}

// FileSize implements Driver.
func (d *Rayman1PCDriver) FileSize(e *Rayman1PCEntry, _ bool) (int64, bool) {
	if e == nil || !e.sized {
		return 0, false
	}

	return int64(e.Size), true
}

// FileInfo implements Driver.
func (d *Rayman1PCDriver) FileInfo(_ *Rayman1PCArchive, e *Rayman1PCEntry) []InfoField {
	return []InfoField{
		{Label: "Name", Value: e.Name},
		{Label: "Offset", Value: strconv.FormatUint(uint64(e.Offset), 10)},
		{Label: "Size", Value: strconv.FormatUint(uint64(e.Size), 10)},
		{Label: "XOR key", Value: fmt.Sprintf("0x%02X", e.XORKey)},
		{Label: "Checksum", Value: fmt.Sprintf("0x%02X", e.Checksum)},
	}
}

// WriteArchive implements Driver.
// The header is written first; content offsets are computed from table size and entry sizes.
func (d *Rayman1PCDriver) WriteArchive(
	ctx context.Context,
	h *Rayman1PCArchive,
	out io.WriteSeeker,
	items []*FileItem[*Rayman1PCEntry],
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
	if len(dirs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDirectoriesUnsupported, dirs[0])
	}
	if len(items) > r1pcMaxEntries {
		return nil, fmt.Errorf("%w: %d entries", ErrSizeOverflow, len(items))
	}

	headerSize := r1pcHeaderSize(len(items))
	entries := make([]*Rayman1PCEntry, 0, len(items))
	names := make(map[string]string, len(items))
	gen := &writeGenerator[*Rayman1PCEntry]{}
	cursor := headerSize

	for _, it := range items {
		e := it.Entry
		name, err := fitRayman1PCName(it.FileName)
		if err != nil {
			return nil, err
		}

		key := strings.ToLower(name)
		if existing, ok := names[key]; ok {
			return nil, fmt.Errorf("%w: %q and %q normalize to %q", ErrDuplicateEntryPath, existing, it.FileName, name)
		}
		names[key] = it.FileName

		size, err := itemStoredSize(it)
		if err != nil {
			return nil, err
		}
		if cursor+size > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %s would end past 4 GiB", ErrSizeOverflow, name)
		}

		var transform sourceTransform[*Rayman1PCEntry]
		if it.FromSource() && d.opts.Protection == ProtectionDrop {
			e.XORKey = 0
			e.Checksum = 0
			transform = d.transcode
		}

		e.Name = name
		e.Size = uint32(size)
		e.Offset = uint32(cursor)
		e.sized = true
		cursor += size

		entries = append(entries, e)
		addItemProducer(gen, it, size, transform, verifyRayman1PCOffset)
	}

	h.Entries = entries
	layout := repackLayout{
		headerSize:  headerSize,
		headerFirst: true,
		entries:     len(entries),
		writeHeader: func(w io.Writer) error { return writeRayman1PCHeader(w, h) },
	}

	return repack(ctx, out, layout, gen, opts)
}

// transcode decodes original bytes with parsed key and re-encodes them with the live key.
func (d *Rayman1PCDriver) transcode(r io.Reader, snapshot *Rayman1PCEntry, live *Rayman1PCEntry) (io.Reader, error) {
	decoded, err := d.NewDecoder(r, snapshot)
	if err != nil {
		return nil, err
	}

	return newXORReader(decoded, []byte{live.XORKey}), nil
}

// verifyRayman1PCOffset checks that content lands where the header already points.
func verifyRayman1PCOffset(e *Rayman1PCEntry, cursor int64) error {
	if int64(e.Offset) != cursor {
		return fmt.Errorf("%w: %s at %d, header says %d", ErrLayoutMismatch, e.Name, cursor, e.Offset)
	}

	return nil
}

// writeRayman1PCHeader serializes entry count and 19-byte records.
func writeRayman1PCHeader(w io.Writer, h *Rayman1PCArchive) error {
	buf := make([]byte, r1pcHeaderSize(len(h.Entries)))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(h.Entries))) //nolint:gosec // bounded by r1pcMaxEntries

	for i, e := range h.Entries {
		rec := buf[r1pcCountSize+i*r1pcRecordSize : r1pcCountSize+(i+1)*r1pcRecordSize]
		rec[0] = e.XORKey
		rec[1] = e.Checksum
		binary.LittleEndian.PutUint32(rec[2:6], e.Offset)
		binary.LittleEndian.PutUint32(rec[6:10], e.Size)

		name, err := encodeName(r1pcCodePage, e.Name)
		if err != nil {
			return err
		}
		if len(name) > r1pcNameSize {
			return fmt.Errorf("%w: name %q longer than %d bytes", ErrInvalidEntryPath, e.Name, r1pcNameSize)
		}
		copy(rec[10:19], name)
	}

	_, err := w.Write(buf)
	return err
}

// r1pcHeaderSize returns header size for entry count.
func r1pcHeaderSize(count int) int64 {
	return int64(r1pcCountSize + count*r1pcRecordSize)
}

// normalizeRayman1PCName drops everything from the first dot and truncates to 9 code page bytes.
// The result is stable under repeated normalization; different long names may collide.
func normalizeRayman1PCName(fileName string) (string, error) {
	name, err := validateFileName(fileName)
	if err != nil {
		return "", err
	}

	if base, _, found := strings.Cut(name, "."); found && base != "" {
		name = base
	}

	return fitRayman1PCName(name)
}

// fitRayman1PCName validates a table name and truncates it to 9 code page bytes.
func fitRayman1PCName(fileName string) (string, error) {
	name, err := validateFileName(fileName)
	if err != nil {
		return "", err
	}

	raw, err := encodeName(r1pcCodePage, name)
	if err != nil {
		return "", err
	}
	if len(raw) > r1pcNameSize {
		raw = raw[:r1pcNameSize]
	}

	name = strings.TrimSpace(decodeName(r1pcCodePage, raw))
	if name == "" {
		return "", fmt.Errorf("%w: file name %q", ErrInvalidEntryPath, fileName)
	}

	return name, nil
}
