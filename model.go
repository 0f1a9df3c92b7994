// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"time"

	"github.com/woozymasta/pathrules"
)

// Default tuning values.
const (
	DefaultSpillThreshold  = 4 * 1024 * 1024
	DefaultMinCompressSize = 64
	DefaultMaxCompressSize = 64 * 1024 * 1024
	DefaultIPKVersion      = 5
)

// Format identifies one supported container format.
type Format string

// Supported container formats.
const (
	// FormatRayman1PC is the Rayman 1 PC encrypted file archive (.DAT).
	FormatRayman1PC Format = "rayman1pc"
	// FormatCNT is the OpenSpace CNT archive used by Rayman 2, Rayman 3 and Tonic Trouble.
	FormatCNT Format = "cnt"
	// FormatIPK is the UbiArt IPK bundle used by Rayman Origins and Legends.
	FormatIPK Format = "ipk"
)

// Formats lists every supported format in detection order.
var Formats = []Format{FormatIPK, FormatCNT, FormatRayman1PC}

// ProtectionPolicy controls how per-entry encryption keys and checksums are written back.
type ProtectionPolicy string

// Protection policies.
const (
	// ProtectionDrop clears keys and checksums of every written entry.
	ProtectionDrop ProtectionPolicy = "drop"
	// ProtectionKeep copies originals verbatim and protects new imports with the configured key.
	ProtectionKeep ProtectionPolicy = "keep"
)

// InfoField is one label/value pair of presentation data for an entry.
type InfoField struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// FileInfo describes one file item of an archive tree.
type FileInfo struct {
	// Directory is slash-separated directory path; empty for root.
	Directory string `json:"directory,omitempty" yaml:"directory,omitempty"`
	// Name is the normalized file name inside the directory.
	Name string `json:"name" yaml:"name"`
	// Size is decoded size in bytes, -1 when unknown.
	Size int64 `json:"size" yaml:"size"`
	// EncodedSize is stored size in bytes, -1 when unknown.
	EncodedSize int64 `json:"encoded_size" yaml:"encoded_size"`
	// Pending reports whether the item holds staged content not yet committed.
	Pending bool `json:"pending,omitempty" yaml:"pending,omitempty"`
	// Info is driver-provided diagnostic data.
	Info []InfoField `json:"info,omitempty" yaml:"info,omitempty"`
}

// Path returns slash-separated directory/name path.
func (fi FileInfo) Path() string {
	return joinItemPath(fi.Directory, fi.Name)
}

// RepackProgress contains one completed entry write event from repack flow.
type RepackProgress struct {
	// Path is slash-separated item path.
	Path string `json:"path" yaml:"path"`
	// Offset is absolute payload offset in the written container.
	Offset int64 `json:"offset" yaml:"offset"`
	// Size is stored payload size in bytes.
	Size int64 `json:"size" yaml:"size"`
	// Index is zero-based position in write order.
	Index int `json:"index" yaml:"index"`
	// Total is number of entries to write.
	Total int `json:"total" yaml:"total"`
}

// RepackResult contains repack output statistics.
type RepackResult struct {
	// WrittenEntries is number of entries written to archive.
	WrittenEntries int `json:"written_entries" yaml:"written_entries"`
	// HeaderSize is size of header/table region and first content offset.
	HeaderSize int64 `json:"header_size" yaml:"header_size"`
	// DataSize is total payload bytes written.
	DataSize int64 `json:"data_size" yaml:"data_size"`
	// Duration is end-to-end repack duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// WriteOptions configures one repack call.
type WriteOptions struct {
	// OnEntryDone is called after one entry payload is fully written.
	OnEntryDone func(progress RepackProgress) `json:"-" yaml:"-"`
}

// CommitOptions configures file-based commit flow.
type CommitOptions struct {
	// WriteOptions are passed to the repack engine.
	WriteOptions WriteOptions `json:"write_options,omitzero" yaml:"write_options,omitzero"`
	// BackupKeep controls how many backup generations of a replaced file are kept.
	// 0 means no backup, 1 keeps only `<archive>.bak`, N keeps `.bak` + `.bak.1..N-1`.
	BackupKeep int `json:"backup_keep,omitempty" yaml:"backup_keep,omitempty"`
}

// StagingOptions configures pending import buffers.
type StagingOptions struct {
	// Dir is parent directory for spill files; empty means os.TempDir.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// SpillThreshold is encoded size from which imports are moved out of memory.
	SpillThreshold int64 `json:"spill_threshold,omitempty" yaml:"spill_threshold,omitempty"`
	// CompressSpill stores spill files LZSS-compressed.
	CompressSpill bool `json:"compress_spill,omitempty" yaml:"compress_spill,omitempty"`
}

// Rayman1PCOptions configures the Rayman 1 PC driver.
type Rayman1PCOptions struct {
	// Protection controls key/checksum write-back policy.
	Protection ProtectionPolicy `json:"protection,omitempty" yaml:"protection,omitempty"`
	// XORKey encrypts new imports when Protection is ProtectionKeep.
	XORKey byte `json:"xor_key,omitempty" yaml:"xor_key,omitempty"`
}

// CNTOptions configures the CNT driver.
type CNTOptions struct {
	// Protection controls key/checksum write-back policy.
	Protection ProtectionPolicy `json:"protection,omitempty" yaml:"protection,omitempty"`
	// FileXORKey encrypts new imports when Protection is ProtectionKeep.
	FileXORKey [4]byte `json:"file_xor_key,omitzero" yaml:"file_xor_key,omitzero"`
}

// IPKOptions configures the IPK driver.
type IPKOptions struct {
	// Compress defines ordered path rules for compression candidate selection.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// CompressMatcherOptions control compression path rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// MinCompressSize disables compression for files smaller than this size.
	MinCompressSize uint32 `json:"min_compress_size,omitempty" yaml:"min_compress_size,omitempty"`
	// MaxCompressSize disables compression for files larger than this size.
	MaxCompressSize uint32 `json:"max_compress_size,omitempty" yaml:"max_compress_size,omitempty"`
	// Version is written into created bundles.
	Version uint32 `json:"version,omitempty" yaml:"version,omitempty"`
	// Platform is written into created bundles.
	Platform uint32 `json:"platform,omitempty" yaml:"platform,omitempty"`
}

// OpenOptions configures archive sessions.
type OpenOptions struct {
	// Format forces container format; empty means detection.
	Format Format `json:"format,omitempty" yaml:"format,omitempty"`
	// Staging configures pending import buffers.
	Staging StagingOptions `json:"staging,omitzero" yaml:"staging,omitzero"`
	// Rayman1PC configures the Rayman 1 PC driver.
	Rayman1PC Rayman1PCOptions `json:"rayman1pc,omitzero" yaml:"rayman1pc,omitzero"`
	// CNT configures the CNT driver.
	CNT CNTOptions `json:"cnt,omitzero" yaml:"cnt,omitzero"`
	// IPK configures the IPK driver.
	IPK IPKOptions `json:"ipk,omitzero" yaml:"ipk,omitzero"`
}

// ExtractOptions configures ExtractAll behavior.
type ExtractOptions struct {
	// OnEntryDone is called after one file is fully written to disk.
	OnEntryDone func(file FileInfo, written int64, outputPath string) `json:"-" yaml:"-"`
	// Filter selects files by slash-separated path; empty means all files.
	Filter []pathrules.Rule `json:"filter,omitempty" yaml:"filter,omitempty"`
	// FilterMatcherOptions control filter rule matching.
	FilterMatcherOptions pathrules.MatcherOptions `json:"filter_matcher_options,omitzero" yaml:"filter_matcher_options,omitzero"`
	// MaxWorkers is number of extraction workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// Overwrite allows replacing existing output files.
	Overwrite bool `json:"overwrite,omitempty" yaml:"overwrite,omitempty"`
	// SanitizeNames rewrites output names to filesystem-safe unique form.
	SanitizeNames bool `json:"sanitize_names,omitempty" yaml:"sanitize_names,omitempty"`
}

// applyDefaults fills zero-valued staging options with defaults.
func (opts *StagingOptions) applyDefaults() {
	if opts.SpillThreshold <= 0 {
		opts.SpillThreshold = DefaultSpillThreshold
	}
}

// applyDefaults fills zero-valued Rayman 1 PC options with defaults.
func (opts *Rayman1PCOptions) applyDefaults() {
	if opts.Protection == "" {
		opts.Protection = ProtectionDrop
	}
}

// applyDefaults fills zero-valued CNT options with defaults.
func (opts *CNTOptions) applyDefaults() {
	if opts.Protection == "" {
		opts.Protection = ProtectionDrop
	}
}

// applyDefaults fills zero-valued IPK options with defaults.
func (opts *IPKOptions) applyDefaults() {
	if opts.MinCompressSize == 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}

	if opts.MaxCompressSize == 0 || opts.MaxCompressSize <= opts.MinCompressSize {
		opts.MaxCompressSize = DefaultMaxCompressSize
	}

	if opts.Version == 0 {
		opts.Version = DefaultIPKVersion
	}

	if opts.CompressMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.CompressMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}

	if opts.CompressMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.CompressMatcherOptions.DefaultAction = pathrules.ActionExclude
	}
}

// applyDefaults fills zero-valued open options with defaults.
func (opts *OpenOptions) applyDefaults() {
	opts.Staging.applyDefaults()
	opts.Rayman1PC.applyDefaults()
	opts.CNT.applyDefaults()
	opts.IPK.applyDefaults()
}

// applyDefaults fills zero-valued commit options with defaults.
func (opts *CommitOptions) applyDefaults() {
	if opts.BackupKeep < 0 {
		opts.BackupKeep = 0
	}
}

// applyDefaults fills zero-valued extract options with defaults.
func (opts *ExtractOptions) applyDefaults() {
	if opts.FilterMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.FilterMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}
}
