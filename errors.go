// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import "errors"

// Sentinel errors for archive operations. Use errors.Is in callers.
var (
	// ErrInvalidArchive means the container header or entry table is malformed or unrecognized.
	ErrInvalidArchive = errors.New("invalid archive: malformed or unrecognized structure")
	// ErrDecode means an entry payload could not be decoded (bad checksum, corrupt stream).
	ErrDecode = errors.New("entry payload cannot be decoded")
	// ErrIncompleteGenerator means fewer write callbacks ran than entries in the table.
	ErrIncompleteGenerator = errors.New("write generator did not produce every entry")
	// ErrGeneratorConsumed means a write generator was drained more than once.
	ErrGeneratorConsumed = errors.New("write generator already consumed")
	// ErrLayoutMismatch means a content offset differs from the precomputed header layout.
	ErrLayoutMismatch = errors.New("content offset differs from precomputed layout")
	// ErrUnknownFormat means the container format is not one of the supported formats.
	ErrUnknownFormat = errors.New("unknown archive format")
	// ErrUnknownProtection means the protection policy name is not recognized.
	ErrUnknownProtection = errors.New("unknown protection policy")
	// ErrDirectoriesUnsupported means the format stores only root-level files.
	ErrDirectoriesUnsupported = errors.New("format does not support directories")
	// ErrInvalidEntryPath means a directory or file name is empty or invalid after normalization.
	ErrInvalidEntryPath = errors.New("invalid entry path")
	// ErrDuplicateEntryPath means two items resolve to the same path (case-insensitive).
	ErrDuplicateEntryPath = errors.New("duplicate entry path")
	// ErrEntryNotFound means the entry is not found.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrNilReader means the reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrNilWriter means the writer is nil.
	ErrNilWriter = errors.New("writer is nil")
	// ErrClosed means the archive session or resource is already closed.
	ErrClosed = errors.New("archive or resource already closed")
	// ErrReleased means a pending import buffer was already released.
	ErrReleased = errors.New("pending import already released")
	// ErrSizeOverflow means a size or offset exceeds the format field range.
	ErrSizeOverflow = errors.New("size exceeds format field range")
	// ErrInvalidPathRules means compression or filter path rules are invalid.
	ErrInvalidPathRules = errors.New("invalid path rules")
	// ErrInvalidExtractPath means archive entry path is invalid for extraction destination.
	ErrInvalidExtractPath = errors.New("invalid extract path")
	// ErrExtractPathOutsideRoot means resolved extraction path escapes destination root.
	ErrExtractPathOutsideRoot = errors.New("extract path escapes destination root")
)
