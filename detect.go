// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ParseFormat parses format name case-insensitively.
func ParseFormat(raw string) (Format, error) {
	value := Format(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case FormatRayman1PC, FormatCNT, FormatIPK:
		return value, nil
	case "r1", "dat":
		return FormatRayman1PC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

// ParseProtection parses protection policy name case-insensitively; empty means ProtectionDrop.
func ParseProtection(raw string) (ProtectionPolicy, error) {
	value := ProtectionPolicy(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case "":
		return ProtectionDrop, nil
	case ProtectionDrop, ProtectionKeep:
		return value, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProtection, raw)
	}
}

// FormatFromPath guesses format from file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dat":
		return FormatRayman1PC, nil
	case ".cnt":
		return FormatCNT, nil
	case ".ipk":
		return FormatIPK, nil
	default:
		return "", fmt.Errorf("%w: extension of %q", ErrUnknownFormat, path)
	}
}

// DetectFormat probes container bytes. IPK is recognized by magic;
// CNT and Rayman 1 PC have no magic and are recognized by a full table parse.
func DetectFormat(ra io.ReaderAt, size int64) (Format, error) {
	if ra == nil {
		return "", ErrNilReader
	}

	var magic [4]byte
	if size >= int64(len(magic)) {
		if _, err := ra.ReadAt(magic[:], 0); err != nil {
			return "", fmt.Errorf("read magic: %w", err)
		}

		if binary.BigEndian.Uint32(magic[:]) == ipkMagic {
			return FormatIPK, nil
		}
	}

	if h, err := NewCNTDriver(CNTOptions{}).LoadArchive(ra, size); err == nil && cntPayloadsInBounds(h, size) {
		return FormatCNT, nil
	}

	if _, err := NewRayman1PCDriver(Rayman1PCOptions{}).LoadArchive(ra, size); err == nil {
		return FormatRayman1PC, nil
	}

	return "", ErrUnknownFormat
}

// cntPayloadsInBounds reports whether every CNT payload fits the file.
func cntPayloadsInBounds(h *CNTArchive, size int64) bool {
	for _, e := range h.Entries {
		if int64(e.Offset)+int64(e.Size) > size {
			return false
		}
	}

	return true
}
