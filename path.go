// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package rayarc

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath converts an archive/internal path to normalized slash-separated form.
// It trims spaces, accepts both "/" and "\", removes leading "./" and "/", and cleans "." segments.
func NormalizePath(raw string) string {
	raw = normalizePathForMatching(raw)
	raw = strings.TrimPrefix(raw, "/")
	raw = path.Clean("/" + raw)
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." {
		return ""
	}

	return strings.TrimSuffix(raw, "/")
}

// normalizePathForMatching normalizes user/input paths for matcher use.
func normalizePathForMatching(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, `\`, `/`)
	path = strings.TrimPrefix(path, "./")
	return path
}

// normalizeDirectory returns canonical tree directory path; root is empty.
func normalizeDirectory(raw string) (string, error) {
	dir := NormalizePath(raw)
	if strings.ContainsRune(dir, 0) {
		return "", fmt.Errorf("%w: directory %q", ErrInvalidEntryPath, raw)
	}

	for _, segment := range strings.Split(dir, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: directory %q", ErrInvalidEntryPath, raw)
		}
	}

	return dir, nil
}

// validateFileName rejects names that can not live inside one directory.
func validateFileName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("%w: file name %q", ErrInvalidEntryPath, name)
	}

	if strings.ContainsAny(trimmed, "/\\\x00") {
		return "", fmt.Errorf("%w: file name %q", ErrInvalidEntryPath, name)
	}

	return trimmed, nil
}

// splitItemPath splits slash or backslash path into normalized directory and file name.
func splitItemPath(raw string) (string, string, error) {
	normalized := NormalizePath(raw)
	if normalized == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEntryPath, raw)
	}

	dir, name := path.Split(normalized)
	dir, err := normalizeDirectory(dir)
	if err != nil {
		return "", "", err
	}

	name, err = validateFileName(name)
	if err != nil {
		return "", "", err
	}

	return dir, name, nil
}

// joinItemPath joins tree directory and file name with "/".
func joinItemPath(dir string, name string) string {
	if dir == "" {
		return name
	}

	return dir + "/" + name
}

// toBackslashPath converts tree directory path to "\" separated on-disk form.
func toBackslashPath(dir string) string {
	return strings.ReplaceAll(dir, "/", `\`)
}
