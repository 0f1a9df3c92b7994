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

// commitToFile writes a container through write into a temp file next to path,
// rotates backups of the previous file and moves the temp file into place.
// The destination is never left truncated: a failed write only removes the temp file.
func commitToFile(
	ctx context.Context,
	path string,
	opts CommitOptions,
	write func(out io.WriteSeeker) (*RepackResult, error),
) (*RepackResult, error) {
	opts.applyDefaults()

	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty output path", ErrInvalidEntryPath)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	tmpPath, res, err := writeTempContainer(path, write)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := installContainer(tmpPath, path, opts.BackupKeep); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	return res, nil
}

// writeTempContainer writes container bytes into a synced temp file in the destination directory.
func writeTempContainer(path string, write func(out io.WriteSeeker) (*RepackResult, error)) (string, *RepackResult, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmp.Name()

	res, writeErr := write(tmp)
	if writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", nil, writeErr
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", nil, fmt.Errorf("sync temp archive: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", nil, fmt.Errorf("close temp archive: %w", err)
	}

	return tmpPath, res, nil
}

// installContainer moves the written temp file over path keeping up to keep backups.
func installContainer(tmpPath string, path string, keep int) error {
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return fmt.Errorf("stat archive: %w", statErr)
	}

	if !exists || keep == 0 {
		if err := os.Rename(tmpPath, path); err != nil {
			return fmt.Errorf("move archive into place: %w", err)
		}

		return nil
	}

	backupPath := path + ".bak"
	if err := prepareBackupSlot(backupPath, keep); err != nil {
		return err
	}

	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("move archive to backup: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if rollbackErr := rollbackFromBackup(path, backupPath); rollbackErr != nil {
			return fmt.Errorf("move archive into place: %w (rollback failed: %v)", err, rollbackErr)
		}

		return fmt.Errorf("move archive into place: %w", err)
	}

	return nil
}

// prepareBackupSlot rotates existing backup generations before a new commit.
func prepareBackupSlot(backupPath string, keep int) error {
	if keep < 0 {
		keep = 0
	}

	switch keep {
	case 0, 1:
		return removeIfExists(backupPath)
	default:
		oldest := fmt.Sprintf("%s.%d", backupPath, keep-1)
		if err := removeIfExists(oldest); err != nil {
			return err
		}

		for i := keep - 2; i >= 1; i-- {
			from := fmt.Sprintf("%s.%d", backupPath, i)
			to := fmt.Sprintf("%s.%d", backupPath, i+1)
			if err := renameIfExists(from, to); err != nil {
				return err
			}
		}

		return renameIfExists(backupPath, backupPath+".1")
	}
}

// renameIfExists renames source to destination when source exists.
func renameIfExists(from string, to string) error {
	_, err := os.Stat(from)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}

	if err := removeIfExists(to); err != nil {
		return err
	}

	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	return nil
}

// removeIfExists removes file when present.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) || err == nil {
		return nil
	}

	return fmt.Errorf("remove %s: %w", path, err)
}

// rollbackFromBackup restores backup after a failed install.
func rollbackFromBackup(path string, backupPath string) error {
	_ = os.Remove(path)

	if err := os.Rename(backupPath, path); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	return nil
}
