// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/woozymasta/pathrules"
	"github.com/woozymasta/rayarc"
)

// patternList collects repeated pattern flags.
type patternList []string

func (p *patternList) String() string { return strings.Join(*p, ",") }

func (p *patternList) Set(value string) error {
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*p = append(*p, part)
		}
	}

	return nil
}

// archiveFlags are the open options shared by every subcommand that loads or writes a container.
type archiveFlags struct {
	format         string
	protection     string
	key            string
	compress       patternList
	noCompress     patternList
	spillThreshold int64
	compressSpill  bool
}

func (f *archiveFlags) register(set *flag.FlagSet) {
	set.StringVar(&f.format, "format", "", "archive format: rayman1pc (r1, dat), cnt, ipk (auto-detect if omitted)")
	set.StringVar(&f.protection, "protection", "", "protection policy for written files: drop or keep")
	set.StringVar(&f.key, "key", "", "hex XOR key for new imports with -protection keep (1 byte rayman1pc, 4 bytes cnt)")
	set.Var(&f.compress, "compress", "IPK compression include pattern (repeatable, comma separated)")
	set.Var(&f.noCompress, "no-compress", "IPK compression exclude pattern (repeatable, comma separated)")
	set.Int64Var(&f.spillThreshold, "spill-threshold", 0, "imports larger than this many bytes are staged on disk")
	set.BoolVar(&f.compressSpill, "compress-spill", false, "LZSS-compress imports staged on disk")
}

// options converts flags into rayarc.OpenOptions.
func (f *archiveFlags) options() (rayarc.OpenOptions, error) {
	var opts rayarc.OpenOptions

	if f.format != "" {
		format, err := rayarc.ParseFormat(f.format)
		if err != nil {
			return opts, err
		}
		opts.Format = format
	}

	protection, err := rayarc.ParseProtection(f.protection)
	if err != nil {
		return opts, err
	}
	opts.Rayman1PC.Protection = protection
	opts.CNT.Protection = protection

	if f.key != "" {
		key, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(f.key), "0x"))
		if err != nil {
			return opts, fmt.Errorf("parse -key: %w", err)
		}

		switch len(key) {
		case 1:
			opts.Rayman1PC.XORKey = key[0]
		case 4:
			copy(opts.CNT.FileXORKey[:], key)
		default:
			return opts, fmt.Errorf("%w: -key must be 1 or 4 bytes, got %d", errUsage, len(key))
		}
	}

	opts.IPK.Compress = compressRules(f.compress, f.noCompress)
	opts.Staging = rayarc.StagingOptions{
		SpillThreshold: f.spillThreshold,
		CompressSpill:  f.compressSpill,
	}

	return opts, nil
}

// compressRules builds ordered include rules followed by exclude rules.
func compressRules(include, exclude []string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(include)+len(exclude))
	for _, pattern := range include {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: pattern})
	}
	for _, pattern := range exclude {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionExclude, Pattern: pattern})
	}

	return rules
}

// parseArgs parses subcommand flags and checks positional argument count.
func parseArgs(set *flag.FlagSet, args []string, minArgs int, maxArgs int) ([]string, error) {
	if err := set.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}

	rest := set.Args()
	if len(rest) < minArgs || (maxArgs >= 0 && len(rest) > maxArgs) {
		return nil, errUsage
	}

	return rest, nil
}

func newFlagSet(env *cliEnv, name string) *flag.FlagSet {
	set := flag.NewFlagSet(name, flag.ContinueOnError)
	set.SetOutput(env.stderr)
	return set
}

func runList(_ context.Context, env *cliEnv, args []string) error {
	set := newFlagSet(env, "list")
	var af archiveFlags
	af.register(set)
	jsonOutput := set.Bool("json", false, "output as JSON")
	details := set.Bool("l", false, "show format specific entry fields")

	rest, err := parseArgs(set, args, 1, 1)
	if err != nil {
		return err
	}

	opts, err := af.options()
	if err != nil {
		return err
	}

	a, err := rayarc.Open(rest[0], opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	files := a.List()
	env.log.Debug("archive loaded",
		slog.String("path", rest[0]),
		slog.String("format", string(a.Format())),
		slog.Int("files", len(files)),
		slog.Int("directories", len(a.Directories())))

	if *jsonOutput {
		enc := json.NewEncoder(env.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(files)
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', 0)
	for _, fi := range files {
		if !*details {
			fmt.Fprintf(tw, "%d\t%s\n", fi.Size, fi.Path())
			continue
		}

		fields := make([]string, 0, len(fi.Info))
		for _, field := range fi.Info {
			fields = append(fields, field.Label+"="+field.Value)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", fi.Size, fi.EncodedSize, fi.Path(), strings.Join(fields, " "))
	}

	return tw.Flush()
}

func runExtract(ctx context.Context, env *cliEnv, args []string) error {
	set := newFlagSet(env, "extract")
	var af archiveFlags
	af.register(set)
	outDir := set.String("o", ".", "output directory")
	workers := set.Int("w", 0, "number of extraction workers (0 means GOMAXPROCS)")
	overwrite := set.Bool("overwrite", false, "replace existing files")
	sanitize := set.Bool("sanitize", false, "rewrite names into filesystem-safe unique form")
	var include, exclude patternList
	set.Var(&include, "include", "extract only matching paths (repeatable, comma separated)")
	set.Var(&exclude, "exclude", "skip matching paths (repeatable, comma separated)")

	rest, err := parseArgs(set, args, 1, 1)
	if err != nil {
		return err
	}

	opts, err := af.options()
	if err != nil {
		return err
	}

	a, err := rayarc.Open(rest[0], opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if len(include) == 0 && len(exclude) > 0 {
		include = patternList{"**"}
	}

	var count atomic.Int64
	started := time.Now()
	err = rayarc.ExtractAll(ctx, a, *outDir, rayarc.ExtractOptions{
		Filter:        compressRules(include, exclude),
		MaxWorkers:    *workers,
		Overwrite:     *overwrite,
		SanitizeNames: *sanitize,
		OnEntryDone: func(file rayarc.FileInfo, written int64, outputPath string) {
			count.Add(1)
			env.log.Debug("extracted",
				slog.String("entry", file.Path()),
				slog.String("output", outputPath),
				slog.Int64("bytes", written))
		},
	})
	if err != nil {
		return err
	}

	env.log.Info("extract done",
		slog.String("archive", rest[0]),
		slog.Int64("files", count.Load()),
		slog.Duration("took", time.Since(started)))
	return nil
}

func runCreate(ctx context.Context, env *cliEnv, args []string) error {
	set := newFlagSet(env, "create")
	var af archiveFlags
	af.register(set)
	backup := set.Int("backup", 0, "number of backups to keep when overwriting an existing archive")

	rest, err := parseArgs(set, args, 2, 2)
	if err != nil {
		return err
	}

	opts, err := af.options()
	if err != nil {
		return err
	}

	if opts.Format == "" {
		if opts.Format, err = rayarc.FormatFromPath(rest[0]); err != nil {
			return fmt.Errorf("%w (use -format)", err)
		}
	}

	a, err := rayarc.Create(opts.Format, opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	srcRoot := rest[1]
	err = filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		entryPath := filepath.ToSlash(rel)
		if err := a.Add(entryPath, data); err != nil {
			return fmt.Errorf("add %s: %w", entryPath, err)
		}

		env.log.Debug("staged", slog.String("entry", entryPath), slog.Int("bytes", len(data)))
		return nil
	})
	if err != nil {
		return err
	}

	return commit(ctx, env, a, rest[0], *backup)
}

func runAdd(ctx context.Context, env *cliEnv, args []string) error {
	return runImport(ctx, env, "add", args, func(a rayarc.Archive, path string, data []byte) error {
		return a.Add(path, data)
	})
}

func runReplace(ctx context.Context, env *cliEnv, args []string) error {
	return runImport(ctx, env, "replace", args, func(a rayarc.Archive, path string, data []byte) error {
		return a.Replace(path, data)
	})
}

// runImport implements add and replace: one entry path paired with one local file.
func runImport(ctx context.Context, env *cliEnv, name string, args []string, apply func(rayarc.Archive, string, []byte) error) error {
	set := newFlagSet(env, name)
	var af archiveFlags
	af.register(set)
	backup := set.Int("backup", 0, "number of backups to keep")

	rest, err := parseArgs(set, args, 3, 3)
	if err != nil {
		return err
	}

	opts, err := af.options()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(rest[2])
	if err != nil {
		return err
	}

	a, err := rayarc.Open(rest[0], opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := apply(a, rest[1], data); err != nil {
		return fmt.Errorf("%s %s: %w", name, rest[1], err)
	}

	return commit(ctx, env, a, rest[0], *backup)
}

func runRemove(ctx context.Context, env *cliEnv, args []string) error {
	set := newFlagSet(env, "remove")
	var af archiveFlags
	af.register(set)
	backup := set.Int("backup", 0, "number of backups to keep")

	rest, err := parseArgs(set, args, 2, -1)
	if err != nil {
		return err
	}

	opts, err := af.options()
	if err != nil {
		return err
	}

	a, err := rayarc.Open(rest[0], opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	for _, path := range rest[1:] {
		if err := a.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	return commit(ctx, env, a, rest[0], *backup)
}

func runDetect(_ context.Context, env *cliEnv, args []string) error {
	set := newFlagSet(env, "detect")
	rest, err := parseArgs(set, args, 1, -1)
	if err != nil {
		return err
	}

	for _, path := range rest {
		format, err := detectFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		fmt.Fprintf(env.stdout, "%s\t%s\n", format, path)
	}

	return nil
}

func detectFile(path string) (rayarc.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	return rayarc.DetectFormat(f, info.Size())
}

// commit writes the session to path and logs repack statistics.
func commit(ctx context.Context, env *cliEnv, a rayarc.Archive, path string, backup int) error {
	res, err := a.CommitFile(ctx, path, rayarc.CommitOptions{
		BackupKeep: backup,
		WriteOptions: rayarc.WriteOptions{
			OnEntryDone: func(p rayarc.RepackProgress) {
				env.log.Debug("written",
					slog.String("entry", p.Path),
					slog.Int64("offset", p.Offset),
					slog.Int64("size", p.Size),
					slog.Int("index", p.Index),
					slog.Int("total", p.Total))
			},
		},
	})
	if err != nil {
		return err
	}

	env.log.Info("archive written",
		slog.String("path", path),
		slog.String("format", string(a.Format())),
		slog.Int("entries", res.WrittenEntries),
		slog.Int64("header_size", res.HeaderSize),
		slog.Int64("data_size", res.DataSize),
		slog.Duration("took", res.Duration))
	return nil
}
