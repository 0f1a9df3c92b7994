// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

// Command rayarc lists, extracts and edits Rayman-family archives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
)

const appVersion = "0.1.0"

// command is one rayarc subcommand.
type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *cliEnv, args []string) error
}

// cliEnv carries output streams and the logger shared by subcommands.
type cliEnv struct {
	stdout io.Writer
	stderr io.Writer
	log    *slog.Logger
}

var commands = []command{
	{name: "list", usage: "list [options] <archive>", run: runList},
	{name: "extract", usage: "extract [options] <archive>", run: runExtract},
	{name: "create", usage: "create [options] <archive> <source-dir>", run: runCreate},
	{name: "add", usage: "add [options] <archive> <entry-path> <file>", run: runAdd},
	{name: "replace", usage: "replace [options] <archive> <entry-path> <file>", run: runReplace},
	{name: "remove", usage: "remove [options] <archive> <entry-path>...", run: runRemove},
	{name: "detect", usage: "detect <archive>...", run: runDetect},
}

// errUsage marks argument errors that should print usage.
var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rayarc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "enable debug logging")
	version := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() { printUsage(stderr) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *version {
		fmt.Fprintf(stdout, "rayarc version %s\n", appVersion)
		return 0
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	env := &cliEnv{
		stdout: stdout,
		stderr: stderr,
		log:    slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 2
	}

	for _, cmd := range commands {
		if cmd.name != rest[0] {
			continue
		}

		if err := cmd.run(ctx, env, rest[1:]); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return 0
			}
			if errors.Is(err, errUsage) {
				fmt.Fprintf(stderr, "Usage: rayarc %s\n", cmd.usage)
				return 2
			}

			env.log.Error(cmd.name+" failed", slog.Any("error", err))
			return 1
		}

		return 0
	}

	fmt.Fprintf(stderr, "Error: unknown command %q\n", rest[0])
	printUsage(stderr)
	return 2
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: rayarc [-v] <command> [options]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %s\n", cmd.usage)
	}
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  rayarc list Textures.cnt\n")
	fmt.Fprintf(w, "  rayarc extract -o out -include 'world/**' bundle_pc.ipk\n")
	fmt.Fprintf(w, "  rayarc create -format r1 SNDD8B.DAT ./sounds\n")
}
