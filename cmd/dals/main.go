// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// dals packs applications into transfer streams and loads them into a
// flash region through the full load pipeline: decompression, flash
// writes, digest verification, and the run policy.
//
//	dals pack [flags] APP OUTPUT     build an image and write its stream
//	dals load [flags] [STREAM]       load a stream (stdin by default)
//	dals inspect [flags]             verify and describe the loaded image
//
// Configuration comes from --config, then DALS_CONFIG, then the
// built-in development defaults.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dals/lib/config"
	"github.com/bureau-foundation/dals/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// command is one dals subcommand.
type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = []command{
	{"pack", "pack [flags] APP OUTPUT", "build an application image and write it as a transfer stream", runPack},
	{"load", "load [flags] [STREAM]", "load a transfer stream into the flash region", runLoad},
	{"inspect", "inspect [flags]", "verify the image in the flash region and show its authorization", runInspect},
}

// environment carries the process streams into a subcommand.
type environment struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	// Handle --version before flag parsing to match the subcommand
	// binaries.
	if len(args) > 0 && args[0] == "--version" {
		fmt.Fprintf(stdout, "dals %s\n", version.Full())
		return nil
	}
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printHelp(stdout)
		return nil
	}

	env := &environment{stdin: stdin, stdout: stdout, stderr: stderr}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(ctx, env, args[1:])
		}
	}
	printHelp(stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, "dals %s\n\nUsage:\n", version.Short())
	for _, cmd := range commands {
		fmt.Fprintf(w, "  dals %-26s %s\n", cmd.usage, cmd.summary)
	}
	fmt.Fprintf(w, "\nRun \"dals COMMAND --help\" for a command's flags.\n")
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
}

func newFlagSet(name string, common *commonFlags) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("dals "+name, pflag.ContinueOnError)
	flagSet.StringVar(&common.configPath, "config", "", "path to dals.yaml (default: $DALS_CONFIG, then built-in defaults)")
	flagSet.BoolP("help", "h", false, "show help")
	return flagSet
}

// parseFlags parses args and reports whether the caller should stop
// because help was printed.
func parseFlags(flagSet *pflag.FlagSet, env *environment, usage string, args []string) (bool, error) {
	flagSet.SetOutput(env.stderr)
	flagSet.Usage = func() {
		fmt.Fprintf(env.stdout, "Usage: dals %s\n\nFlags:\n", usage)
		flagSet.SetOutput(env.stdout)
		flagSet.PrintDefaults()
		flagSet.SetOutput(env.stderr)
	}
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return true, nil
		}
		return false, err
	}
	if help, _ := flagSet.GetBool("help"); help {
		flagSet.Usage()
		return true, nil
	}
	return false, nil
}

// loadConfig resolves the configuration for a subcommand.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv("DALS_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
		cfg.ExpandVariables()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section and
// installs it as the slog default.
func newLogger(logging config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := logging.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if logging.Format == "text" {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
