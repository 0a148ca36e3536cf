// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/dals/lib/appimage"
	"github.com/bureau-foundation/dals/lib/compression"
	"github.com/bureau-foundation/dals/lib/source"
)

const packUsage = "pack [flags] APP OUTPUT"

func runPack(_ context.Context, env *environment, args []string) error {
	var (
		common     commonFlags
		name       string
		appVersion string
		minimumRAM uint32
		digest     string
		compress   string
		chunkSize  int
	)
	flagSet := newFlagSet("pack", &common)
	flagSet.StringVar(&name, "name", "", "application name used by the run policy (default: APP file name)")
	flagSet.StringVar(&appVersion, "app-version", "", "application version recorded in the image")
	flagSet.Uint32Var(&minimumRAM, "min-ram", 0, "RAM the application needs, in bytes")
	flagSet.StringVar(&digest, "digest", string(appimage.BLAKE3), "image digest algorithm (blake3, sha256)")
	flagSet.StringVar(&compress, "compression", "auto", "chunk compression (auto, none, lz4, zstd)")
	flagSet.IntVar(&chunkSize, "chunk-size", 0, "decompressed chunk size (default: chunks.size from config)")

	if done, err := parseFlags(flagSet, env, packUsage, args); done || err != nil {
		return err
	}
	if flagSet.NArg() != 2 {
		return fmt.Errorf("usage: dals %s", packUsage)
	}
	appPath, outputPath := flagSet.Arg(0), flagSet.Arg(1)

	cfg, err := loadConfig(common.configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, env.stderr)
	if err != nil {
		return err
	}
	if chunkSize == 0 {
		chunkSize = cfg.Chunks.Size
	}
	if chunkSize > cfg.Chunks.Size {
		return fmt.Errorf("--chunk-size %d exceeds the configured decompressed buffer size %d", chunkSize, cfg.Chunks.Size)
	}

	algorithm, err := appimage.ParseAlgorithm(digest)
	if err != nil {
		return err
	}
	options := source.StreamOptions{ChunkSize: chunkSize}
	if compress == "auto" {
		options.Auto = true
	} else if options.Tag, err = compression.ParseTag(compress); err != nil {
		return err
	}

	body, err := os.ReadFile(appPath)
	if err != nil {
		return err
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(appPath), filepath.Ext(appPath))
	}
	options.Name = name

	image, err := appimage.Build(appimage.Metadata{
		Name:       name,
		Version:    appVersion,
		MinimumRAM: minimumRAM,
	}, body, algorithm)
	if err != nil {
		return fmt.Errorf("building image: %w", err)
	}
	if len(image) > cfg.Flash.RegionSize {
		logger.Warn("image is larger than the configured flash region",
			"image_size", len(image),
			"region_size", cfg.Flash.RegionSize,
		)
	}

	stats, err := writeStreamFile(outputPath, env.stdout, image, options)
	if err != nil {
		return err
	}
	logger.Info("stream written",
		"name", name,
		"output", outputPath,
		"image_size", stats.ImageBytes,
		"stream_size", stats.FrameBytes,
		"chunks", stats.Chunks,
	)

	report := env.stdout
	if outputPath == "-" {
		report = env.stderr
	}
	printPackStats(report, name, stats)
	return nil
}

// writeStreamFile writes the stream to path, or to stdout for "-".
// A partially written file is removed.
func writeStreamFile(path string, stdout io.Writer, image []byte, options source.StreamOptions) (source.StreamStats, error) {
	if path == "-" {
		return source.WriteStream(stdout, image, options)
	}

	file, err := os.Create(path)
	if err != nil {
		return source.StreamStats{}, err
	}
	stats, writeErr := source.WriteStream(file, image, options)
	closeErr := file.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(path)
		return stats, fmt.Errorf("writing %s: %w", path, err)
	}
	return stats, nil
}

func printPackStats(w io.Writer, name string, stats source.StreamStats) {
	fmt.Fprintf(w, "%s: %d-byte image in %d chunks, %d bytes of frames", name, stats.ImageBytes, stats.Chunks, stats.FrameBytes)
	if stats.ImageBytes > 0 {
		fmt.Fprintf(w, " (%.1f%%)", 100*float64(stats.FrameBytes)/float64(stats.ImageBytes))
	}
	fmt.Fprintln(w)

	tags := make([]compression.Tag, 0, len(stats.ChunksPerTag))
	for tag := range stats.ChunksPerTag {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	for _, tag := range tags {
		fmt.Fprintf(w, "  %-5s %d chunks\n", tag, stats.ChunksPerTag[tag])
	}
	fmt.Fprintf(w, "  largest frame %d bytes, raw buffers must hold %d\n", stats.LargestFrame, stats.RawBufferNeeded)
}
