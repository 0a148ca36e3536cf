// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/dals/lib/appimage"
	"github.com/bureau-foundation/dals/lib/codec"
	"github.com/bureau-foundation/dals/lib/deferred"
	"github.com/bureau-foundation/dals/lib/flash"
	"github.com/bureau-foundation/dals/lib/verify"
)

const inspectUsage = "inspect [flags]"

// errRegionErased is returned by inspect when the region holds no
// image.
var errRegionErased = errors.New("flash region is erased")

func runInspect(_ context.Context, env *environment, args []string) error {
	var (
		common   commonFlags
		diagnose bool
	)
	flagSet := newFlagSet("inspect", &common)
	flagSet.BoolVar(&diagnose, "diagnose", false, "also print the raw metadata in CBOR diagnostic notation")

	if done, err := parseFlags(flagSet, env, inspectUsage, args); done || err != nil {
		return err
	}
	if flagSet.NArg() != 0 {
		return fmt.Errorf("usage: dals %s", inspectUsage)
	}

	cfg, err := loadConfig(common.configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, env.stderr)
	if err != nil {
		return err
	}

	device, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer device.Close()

	base := cfg.Flash.RegionBase
	header, err := readRegionHeader(device, base)
	if err != nil {
		return err
	}
	length := int(header.TotalSize)
	if length > cfg.Flash.RegionSize {
		return fmt.Errorf("image claims %d bytes, region holds %d", length, cfg.Flash.RegionSize)
	}

	image, err := appimage.Read(device, base, length)
	if err != nil {
		return err
	}
	printImage(env.stdout, image)

	if diagnose {
		metadata := make([]byte, image.Header.BodyOffset()-appimage.FixedHeaderSize)
		if _, err := device.ReadAt(metadata, int64(base+appimage.FixedHeaderSize)); err != nil {
			return fmt.Errorf("reading metadata: %w", err)
		}
		notation, err := codec.Diagnose(metadata)
		if err != nil {
			return fmt.Errorf("diagnosing metadata: %w", err)
		}
		fmt.Fprintf(env.stdout, "  diagnostic: %s\n", notation)
	}

	accepted, err := acceptedAlgorithms(cfg.Verification)
	if err != nil {
		return err
	}
	_, verifyErr := verify.Check(device, base, length, accepted)
	if verifyErr != nil {
		fmt.Fprintf(env.stdout, "verification: FAILED (%v)\n", verifyErr)
	} else {
		fmt.Fprintf(env.stdout, "verification: ok\n")
	}

	authorizer, err := newAuthorizer(cfg.Authorization, device, deferred.Immediate{}, logger)
	if err != nil {
		return err
	}
	if err := authorizer.Evaluate(base, length); err != nil {
		fmt.Fprintf(env.stdout, "authorization: denied (%v)\n", err)
	} else {
		fmt.Fprintf(env.stdout, "authorization: allowed\n")
	}

	return verifyErr
}

// readRegionHeader reads the fixed image header at base.
func readRegionHeader(device flash.Device, base int) (appimage.Header, error) {
	buffer := make([]byte, appimage.FixedHeaderSize)
	if _, err := device.ReadAt(buffer, int64(base)); err != nil && !errors.Is(err, io.EOF) {
		return appimage.Header{}, fmt.Errorf("reading image header: %w", err)
	}
	if bytes.Count(buffer, []byte{flash.Erased}) == len(buffer) {
		return appimage.Header{}, fmt.Errorf("%w at offset 0x%x", errRegionErased, base)
	}
	return appimage.ParseHeader(buffer)
}

func printImage(w io.Writer, image *appimage.Image) {
	fmt.Fprintf(w, "image at 0x%x\n", image.Base)
	fmt.Fprintf(w, "  name:       %s\n", image.Metadata.Name)
	if image.Metadata.Version != "" {
		fmt.Fprintf(w, "  version:    %s\n", image.Metadata.Version)
	}
	if image.Metadata.MinimumRAM > 0 {
		fmt.Fprintf(w, "  min ram:    %d bytes\n", image.Metadata.MinimumRAM)
	}
	fmt.Fprintf(w, "  format:     %d\n", image.Header.Version)
	fmt.Fprintf(w, "  total size: %d bytes\n", image.Header.TotalSize)
	fmt.Fprintf(w, "  body:       %d bytes at +%d\n", image.Header.BodySize(), image.Header.BodyOffset())
	fmt.Fprintf(w, "  digest:     %s %x\n", image.Footer.Algorithm, image.Footer.Digest)
}
