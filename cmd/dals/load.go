// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/dals/lib/appimage"
	"github.com/bureau-foundation/dals/lib/apploader"
	"github.com/bureau-foundation/dals/lib/authorize"
	"github.com/bureau-foundation/dals/lib/compression"
	"github.com/bureau-foundation/dals/lib/config"
	"github.com/bureau-foundation/dals/lib/deferred"
	"github.com/bureau-foundation/dals/lib/flash"
	"github.com/bureau-foundation/dals/lib/source"
	"github.com/bureau-foundation/dals/lib/verify"
)

const loadUsage = "load [flags] [STREAM]"

func runLoad(ctx context.Context, env *environment, args []string) error {
	var (
		common  commonFlags
		noErase bool
	)
	flagSet := newFlagSet("load", &common)
	flagSet.BoolVar(&noErase, "no-erase", false, "write over the region without erasing it first")

	if done, err := parseFlags(flagSet, env, loadUsage, args); done || err != nil {
		return err
	}
	if flagSet.NArg() > 1 {
		return fmt.Errorf("usage: dals %s", loadUsage)
	}

	cfg, err := loadConfig(common.configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, env.stderr)
	if err != nil {
		return err
	}

	input := env.stdin
	if path := flagSet.Arg(0); path != "" && path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		input = file
	}

	device, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer device.Close()

	if !noErase {
		if err := device.Erase(int64(cfg.Flash.RegionBase), int64(cfg.Flash.RegionSize)); err != nil {
			return fmt.Errorf("erasing flash region: %w", err)
		}
	}

	var onProgress func(source.Progress)
	if isTerminal(env.stderr) {
		onProgress = func(progress source.Progress) {
			fmt.Fprintf(env.stderr, "\r%d chunks, %d stream bytes", progress.Chunks, progress.RawBytes)
		}
	}
	queue := deferred.NewQueue()
	pipeline, err := newPipeline(cfg, device, queue, onProgress, logger)
	if err != nil {
		return err
	}

	queueCtx, stopQueue := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		queue.Run(queueCtx)
	}()
	result, err := pipeline.source.Run(ctx, input)
	stopQueue()
	<-stopped

	if isTerminal(env.stderr) {
		fmt.Fprintln(env.stderr)
	}
	if err != nil {
		if status := pipeline.loader.Status(); status.Active {
			logger.Warn("session left unfinished",
				"state", status.State.String(),
				"bytes_written", status.BytesWritten,
				"declared_size", status.DeclaredSize,
			)
		}
		return fmt.Errorf("load failed: %w", err)
	}

	fmt.Fprintf(env.stdout, "loaded %d bytes at 0x%x in %d chunks (%s)\n",
		result.Size, result.BaseAddress, result.Chunks, result.Duration)
	return nil
}

// pipeline is the loader with all four collaborators and a data
// source, built from configuration over one device.
type pipeline struct {
	loader *apploader.Loader
	source *source.Source
}

func newPipeline(cfg *config.Config, device flash.Device, scheduler deferred.Scheduler, onProgress func(source.Progress), logger *slog.Logger) (*pipeline, error) {
	decompressor, err := compression.NewDecompressor(compression.DecompressorConfig{
		BufferSize: cfg.Chunks.Size,
		Buffers:    cfg.Chunks.DecompressedBuffers,
		Scheduler:  scheduler,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	storage, err := flash.NewStorage(flash.StorageConfig{
		Device:    device,
		Sync:      cfg.Flash.Sync,
		Scheduler: scheduler,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	accepted, err := acceptedAlgorithms(cfg.Verification)
	if err != nil {
		return nil, err
	}
	verifier, err := verify.New(verify.Config{
		Device:    device,
		Accepted:  accepted,
		Scheduler: scheduler,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	authorizer, err := newAuthorizer(cfg.Authorization, device, scheduler, logger)
	if err != nil {
		return nil, err
	}

	loader, err := apploader.New(apploader.Config{
		Decompressor: decompressor,
		Storage:      storage,
		Verifier:     verifier,
		Authorizer:   authorizer,
		BaseAddress:  cfg.Flash.RegionBase,
		RegionSize:   cfg.Flash.RegionSize,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	src, err := source.New(source.Config{
		Loader:     loader,
		BufferSize: source.RawBufferSize(cfg.Chunks.Size),
		Buffers:    cfg.Chunks.RawBuffers,
		OnProgress: onProgress,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	loader.SetClient(src)

	return &pipeline{loader: loader, source: src}, nil
}

// policyFromConfig loads the policy file, if any, and extends it with
// the inline lists. A nonzero inline max_ram replaces the file's.
func policyFromConfig(authorization config.AuthorizationConfig) (authorize.Policy, error) {
	var policy authorize.Policy
	if authorization.PolicyFile != "" {
		loaded, err := authorize.LoadPolicy(authorization.PolicyFile)
		if err != nil {
			return authorize.Policy{}, err
		}
		policy = loaded
	}
	policy.Allow = append(policy.Allow, authorization.Allow...)
	policy.Deny = append(policy.Deny, authorization.Deny...)
	if authorization.MaxRAM > 0 {
		policy.MaxRAM = authorization.MaxRAM
	}
	return policy, nil
}

func newAuthorizer(authorization config.AuthorizationConfig, device flash.Device, scheduler deferred.Scheduler, logger *slog.Logger) (*authorize.Authorizer, error) {
	policy, err := policyFromConfig(authorization)
	if err != nil {
		return nil, err
	}
	return authorize.New(authorize.Config{
		Device:      device,
		Policy:      policy,
		Synchronous: authorization.Synchronous,
		Scheduler:   scheduler,
		Logger:      logger,
	})
}

func acceptedAlgorithms(verification config.VerificationConfig) ([]appimage.Algorithm, error) {
	accepted := make([]appimage.Algorithm, 0, len(verification.Accepted))
	for _, name := range verification.Accepted {
		algorithm, err := appimage.ParseAlgorithm(name)
		if err != nil {
			return nil, err
		}
		accepted = append(accepted, algorithm)
	}
	return accepted, nil
}

func openDevice(cfg *config.Config) (*flash.FileDevice, error) {
	if err := cfg.EnsureDeviceDir(); err != nil {
		return nil, err
	}
	return flash.OpenFileDevice(cfg.Flash.Device, cfg.Flash.DeviceSize)
}

// isTerminal reports whether w is a terminal, for progress output.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
