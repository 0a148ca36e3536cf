// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package verify checks the integrity of an application image after
// it has been written to flash.
package verify

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/dals/lib/appimage"
	"github.com/bureau-foundation/dals/lib/apploader"
	"github.com/bureau-foundation/dals/lib/deferred"
)

var (
	// ErrBusy is returned by VerifyData while a verification is in
	// progress.
	ErrBusy = errors.New("verify: verification in progress")

	// ErrAlgorithmNotAccepted is returned for an image whose footer
	// uses a digest algorithm outside the accepted set.
	ErrAlgorithmNotAccepted = errors.New("verify: digest algorithm not accepted")
)

// Config configures a Verifier.
type Config struct {
	// Device is the flash the loader wrote into.
	Device io.ReaderAt

	// Accepted lists the digest algorithms an image may use. Empty
	// accepts every algorithm appimage implements.
	Accepted []appimage.Algorithm

	// Scheduler runs verifications. Defaults to deferred.Immediate.
	Scheduler deferred.Scheduler

	Logger *slog.Logger
}

// Verifier implements apploader.Verifier by parsing the image at the
// requested range and recomputing its footer digest.
type Verifier struct {
	device    io.ReaderAt
	accepted  []appimage.Algorithm
	scheduler deferred.Scheduler
	logger    *slog.Logger

	mu     sync.Mutex
	client apploader.VerifierClient
	busy   bool
}

var _ apploader.Verifier = (*Verifier)(nil)

// New returns a Verifier reading from config.Device.
func New(config Config) (*Verifier, error) {
	if config.Device == nil {
		return nil, errors.New("verify: device is required")
	}
	for _, algorithm := range config.Accepted {
		if algorithm.Size() == 0 {
			return nil, fmt.Errorf("verify: %w: %q", appimage.ErrUnknownAlgorithm, algorithm)
		}
	}
	if config.Scheduler == nil {
		config.Scheduler = deferred.Immediate{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Verifier{
		device:    config.Device,
		accepted:  slices.Clone(config.Accepted),
		scheduler: config.Scheduler,
		logger:    config.Logger,
	}, nil
}

// SetClient implements apploader.Verifier.
func (v *Verifier) SetClient(client apploader.VerifierClient) {
	v.mu.Lock()
	v.client = client
	v.mu.Unlock()
}

// VerifyData implements apploader.Verifier.
func (v *Verifier) VerifyData(baseAddress, length int) error {
	v.mu.Lock()
	if v.client == nil {
		v.mu.Unlock()
		return errors.New("verify: no client registered")
	}
	if v.busy {
		v.mu.Unlock()
		return ErrBusy
	}
	v.busy = true
	client := v.client
	v.mu.Unlock()

	v.scheduler.Post(func() {
		image, err := Check(v.device, baseAddress, length, v.accepted)

		v.mu.Lock()
		v.busy = false
		v.mu.Unlock()

		if err != nil {
			v.logger.Warn("image verification failed",
				"base", baseAddress,
				"length", length,
				"error", err,
			)
		} else {
			v.logger.Debug("image verified",
				"name", image.Metadata.Name,
				"algorithm", image.Footer.Algorithm,
			)
		}
		client.VerificationComplete(err)
	})
	return nil
}

// Check parses and verifies the image of length bytes at base in
// device. accepted restricts the digest algorithm; empty accepts any.
func Check(device io.ReaderAt, base, length int, accepted []appimage.Algorithm) (*appimage.Image, error) {
	image, err := appimage.Read(device, base, length)
	if err != nil {
		return nil, err
	}
	if len(accepted) > 0 && !slices.Contains(accepted, image.Footer.Algorithm) {
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmNotAccepted, image.Footer.Algorithm)
	}
	if err := image.Verify(device); err != nil {
		return nil, err
	}
	return image, nil
}
