// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/dals/lib/appimage"
	"github.com/bureau-foundation/dals/lib/apploader"
	"github.com/bureau-foundation/dals/lib/deferred"
)

// ErrBusy is returned by AuthorizeData while a decision is pending.
var ErrBusy = errors.New("authorize: decision in progress")

// Config configures an Authorizer.
type Config struct {
	// Device is the flash holding the image.
	Device io.ReaderAt

	Policy Policy

	// Synchronous delivers AuthorizationComplete before AuthorizeData
	// returns, ignoring Scheduler.
	Synchronous bool

	// Scheduler runs decisions when Synchronous is false. Defaults to
	// deferred.Immediate.
	Scheduler deferred.Scheduler

	Logger *slog.Logger
}

// Authorizer implements apploader.Authorizer by reading the image
// metadata from flash and applying a Policy.
type Authorizer struct {
	device    io.ReaderAt
	policy    Policy
	scheduler deferred.Scheduler
	logger    *slog.Logger

	mu     sync.Mutex
	client apploader.AuthorizerClient
	busy   bool
}

var _ apploader.Authorizer = (*Authorizer)(nil)

// New returns an Authorizer. The policy is validated here.
func New(config Config) (*Authorizer, error) {
	if config.Device == nil {
		return nil, errors.New("authorize: device is required")
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, err
	}
	if config.Synchronous || config.Scheduler == nil {
		config.Scheduler = deferred.Immediate{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Authorizer{
		device:    config.Device,
		policy:    config.Policy,
		scheduler: config.Scheduler,
		logger:    config.Logger,
	}, nil
}

// SetClient implements apploader.Authorizer.
func (a *Authorizer) SetClient(client apploader.AuthorizerClient) {
	a.mu.Lock()
	a.client = client
	a.mu.Unlock()
}

// AuthorizeData implements apploader.Authorizer.
func (a *Authorizer) AuthorizeData(baseAddress, length int) error {
	a.mu.Lock()
	if a.client == nil {
		a.mu.Unlock()
		return errors.New("authorize: no client registered")
	}
	if a.busy {
		a.mu.Unlock()
		return ErrBusy
	}
	a.busy = true
	client := a.client
	a.mu.Unlock()

	a.scheduler.Post(func() {
		err := a.Evaluate(baseAddress, length)

		a.mu.Lock()
		a.busy = false
		a.mu.Unlock()

		client.AuthorizationComplete(err)
	})
	return nil
}

// Evaluate reads the image at base and applies the policy, without
// going through the client callback.
func (a *Authorizer) Evaluate(base, length int) error {
	image, err := appimage.Read(a.device, base, length)
	if err != nil {
		a.logger.Warn("authorization: unreadable image", "base", base, "error", err)
		return err
	}
	if err := a.policy.Decide(image.Metadata); err != nil {
		a.logger.Warn("authorization denied",
			"name", image.Metadata.Name,
			"version", image.Metadata.Version,
			"error", err,
		)
		return err
	}
	a.logger.Info("authorization granted",
		"name", image.Metadata.Name,
		"version", image.Metadata.Version,
	)
	return nil
}
