// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for a workstation with a file-backed flash image.
	Development Environment = "development"
	// Staging is for bench hardware.
	Staging Environment = "staging"
	// Production is for fielded devices.
	Production Environment = "production"
)

// Config is the complete dals configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Flash         FlashConfig         `yaml:"flash"`
	Chunks        ChunksConfig        `yaml:"chunks"`
	Verification  VerificationConfig  `yaml:"verification"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Logging       LoggingConfig       `yaml:"logging"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// FlashConfig describes the flash device and the region images are
// loaded into.
type FlashConfig struct {
	// Device is the path of the file standing in for flash.
	Device string `yaml:"device"`

	// DeviceSize is the device size in bytes. A new device file is
	// created at this size.
	DeviceSize int64 `yaml:"device_size"`

	// RegionBase is the offset of the application region.
	RegionBase int `yaml:"region_base"`

	// RegionSize is the application region length.
	RegionSize int `yaml:"region_size"`

	// Sync makes every write durable before it is acknowledged.
	Sync bool `yaml:"sync"`
}

// ChunksConfig sizes the transfer buffers.
type ChunksConfig struct {
	// Size is the decompressed chunk size. Streams written by
	// dals pack use it; the decompressor's output buffers are this
	// large.
	Size int `yaml:"size"`

	// RawBuffers is the number of raw chunk buffers the data source
	// owns.
	RawBuffers int `yaml:"raw_buffers"`

	// DecompressedBuffers is the number of decompressor output
	// buffers.
	DecompressedBuffers int `yaml:"decompressed_buffers"`
}

// VerificationConfig restricts image digests.
type VerificationConfig struct {
	// Accepted lists digest algorithms ("blake3", "sha256"). Empty
	// accepts all.
	Accepted []string `yaml:"accepted"`
}

// AuthorizationConfig configures the run policy. PolicyFile, when
// set, is loaded and its lists are extended by Allow and Deny.
type AuthorizationConfig struct {
	PolicyFile string   `yaml:"policy_file"`
	Allow      []string `yaml:"allow"`
	Deny       []string `yaml:"deny"`
	MaxRAM     uint32   `yaml:"max_ram"`

	// Synchronous decides before AuthorizeData returns.
	Synchronous bool `yaml:"synchronous"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// Overrides holds the fields an environment section may change.
// Pointer fields distinguish "unset" from a zero value.
type Overrides struct {
	Flash         *FlashOverrides         `yaml:"flash,omitempty"`
	Authorization *AuthorizationOverrides `yaml:"authorization,omitempty"`
	Logging       *LoggingConfig          `yaml:"logging,omitempty"`
}

// FlashOverrides is the overridable subset of FlashConfig.
type FlashOverrides struct {
	Device string `yaml:"device,omitempty"`
	Sync   *bool  `yaml:"sync,omitempty"`
}

// AuthorizationOverrides is the overridable subset of
// AuthorizationConfig.
type AuthorizationOverrides struct {
	PolicyFile  string `yaml:"policy_file,omitempty"`
	Synchronous *bool  `yaml:"synchronous,omitempty"`
}

// Default returns the development configuration used as the base
// before a file is merged in.
func Default() *Config {
	return &Config{
		Environment: Development,
		Flash: FlashConfig{
			Device:     filepath.Join("${DALS_STATE:-${HOME}/.cache/dals}", "flash.img"),
			DeviceSize: 1 << 20,
			RegionBase: 64 << 10,
			RegionSize: 512 << 10,
		},
		Chunks: ChunksConfig{
			Size:                4096,
			RawBuffers:          2,
			DecompressedBuffers: 2,
		},
		Verification: VerificationConfig{
			Accepted: []string{"blake3", "sha256"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from the file named by DALS_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("DALS_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("DALS_CONFIG environment variable not set; " +
			"set it to the path of your dals.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.ExpandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			sync := true
			overrides = &Overrides{Flash: &FlashOverrides{Sync: &sync}}
		}
	}

	if overrides == nil {
		return
	}

	if flash := overrides.Flash; flash != nil {
		if flash.Device != "" {
			c.Flash.Device = flash.Device
		}
		if flash.Sync != nil {
			c.Flash.Sync = *flash.Sync
		}
	}

	if authorization := overrides.Authorization; authorization != nil {
		if authorization.PolicyFile != "" {
			c.Authorization.PolicyFile = authorization.PolicyFile
		}
		if authorization.Synchronous != nil {
			c.Authorization.Synchronous = *authorization.Synchronous
		}
	}

	if logging := overrides.Logging; logging != nil {
		if logging.Level != "" {
			c.Logging.Level = logging.Level
		}
		if logging.Format != "" {
			c.Logging.Format = logging.Format
		}
	}
}

// ExpandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields. LoadFile calls it; callers starting from Default call it
// themselves.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Flash.Device = expandVars(c.Flash.Device, vars)
	c.Authorization.PolicyFile = expandVars(c.Authorization.PolicyFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-((?:[^{}]|\$\{[^}]*\})*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. A default may itself
// contain one level of ${VAR}.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		if defaultValue != "" {
			return expandVars(defaultValue, vars)
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Flash.Device == "" {
		errs = append(errs, errors.New("flash.device is required"))
	}
	if c.Flash.DeviceSize <= 0 {
		errs = append(errs, fmt.Errorf("flash.device_size must be positive, got %d", c.Flash.DeviceSize))
	}
	if c.Flash.RegionBase < 0 {
		errs = append(errs, fmt.Errorf("flash.region_base must not be negative, got %d", c.Flash.RegionBase))
	}
	if c.Flash.RegionSize <= 0 {
		errs = append(errs, fmt.Errorf("flash.region_size must be positive, got %d", c.Flash.RegionSize))
	}
	if int64(c.Flash.RegionBase)+int64(c.Flash.RegionSize) > c.Flash.DeviceSize {
		errs = append(errs, fmt.Errorf("flash region [%d, %d) extends past the %d-byte device",
			c.Flash.RegionBase, c.Flash.RegionBase+c.Flash.RegionSize, c.Flash.DeviceSize))
	}

	if c.Chunks.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunks.size must be positive, got %d", c.Chunks.Size))
	}
	if c.Chunks.RawBuffers < 1 {
		errs = append(errs, fmt.Errorf("chunks.raw_buffers must be at least 1, got %d", c.Chunks.RawBuffers))
	}
	if c.Chunks.DecompressedBuffers < 1 {
		errs = append(errs, fmt.Errorf("chunks.decompressed_buffers must be at least 1, got %d", c.Chunks.DecompressedBuffers))
	}

	algorithms := []string{"blake3", "sha256"}
	for _, name := range c.Verification.Accepted {
		if !slices.Contains(algorithms, name) {
			errs = append(errs, fmt.Errorf("verification.accepted: unknown algorithm %q (want one of %v)", name, algorithms))
		}
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// EnsureDeviceDir creates the directory holding the flash device file.
func (c *Config) EnsureDeviceDir() error {
	dir := filepath.Dir(c.Flash.Device)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
