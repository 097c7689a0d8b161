// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the phrasepack setup
// tool, with sensible defaults and validation.
//
// Configuration is read from setup.toml resolved through the asset locator;
// every field has a built-in default so a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/phrasepack/internal/assets"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete setup configuration.
type Config struct {
	// InstallDir is the target installation directory.
	InstallDir string `toml:"install_dir"`

	// StopWaitSecs bounds how long the orchestrator waits for a worker to
	// stop after a cancel or stage transition before discarding it.
	StopWaitSecs int `toml:"stop_wait_secs"`

	Runtime   RuntimeConfig   `toml:"runtime"`
	Bootstrap BootstrapConfig `toml:"bootstrap"`
	Packages  PackagesConfig  `toml:"packages"`
	Models    ModelsConfig    `toml:"models"`
}

// RuntimeConfig describes the embedded Python runtime.
type RuntimeConfig struct {
	// Archives maps "goos/goarch" to the asset name of the runtime archive.
	Archives map[string]string `toml:"archives"`

	// ExtractDir is the subdirectory of InstallDir the archive is unpacked
	// into.
	ExtractDir string `toml:"extract_dir"`

	// InterpreterCandidates are relative paths inside the extracted tree
	// checked in order for the runtime executable.
	InterpreterCandidates []string `toml:"interpreter_candidates"`

	// LibDir is the library directory relative to the extracted tree, used
	// for child-process library-path isolation.
	LibDir string `toml:"lib_dir"`
}

// BootstrapConfig describes the pip bootstrap.
type BootstrapConfig struct {
	// URL is where get-pip.py is downloaded from when pip is missing.
	URL string `toml:"url"`
}

// PackagesConfig describes dependency installation.
type PackagesConfig struct {
	// BuildTools are installed before the manifest (baseline tooling).
	BuildTools []string `toml:"build_tools"`

	// Manifest is the asset name of the dependency manifest file.
	Manifest string `toml:"manifest"`
}

// ModelsConfig describes the external model-installation command.
type ModelsConfig struct {
	// Args are passed to the provisioned interpreter to run the model setup
	// tool (e.g. ["-m", "phrasepack_models", "setup"]).
	Args []string `toml:"args"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// ConfigFileName is the optional override file resolved via the locator.
const ConfigFileName = "setup.toml"

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		InstallDir:   filepath.Join(home, ".phrasepack"),
		StopWaitSecs: 3,
		Runtime: RuntimeConfig{
			Archives: map[string]string{
				"linux/amd64":   "python-runtime-linux-x86_64.tar.gz",
				"linux/arm64":   "python-runtime-linux-aarch64.tar.gz",
				"darwin/amd64":  "python-runtime-macos-x86_64.tar.gz",
				"darwin/arm64":  "python-runtime-macos-arm64.tar.gz",
				"windows/amd64": "python-runtime-windows-x86_64.zip",
			},
			ExtractDir: "runtime",
			InterpreterCandidates: []string{
				filepath.Join("python", "bin", "python3"),
				filepath.Join("python", "bin", "python"),
				filepath.Join("bin", "python3"),
				filepath.Join("bin", "python"),
				filepath.Join("python", "python.exe"),
				"python.exe",
			},
			LibDir: filepath.Join("python", "lib"),
		},
		Bootstrap: BootstrapConfig{
			URL: "https://bootstrap.pypa.io/get-pip.py",
		},
		Packages: PackagesConfig{
			BuildTools: []string{"setuptools", "wheel"},
			Manifest:   "requirements.txt",
		},
		Models: ModelsConfig{
			Args: []string{"-m", "phrasepack_models", "setup"},
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load returns the defaults overlaid with setup.toml if the locator finds
// one. A malformed file is an error; a missing file is not.
func Load(locator *assets.Locator) (*Config, error) {
	cfg := Default()

	path, ok := locator.Locate(ConfigFileName)
	if !ok {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.validate()
	return cfg, nil
}

// validate clamps out-of-range values rather than failing.
func (c *Config) validate() {
	if c.StopWaitSecs < 1 {
		c.StopWaitSecs = 1
	}
	if c.StopWaitSecs > 30 {
		c.StopWaitSecs = 30
	}
	if c.Runtime.ExtractDir == "" {
		c.Runtime.ExtractDir = "runtime"
	}
	if len(c.Runtime.InterpreterCandidates) == 0 {
		c.Runtime.InterpreterCandidates = Default().Runtime.InterpreterCandidates
	}
	if c.Packages.Manifest == "" {
		c.Packages.Manifest = "requirements.txt"
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// ArchiveName returns the runtime archive asset name for the host platform.
// The second return is false when the platform has no packaged runtime.
func (c *Config) ArchiveName() (string, bool) {
	key := runtime.GOOS + "/" + runtime.GOARCH
	name, ok := c.Runtime.Archives[key]
	return name, ok
}

// ExtractPath returns the absolute extraction directory.
func (c *Config) ExtractPath() string {
	return filepath.Join(c.InstallDir, c.Runtime.ExtractDir)
}

// RuntimeLibPath returns the absolute library directory of the provisioned
// runtime.
func (c *Config) RuntimeLibPath() string {
	return filepath.Join(c.ExtractPath(), c.Runtime.LibDir)
}

// StopWait returns the bounded worker-stop timeout as a duration.
func (c *Config) StopWait() time.Duration {
	return time.Duration(c.StopWaitSecs) * time.Second
}
