// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/phrasepack/internal/assets"
)

func TestDefaultIsComplete(t *testing.T) {
	cfg := Default()

	require.NotEmpty(t, cfg.InstallDir)
	require.Equal(t, 3, cfg.StopWaitSecs)
	require.NotEmpty(t, cfg.Runtime.Archives)
	require.NotEmpty(t, cfg.Runtime.InterpreterCandidates)
	require.Equal(t, "requirements.txt", cfg.Packages.Manifest)
	require.Equal(t, []string{"setuptools", "wheel"}, cfg.Packages.BuildTools)
	require.Equal(t, []string{"-m", "phrasepack_models", "setup"}, cfg.Models.Args)
	require.Contains(t, cfg.Bootstrap.URL, "get-pip.py")
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load(assets.NewLocatorWithRoots(t.TempDir()))
	require.NoError(t, err)
	require.Equal(t, Default().Packages.Manifest, cfg.Packages.Manifest)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
install_dir = "/opt/phrasepack"
stop_wait_secs = 10

[packages]
manifest = "deps.txt"

[bootstrap]
url = "https://mirror.example.com/get-pip.py"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644))

	cfg, err := Load(assets.NewLocatorWithRoots(dir))
	require.NoError(t, err)

	require.Equal(t, "/opt/phrasepack", cfg.InstallDir)
	require.Equal(t, 10, cfg.StopWaitSecs)
	require.Equal(t, "deps.txt", cfg.Packages.Manifest)
	require.Equal(t, "https://mirror.example.com/get-pip.py", cfg.Bootstrap.URL)

	// Untouched sections keep their defaults.
	require.Equal(t, Default().Models.Args, cfg.Models.Args)
}

func TestLoadMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("install_dir = [broken"), 0644))

	_, err := Load(assets.NewLocatorWithRoots(dir))
	require.Error(t, err)
}

func TestValidateClampsStopWait(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{0, 1},
		{-5, 1},
		{1, 1},
		{30, 30},
		{120, 30},
	} {
		cfg := Default()
		cfg.StopWaitSecs = tc.in
		cfg.validate()
		require.Equal(t, tc.want, cfg.StopWaitSecs, "input %d", tc.in)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.InstallDir = filepath.Join("/", "tmp", "pp")

	require.Equal(t, filepath.Join("/", "tmp", "pp", "runtime"), cfg.ExtractPath())
	require.Equal(t, filepath.Join(cfg.ExtractPath(), cfg.Runtime.LibDir), cfg.RuntimeLibPath())
	require.Equal(t, 3*time.Second, cfg.StopWait())
}

func TestArchiveNameUnknownPlatform(t *testing.T) {
	cfg := Default()
	cfg.Runtime.Archives = map[string]string{"plan9/386": "nope.tar.gz"}

	_, ok := cfg.ArchiveName()
	require.False(t, ok)
}
