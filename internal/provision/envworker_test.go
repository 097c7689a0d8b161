// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/phrasepack/internal/assets"
	"github.com/jeranaias/phrasepack/internal/config"
	"github.com/jeranaias/phrasepack/internal/procutil"
)

// =============================================================================
// FIXTURES
// =============================================================================

// writeRuntimeArchive builds a minimal runtime tarball with an executable
// interpreter at bin/python3.
func writeRuntimeArchive(t *testing.T, path string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "bin/",
		Typeflag: tar.TypeDir,
		Mode:     0755,
	}))

	script := []byte("#!/bin/sh\nexit 0\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "bin/python3",
		Typeflag: tar.TypeReg,
		Mode:     0755,
		Size:     int64(len(script)),
	}))
	_, err = tw.Write(script)
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

// envFixture is a ready-to-run worker over temp directories, with a scripted
// subprocess layer.
type envFixture struct {
	cfg      *config.Config
	assets   string
	worker   *EnvironmentWorker
	commands []procutil.Spec
}

// newEnvFixture stages an assets directory holding the runtime archive and a
// dependency manifest, and wires a worker whose subprocess calls are handled
// by handle (nil means "everything exits 0").
func newEnvFixture(t *testing.T, handle func(spec procutil.Spec) procutil.Result) *envFixture {
	t.Helper()

	assetsDir := t.TempDir()
	archiveName := "python-runtime-test.tar.gz"
	writeRuntimeArchive(t, filepath.Join(assetsDir, archiveName))
	require.NoError(t, os.WriteFile(filepath.Join(assetsDir, "requirements.txt"), []byte("spacy==3.7.4\nbenepar==0.2.0\n"), 0644))

	cfg := config.Default()
	cfg.InstallDir = filepath.Join(t.TempDir(), "install")
	cfg.Runtime.Archives = map[string]string{
		runtime.GOOS + "/" + runtime.GOARCH: archiveName,
	}

	fx := &envFixture{cfg: cfg, assets: assetsDir}
	fx.worker = NewEnvironmentWorker(cfg, assets.NewLocatorWithRoots(assetsDir), NewEmitter(1024))
	fx.worker.run = func(ctx context.Context, spec procutil.Spec) procutil.Result {
		fx.commands = append(fx.commands, spec)
		if handle != nil {
			return handle(spec)
		}
		return procutil.Result{ExitCode: 0, State: procutil.StateExited}
	}
	fx.worker.fetch = func(ctx context.Context, url, dest string) error {
		t.Fatalf("unexpected download of %s", url)
		return nil
	}
	return fx
}

func isPipCheck(spec procutil.Spec) bool {
	return len(spec.Args) == 3 && spec.Args[0] == "-m" && spec.Args[1] == "pip" && spec.Args[2] == "--version"
}

// =============================================================================
// TESTS
// =============================================================================

func TestEnvironmentWorkerHappyPath(t *testing.T) {
	fx := newEnvFixture(t, nil)

	res := fx.worker.Run(context.Background())
	require.True(t, res.Success, "unexpected failure: %s", res.Err)

	// Artifact is the interpreter inside the extracted tree, and it exists.
	require.Equal(t, filepath.Join(fx.cfg.ExtractPath(), "bin", "python3"), res.Artifact)
	info, err := os.Stat(res.Artifact)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		require.NotZero(t, info.Mode()&0111, "interpreter must be executable")
	}

	for _, task := range fx.worker.Tasks().Snapshot() {
		require.Equal(t, StatusCompleted, task.Status, "task %s", task.ID)
	}

	// pip worked on the first probe, so no bootstrap run happened: the only
	// calls are the probe and the two installs.
	require.Len(t, fx.commands, 3)
	require.True(t, isPipCheck(fx.commands[0]))
	require.Equal(t, []string{"-m", "pip", "install", "setuptools", "wheel"}, fx.commands[1].Args)
	require.Equal(t, "-r", fx.commands[2].Args[3])
}

func TestEnvironmentWorkerMissingArchive(t *testing.T) {
	fx := newEnvFixture(t, nil)
	require.NoError(t, os.Remove(filepath.Join(fx.assets, "python-runtime-test.tar.gz")))

	res := fx.worker.Run(context.Background())
	require.False(t, res.Success)
	require.Empty(t, res.Artifact, "artifact must be empty on failure")
	require.Contains(t, res.Err, "python-runtime-test.tar.gz")

	requireStatus(t, fx.worker.Tasks(), TaskValidatePath, StatusCompleted)
	requireStatus(t, fx.worker.Tasks(), TaskSetupRuntime, StatusFailed)
	requireStatus(t, fx.worker.Tasks(), TaskInstallPackages, StatusFailed)
}

func TestEnvironmentWorkerBootstrapsMissingPip(t *testing.T) {
	pipWorks := false
	fx := newEnvFixture(t, func(spec procutil.Spec) procutil.Result {
		if isPipCheck(spec) && !pipWorks {
			return procutil.Result{ExitCode: 1, State: procutil.StateExited, Stderr: "No module named pip"}
		}
		if len(spec.Args) == 1 && strings.Contains(spec.Args[0], "get-pip") {
			pipWorks = true
		}
		return procutil.Result{ExitCode: 0, State: procutil.StateExited}
	})

	fetched := ""
	fx.worker.fetch = func(ctx context.Context, url, dest string) error {
		fetched = url
		return os.WriteFile(dest, []byte("# get-pip\n"), 0644)
	}

	res := fx.worker.Run(context.Background())
	require.True(t, res.Success, "unexpected failure: %s", res.Err)
	require.Equal(t, fx.cfg.Bootstrap.URL, fetched)
}

func TestEnvironmentWorkerBootstrapFailure(t *testing.T) {
	fx := newEnvFixture(t, func(spec procutil.Spec) procutil.Result {
		if isPipCheck(spec) {
			return procutil.Result{ExitCode: 1, State: procutil.StateExited, Stderr: "No module named pip"}
		}
		return procutil.Result{ExitCode: 0, State: procutil.StateExited}
	})
	fx.worker.fetch = func(ctx context.Context, url, dest string) error {
		return os.WriteFile(dest, []byte("# get-pip\n"), 0644)
	}

	res := fx.worker.Run(context.Background())
	require.False(t, res.Success)
	require.Contains(t, res.Err, "pip is not usable after bootstrap")
	require.Contains(t, res.Err, "No module named pip")
}

func TestEnvironmentWorkerManifestFailureKeepsStderr(t *testing.T) {
	stderr := "ERROR: Could not find a version that satisfies the requirement spacy==3.7.4"
	fx := newEnvFixture(t, func(spec procutil.Spec) procutil.Result {
		if len(spec.Args) >= 4 && spec.Args[2] == "install" && spec.Args[3] == "-r" {
			return procutil.Result{ExitCode: 1, State: procutil.StateExited, Stderr: stderr}
		}
		return procutil.Result{ExitCode: 0, State: procutil.StateExited}
	})

	res := fx.worker.Run(context.Background())
	require.False(t, res.Success)
	require.Contains(t, res.Err, stderr)

	requireStatus(t, fx.worker.Tasks(), TaskSetupRuntime, StatusCompleted)
	requireStatus(t, fx.worker.Tasks(), TaskInstallPackages, StatusFailed)
}

func TestEnvironmentWorkerMissingManifest(t *testing.T) {
	fx := newEnvFixture(t, nil)
	require.NoError(t, os.Remove(filepath.Join(fx.assets, "requirements.txt")))

	res := fx.worker.Run(context.Background())
	require.False(t, res.Success)
	require.Contains(t, res.Err, "requirements.txt")
}

func TestEnvironmentWorkerUnwritableInstallDir(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission probe needs a non-root unix user")
	}

	fx := newEnvFixture(t, nil)
	parent := t.TempDir()
	require.NoError(t, os.Chmod(parent, 0555))
	t.Cleanup(func() { os.Chmod(parent, 0755) })
	fx.cfg.InstallDir = filepath.Join(parent, "install")

	res := fx.worker.Run(context.Background())
	require.False(t, res.Success)
	require.Contains(t, res.Err, "not usable")
}
