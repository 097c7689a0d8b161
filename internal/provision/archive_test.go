// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExtractTarGzPreservesModeAndSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink fixture needs unix semantics")
	}

	src := filepath.Join(t.TempDir(), "rt.tar.gz")
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	writeEntry := func(h *tar.Header, body []byte) {
		t.Helper()
		if err := tw.WriteHeader(h); err != nil {
			t.Fatal(err)
		}
		if len(body) > 0 {
			if _, err := tw.Write(body); err != nil {
				t.Fatal(err)
			}
		}
	}

	writeEntry(&tar.Header{Name: "bin/", Typeflag: tar.TypeDir, Mode: 0755}, nil)
	body := []byte("#!/bin/sh\nexit 0\n")
	writeEntry(&tar.Header{Name: "bin/python3.11", Typeflag: tar.TypeReg, Mode: 0755, Size: int64(len(body))}, body)
	writeEntry(&tar.Header{Name: "bin/python3", Typeflag: tar.TypeSymlink, Linkname: "python3.11"}, nil)
	note := []byte("3.11.9\n")
	writeEntry(&tar.Header{Name: "VERSION", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(note))}, note)

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	dest := t.TempDir()
	if err := extractArchive(src, dest); err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dest, "bin", "python3.11"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&0111 == 0 {
		t.Error("executable bit lost in extraction")
	}

	link, err := os.Readlink(filepath.Join(dest, "bin", "python3"))
	if err != nil {
		t.Fatal(err)
	}
	if link != "python3.11" {
		t.Errorf("symlink target = %q, want python3.11", link)
	}

	data, err := os.ReadFile(filepath.Join(dest, "VERSION"))
	if err != nil || string(data) != "3.11.9\n" {
		t.Errorf("regular file content wrong: %q err=%v", data, err)
	}
}

func TestExtractZip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "rt.zip")
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)

	w, err := zw.Create("python/python.exe")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("MZ")); err != nil {
		t.Fatal(err)
	}

	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	dest := t.TempDir()
	if err := extractArchive(src, dest); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "python", "python.exe")); err != nil {
		t.Error("zip entry missing after extraction")
	}
}

func TestExtractRejectsUnknownFormat(t *testing.T) {
	src := filepath.Join(t.TempDir(), "rt.rar")
	if err := os.WriteFile(src, []byte("Rar!"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := extractArchive(src, t.TempDir()); err == nil {
		t.Error("unknown archive format must be rejected")
	}
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	dest := t.TempDir()

	if _, err := safeJoin(dest, "../outside.txt"); err == nil {
		t.Error("parent traversal must be rejected")
	}
	if _, err := safeJoin(dest, "a/../../outside.txt"); err == nil {
		t.Error("nested traversal must be rejected")
	}
	if _, err := safeJoin(dest, "bin/python3"); err != nil {
		t.Errorf("plain entry rejected: %v", err)
	}
}

func TestExtractTarGzRejectsTraversalEntry(t *testing.T) {
	src := filepath.Join(t.TempDir(), "evil.tar.gz")
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	body := []byte("owned")
	if err := tw.WriteHeader(&tar.Header{Name: "../escape.txt", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(body))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gz.Close()
	f.Close()

	parent := t.TempDir()
	dest := filepath.Join(parent, "dest")
	if err := os.MkdirAll(dest, 0755); err != nil {
		t.Fatal(err)
	}

	if err := extractArchive(src, dest); err == nil {
		t.Fatal("traversal entry must abort extraction")
	}
	if _, err := os.Stat(filepath.Join(parent, "escape.txt")); err == nil {
		t.Error("traversal entry escaped the destination")
	}
}
