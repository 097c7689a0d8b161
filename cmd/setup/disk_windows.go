// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package main

import (
	"golang.org/x/sys/windows"
)

// getFreeDiskSpace returns the free disk space in bytes for the given path on Windows
func getFreeDiskSpace(path string) (uint64, error) {
	var freeBytesAvailable uint64

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}

	err = windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, nil, nil)
	if err != nil {
		return 0, err
	}

	return freeBytesAvailable, nil
}
