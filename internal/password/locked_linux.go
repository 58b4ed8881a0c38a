// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-softtoken.
//
// go-softtoken is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

//go:build linux

package password

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocLocked maps an anonymous region outside the Go heap, locks it into
// RAM and excludes it from core dumps.
func allocLocked(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("password: mmap failed: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("password: mlock failed: %w", err)
	}
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		_ = unix.Munlock(data)
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("password: madvise(MADV_DONTDUMP) failed: %w", err)
	}
	return data, nil
}

// releaseLocked unlocks and unmaps a region returned by allocLocked. The
// caller zeroes it first.
func releaseLocked(data []byte) error {
	var firstErr error
	if err := unix.Munlock(data); err != nil {
		firstErr = fmt.Errorf("password: munlock failed: %w", err)
	}
	if err := unix.Munmap(data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("password: munmap failed: %w", err)
	}
	return firstErr
}
