// Copyright (c) 2025 The FileZap developers

//go:build !windows

// Package limits raises process resource limits at daemon startup.
package limits

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	// DefaultMaxFileDescriptors is the soft RLIMIT_NOFILE the daemons ask
	// for. Every overlay peer holds at least one socket and one stream.
	DefaultMaxFileDescriptors = 16384
)

// SetLimits raises the file descriptor limit towards
// DefaultMaxFileDescriptors, capped at the hard limit.
func SetLimits() error {
	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return fmt.Errorf("failed to get file descriptor limit: %w", err)
	}

	if rLimit.Cur >= DefaultMaxFileDescriptors {
		return nil
	}

	rLimit.Cur = DefaultMaxFileDescriptors
	if rLimit.Max < DefaultMaxFileDescriptors {
		rLimit.Cur = rLimit.Max
	}

	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return fmt.Errorf("failed to set file descriptor limit: %w", err)
	}
	return nil
}

// FileDescriptorLimit returns the current and maximum file descriptor limits.
func FileDescriptorLimit() (uint64, uint64, error) {
	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, 0, err
	}
	return uint64(rLimit.Cur), uint64(rLimit.Max), nil
}
