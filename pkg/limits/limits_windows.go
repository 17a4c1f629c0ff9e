// Copyright (c) 2025 The FileZap developers

// Package limits raises process resource limits at daemon startup.
package limits

import "fmt"

// SetLimits is a no-op on Windows.
func SetLimits() error {
	return nil
}

// FileDescriptorLimit is not supported on Windows.
func FileDescriptorLimit() (uint64, uint64, error) {
	return 0, 0, fmt.Errorf("not supported on Windows")
}
