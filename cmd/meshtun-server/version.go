// Copyright (c) 2025 The FileZap developers

package main

import "fmt"

const (
	// appMajor is the application major version
	appMajor = 0

	// appMinor is the application minor version
	appMinor = 1

	// appPatch is the application patch version
	appPatch = 0
)

// versionString returns the version as major.minor.patch
func versionString() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}
