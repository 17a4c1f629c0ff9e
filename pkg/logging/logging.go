// Copyright (c) 2025 The FileZap developers

// Package logging provides subsystem loggers shared by the meshtun daemons.
//
// Every package that logs keeps a package-level logger and exposes a
// UseLogger function. The daemon creates one Backend, hands each package
// its subsystem logger and then applies the configured levels.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultLevel is used for every subsystem until SetLevels is called.
	DefaultLevel = "info"

	// maxLogFileKB is the size at which the log file is rolled.
	maxLogFileKB = 10 * 1024

	// maxLogRolls is the number of rolled log files kept.
	maxLogRolls = 3
)

// Backend handles the creation and management of subsystem loggers. All
// output goes to stdout and, once InitRotator succeeds, to a rotated file.
type Backend struct {
	backend *btclog.Backend
	stdout  io.Writer

	mu      sync.Mutex
	rotator *rotator.Rotator
	loggers map[string]btclog.Logger
}

// NewBackend creates a new logging backend that writes to standard output.
func NewBackend() *Backend {
	return newBackend(os.Stdout)
}

func newBackend(w io.Writer) *Backend {
	b := &Backend{
		stdout:  w,
		loggers: make(map[string]btclog.Logger),
	}
	b.backend = btclog.NewBackend(b)
	return b
}

// Write implements io.Writer for the underlying btclog backend.
func (b *Backend) Write(p []byte) (int, error) {
	b.stdout.Write(p)

	b.mu.Lock()
	r := b.rotator
	b.mu.Unlock()
	if r != nil {
		r.Write(p)
	}
	return len(p), nil
}

// InitRotator starts mirroring log output into logFile. The directory is
// created if needed.
func (b *Backend) InitRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	r, err := rotator.New(logFile, maxLogFileKB, false, maxLogRolls)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	b.mu.Lock()
	b.rotator = r
	b.mu.Unlock()
	return nil
}

// Logger returns the logger for a subsystem, creating it on first use.
func (b *Backend) Logger(subsystem string) btclog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()

	if logger, exists := b.loggers[subsystem]; exists {
		return logger
	}

	logger := b.backend.Logger(subsystem)
	lvl, _ := btclog.LevelFromString(DefaultLevel)
	logger.SetLevel(lvl)
	b.loggers[subsystem] = logger
	return logger
}

// Subsystems returns the tags of all loggers created so far, sorted.
func (b *Backend) Subsystems() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	subsystems := make([]string, 0, len(b.loggers))
	for tag := range b.loggers {
		subsystems = append(subsystems, tag)
	}
	sort.Strings(subsystems)
	return subsystems
}

// SetLevels applies a level spec. The spec is either a single level that
// applies to every subsystem, or a comma separated list of SUBSYS=level
// pairs. A bare level inside a list sets the default for the remaining
// subsystems.
func (b *Backend) SetLevels(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}

	if !strings.Contains(spec, "=") {
		lvl, ok := btclog.LevelFromString(spec)
		if !ok {
			return fmt.Errorf("invalid log level %q", spec)
		}
		b.setAll(lvl)
		return nil
	}

	perSubsystem := make(map[string]btclog.Level)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		fields := strings.SplitN(pair, "=", 2)
		if len(fields) == 1 {
			lvl, ok := btclog.LevelFromString(fields[0])
			if !ok {
				return fmt.Errorf("invalid log level %q", fields[0])
			}
			b.setAll(lvl)
			continue
		}

		tag := strings.TrimSpace(fields[0])
		lvl, ok := btclog.LevelFromString(strings.TrimSpace(fields[1]))
		if !ok {
			return fmt.Errorf("invalid log level %q for subsystem %s",
				fields[1], tag)
		}
		perSubsystem[tag] = lvl
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for tag, lvl := range perSubsystem {
		logger, exists := b.loggers[tag]
		if !exists {
			return fmt.Errorf("unknown subsystem %q", tag)
		}
		logger.SetLevel(lvl)
	}
	return nil
}

func (b *Backend) setAll(lvl btclog.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, logger := range b.loggers {
		logger.SetLevel(lvl)
	}
}

// Close stops writing to the log file, if one was opened.
func (b *Backend) Close() error {
	b.mu.Lock()
	r := b.rotator
	b.rotator = nil
	b.mu.Unlock()

	if r == nil {
		return nil
	}
	return r.Close()
}
