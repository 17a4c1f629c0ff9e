// Copyright (c) 2025 The FileZap developers

package main

import (
	"path/filepath"

	"github.com/btcsuite/btclog"

	"github.com/VetheonGames/meshtun/pkg/bridge"
	"github.com/VetheonGames/meshtun/pkg/logging"
	"github.com/VetheonGames/meshtun/pkg/mesh"
	"github.com/VetheonGames/meshtun/pkg/status"
	"github.com/VetheonGames/meshtun/pkg/vpn"
)

const logFilename = "meshtun-server.log"

var (
	logBackend = logging.NewBackend()
	mtunLog    btclog.Logger
)

// setupLogging hands every package its subsystem logger, opens the log
// file when logDir is set and applies levelSpec.
func setupLogging(logDir, levelSpec string) error {
	mtunLog = logBackend.Logger("MTUN")
	vpn.UseLogger(logBackend.Logger("VPN"))
	mesh.UseLogger(logBackend.Logger("MESH"))
	bridge.UseLogger(logBackend.Logger("BRDG"))
	status.UseLogger(logBackend.Logger("STAT"))

	if logDir != "" {
		if err := logBackend.InitRotator(filepath.Join(logDir, logFilename)); err != nil {
			return err
		}
	}
	return logBackend.SetLevels(levelSpec)
}
