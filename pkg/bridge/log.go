// Copyright (c) 2025 The FileZap developers

package bridge

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-level logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}
