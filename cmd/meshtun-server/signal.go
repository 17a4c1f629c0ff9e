// Copyright (c) 2025 The FileZap developers

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// interruptSignal returns a channel that is closed on the first SIGINT or
// SIGTERM.
func interruptSignal() <-chan struct{} {
	c := make(chan struct{})
	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interruptChan
		signal.Stop(interruptChan)
		close(c)
	}()
	return c
}
