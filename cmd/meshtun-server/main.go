// Copyright (c) 2025 The FileZap developers

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/VetheonGames/meshtun/pkg/bridge"
	"github.com/VetheonGames/meshtun/pkg/config"
	"github.com/VetheonGames/meshtun/pkg/limits"
	"github.com/VetheonGames/meshtun/pkg/mesh"
	"github.com/VetheonGames/meshtun/pkg/registry"
	"github.com/VetheonGames/meshtun/pkg/status"
	"github.com/VetheonGames/meshtun/pkg/vpn"
)

// shutdownTimeout bounds the status server shutdown.
const shutdownTimeout = 5 * time.Second

// serverMain is the real main function for the server daemon.
func serverMain() error {
	cfg, err := config.LoadServerConfig(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			return nil
		}
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	if cfg.ShowVersion {
		fmt.Println("meshtun-server version", versionString())
		return nil
	}

	if err := setupLogging(cfg.LogDir, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return err
	}
	defer logBackend.Close()

	// Get a channel that will be closed when a shutdown signal has been
	// triggered.
	quit := interruptSignal()
	defer mtunLog.Info("Shutdown complete")

	mtunLog.Infof("meshtun-server version %s", versionString())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, err := vpn.Create(vpn.Config{IP: cfg.TunIP, PrefixLen: cfg.TunPrefix})
	if err != nil {
		if vpn.IsPermissionDenied(err) {
			mtunLog.Errorf("Need to run with root permissions: %v", err)
		} else {
			mtunLog.Errorf("Unable to create tun device: %v", err)
		}
		return err
	}
	defer func() {
		mtunLog.Info("Closing tun device...")
		adapter.Close()
	}()

	netconf := vpn.SystemNetconf()
	if err := netconf.AddMasquerade(cfg.Network, cfg.OutInterface); err != nil {
		mtunLog.Errorf("Unable to add masquerade rule for %s: %v", cfg.Network, err)
		return err
	}
	mtunLog.Infof("Masquerading %s", cfg.Network)
	defer func() {
		mtunLog.Infof("Removing masquerade rule for %s...", cfg.Network)
		if err := netconf.RemoveMasquerade(cfg.Network, cfg.OutInterface); err != nil {
			mtunLog.Warnf("Unable to remove masquerade rule: %v", err)
		}
	}()

	id, err := mesh.IdentityFromName(cfg.IdentityName)
	if err != nil {
		mtunLog.Errorf("Unable to derive identity: %v", err)
		return err
	}

	h, err := mesh.NewHost(mesh.HostConfig{
		Identity:        id,
		ListenAddrs:     cfg.ListenAddrs,
		EnableQUIC:      true,
		EnableHolePunch: true,
	})
	if err != nil {
		mtunLog.Errorf("Unable to create mesh host: %v", err)
		return err
	}
	defer func() {
		mtunLog.Info("Closing mesh host...")
		h.Close()
	}()
	for _, addr := range mesh.FullAddrs(h) {
		mtunLog.Infof("Listening on %s", addr)
	}

	kdht, err := mesh.NewDHT(ctx, h, nil)
	if err != nil {
		mtunLog.Errorf("%v", err)
		return err
	}
	defer kdht.Close()

	endpoint, err := mesh.NewEndpoint(ctx, h, mesh.WithDHT(kdht))
	if err != nil {
		mtunLog.Errorf("Unable to start mesh endpoint: %v", err)
		return err
	}
	defer func() {
		mtunLog.Info("Closing mesh endpoint...")
		if err := endpoint.Close(); err != nil {
			mtunLog.Warnf("Mesh endpoint close: %v", err)
		}
	}()

	dest, err := endpoint.AddDestination(id, mesh.NewDestinationName(cfg.AppName, "server"))
	if err != nil {
		mtunLog.Errorf("Unable to register destination: %v", err)
		return err
	}
	mtunLog.Infof("Server destination %s", dest.Fingerprint())

	promRegistry := prometheus.NewRegistry()
	server := bridge.NewServer(bridge.ServerConfig{
		Device:           adapter,
		Overlay:          endpoint,
		Destination:      dest,
		Registry:         registry.NewLinkRegistry(cfg.ClearOnClose),
		AnnounceInterval: cfg.AnnounceInterval,
		Metrics:          bridge.NewMetrics(promRegistry, "server"),
	})

	if cfg.StatusAddr != "" {
		srv := status.NewServer(server, endpoint, promRegistry)
		if err := srv.Start(cfg.StatusAddr); err != nil {
			mtunLog.Errorf("Unable to start status server: %v", err)
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	exit := server.Run(ctx, quit)
	if errors.Is(exit, bridge.ErrInterrupted) {
		return nil
	}
	mtunLog.Errorf("Bridge stopped: %v", exit)
	return exit
}

func main() {
	if err := limits.SetLimits(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set limits: %v\n", err)
		os.Exit(1)
	}

	if err := serverMain(); err != nil {
		os.Exit(1)
	}
}
