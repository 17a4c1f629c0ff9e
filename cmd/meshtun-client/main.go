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
	"github.com/VetheonGames/meshtun/pkg/status"
	"github.com/VetheonGames/meshtun/pkg/vpn"
)

// shutdownTimeout bounds the status server shutdown.
const shutdownTimeout = 5 * time.Second

// clientMain is the real main function for the client daemon.
func clientMain() error {
	cfg, err := config.LoadClientConfig(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			return nil
		}
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	if cfg.ShowVersion {
		fmt.Println("meshtun-client version", versionString())
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

	mtunLog.Infof("meshtun-client version %s", versionString())

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

	if err := vpn.AddRoutes(vpn.SystemNetconf(), adapter.Name(), cfg.Routes); err != nil {
		mtunLog.Errorf("Unable to add routes: %v", err)
		return err
	}

	id, err := mesh.IdentityFromName(cfg.IdentityName)
	if err != nil {
		mtunLog.Errorf("Unable to derive identity: %v", err)
		return err
	}

	listenAddrs := cfg.ListenAddrs
	if len(listenAddrs) == 0 {
		listenAddrs = mesh.ListenAddrsForPort(0)
	}
	h, err := mesh.NewHost(mesh.HostConfig{
		Identity:        id,
		ListenAddrs:     listenAddrs,
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
	mtunLog.Infof("Mesh host %s started", h.ID())

	servers, err := mesh.ParseBootstrapAddrs(cfg.Servers)
	if err != nil {
		mtunLog.Errorf("%v", err)
		return err
	}
	if err := mesh.Connect(ctx, h, servers); err != nil {
		mtunLog.Errorf("%v", err)
		return err
	}

	kdht, err := mesh.NewDHT(ctx, h, servers)
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

	dest, err := endpoint.AddDestination(id, mesh.NewDestinationName(cfg.AppName, "client"))
	if err != nil {
		mtunLog.Errorf("Unable to register destination: %v", err)
		return err
	}
	mtunLog.Infof("Client destination %s", dest.Fingerprint())
	mtunLog.Infof("Waiting for server %s", cfg.ServerFingerprint)

	registry := prometheus.NewRegistry()
	client := bridge.NewClient(bridge.ClientConfig{
		Device:            adapter,
		Overlay:           endpoint,
		ServerFingerprint: cfg.ServerFingerprint,
		Metrics:           bridge.NewMetrics(registry, "client"),
	})

	if cfg.StatusAddr != "" {
		srv := status.NewServer(client, endpoint, registry)
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

	exit := client.Run(ctx, quit)
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

	if err := clientMain(); err != nil {
		os.Exit(1)
	}
}
