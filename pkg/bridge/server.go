package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/VetheonGames/meshtun/pkg/mesh"
	"github.com/VetheonGames/meshtun/pkg/registry"
)

// DefaultAnnounceInterval is how often a server announces its destination.
const DefaultAnnounceInterval = time.Second

// ServerConfig holds the collaborators of a Server.
type ServerConfig struct {
	Device           Device
	Overlay          ServerOverlay
	Destination      *mesh.Destination
	Registry         *registry.LinkRegistry
	AnnounceInterval time.Duration
	Metrics          *Metrics
}

// Server announces its destination and forwards TUN packets to the most
// recently activated inbound link.
type Server struct {
	dev      Device
	overlay  ServerOverlay
	dest     *mesh.Destination
	registry *registry.LinkRegistry
	interval time.Duration
	metrics  *Metrics
}

// NewServer creates a server bridge.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		dev:      cfg.Device,
		overlay:  cfg.Overlay,
		dest:     cfg.Destination,
		registry: cfg.Registry,
		interval: cfg.AnnounceInterval,
		metrics:  cfg.Metrics,
	}
	if s.registry == nil {
		s.registry = registry.NewLinkRegistry(false)
	}
	if s.interval <= 0 {
		s.interval = DefaultAnnounceInterval
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil, "server")
	}
	return s
}

// Run races the TUN loop, the link event loop, the announce loop and the
// interrupt until the first of them ends, then closes the device. A
// server runs at most once.
func (s *Server) Run(ctx context.Context, interrupt <-chan struct{}) *LoopExit {
	events, cancelEvents := s.overlay.SubscribeInLinkEvents()
	defer cancelEvents()

	return race(ctx, func() { s.dev.Close() },
		loop{name: "tun read loop", run: s.tunLoop},
		loop{name: "link event loop", run: func(ctx context.Context) error {
			return s.linkEventLoop(ctx, events)
		}},
		loop{name: "announce loop", run: s.announceLoop},
		signalLoop(interrupt),
	)
}

// Status reports the server's view of the bridge.
func (s *Server) Status() Status {
	st := Status{
		Role:        "server",
		Fingerprint: s.dest.Fingerprint().String(),
		ActiveLinks: len(s.registry.Active()),
		Counters:    s.metrics.Snapshot(),
	}
	if id, ok := s.registry.Current(); ok {
		st.CurrentLink = id.String()
	}
	return st
}

func (s *Server) announceLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		log.Tracef("Sending announce for %s", s.dest.Fingerprint())
		if err := s.overlay.SendAnnounce(ctx, s.dest, nil); err != nil {
			return fmt.Errorf("announce: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) tunLoop(ctx context.Context) error {
	for {
		packet, err := s.dev.Read()
		if err != nil {
			return fmt.Errorf("tun read: %w", err)
		}
		log.Tracef("Got tun packet %v", packetSummary(packet))
		s.metrics.fromTUN(len(packet))

		id, ok := s.registry.Current()
		if !ok {
			log.Tracef("No active link, dropping packet")
			s.metrics.drop(dropNoLink)
			continue
		}

		link, err := s.overlay.FindInLink(id)
		if err != nil {
			log.Debugf("Link %s not found, dropping packet: %v", id, err)
			s.metrics.drop(dropLinkGone)
			continue
		}

		if err := s.overlay.SendPacket(ctx, link.DataPacket(packet)); err != nil {
			if isLinkGone(err) {
				log.Debugf("Dropping packet for link %s: %v", id, err)
				s.metrics.drop(dropLinkGone)
				continue
			}
			return fmt.Errorf("overlay send: %w", err)
		}
	}
}

func (s *Server) linkEventLoop(ctx context.Context, events <-chan mesh.LinkEvent) error {
	own := s.dest.Fingerprint()

	for {
		var ev mesh.LinkEvent
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("link events: %w", ErrStreamClosed)
			}
			ev = e
		}

		if ev.Fingerprint != own {
			log.Tracef("Ignoring %s event on link %s for %s", ev.Kind, ev.ID, ev.Fingerprint)
			if ev.Kind == mesh.EventData {
				s.metrics.drop(dropFingerprint)
			}
			continue
		}

		switch ev.Kind {
		case mesh.EventData:
			log.Tracef("Link %s payload %v", ev.ID, packetSummary(ev.Payload))
			n, err := s.dev.Send(ev.Payload)
			if err != nil {
				return fmt.Errorf("tun send: %w", err)
			}
			s.metrics.toTUN(n)

		case mesh.EventActivated:
			s.registry.Activate(ev.ID, ev.Fingerprint)
			log.Infof("Link %s activated, now current", ev.ID)
			s.metrics.linkActivated()

		case mesh.EventClosed:
			if s.registry.Close(ev.ID) {
				log.Infof("Link %s closed, no current link", ev.ID)
			} else {
				log.Infof("Link %s closed", ev.ID)
			}
			s.metrics.linkClosed()
		}
	}
}
