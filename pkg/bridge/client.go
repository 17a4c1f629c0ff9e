package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/VetheonGames/meshtun/pkg/mesh"
)

// ClientConfig holds the collaborators of a Client.
type ClientConfig struct {
	Device            Device
	Overlay           ClientOverlay
	ServerFingerprint mesh.Fingerprint
	Metrics           *Metrics
}

// Client links to the server destination whenever it is announced and
// forwards packets between the TUN device and its outbound links. Every
// TUN packet goes to all outbound links, which assumes one server.
type Client struct {
	dev      Device
	overlay  ClientOverlay
	expected mesh.Fingerprint
	matcher  *AnnounceMatcher
	metrics  *Metrics

	mu    sync.Mutex
	links map[mesh.LinkID]*mesh.Link
}

// NewClient creates a client bridge.
func NewClient(cfg ClientConfig) *Client {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil, "client")
	}
	return &Client{
		dev:      cfg.Device,
		overlay:  cfg.Overlay,
		expected: cfg.ServerFingerprint,
		matcher:  NewAnnounceMatcher(cfg.ServerFingerprint),
		metrics:  metrics,
		links:    make(map[mesh.LinkID]*mesh.Link),
	}
}

// Run races the TUN loop, the link event loop, the announce loop and the
// interrupt until the first of them ends, then closes the device. A
// client runs at most once.
func (c *Client) Run(ctx context.Context, interrupt <-chan struct{}) *LoopExit {
	announces, cancelAnnounces := c.overlay.SubscribeAnnounces()
	defer cancelAnnounces()
	events, cancelEvents := c.overlay.SubscribeOutLinkEvents()
	defer cancelEvents()

	return race(ctx, func() { c.dev.Close() },
		loop{name: "tun read loop", run: c.tunLoop},
		loop{name: "link event loop", run: func(ctx context.Context) error {
			return c.linkEventLoop(ctx, events)
		}},
		loop{name: "announce loop", run: func(ctx context.Context) error {
			return c.announceLoop(ctx, announces)
		}},
		signalLoop(interrupt),
	)
}

// Status reports the client's view of the bridge.
func (c *Client) Status() Status {
	c.mu.Lock()
	active := 0
	for _, l := range c.links {
		if l.State() == mesh.LinkActive {
			active++
		}
	}
	c.mu.Unlock()

	return Status{
		Role:        "client",
		Fingerprint: c.expected.String(),
		ActiveLinks: active,
		Counters:    c.metrics.Snapshot(),
	}
}

func (c *Client) tunLoop(ctx context.Context) error {
	for {
		packet, err := c.dev.Read()
		if err != nil {
			return fmt.Errorf("tun read: %w", err)
		}
		log.Tracef("Got tun packet %v", packetSummary(packet))
		c.metrics.fromTUN(len(packet))

		sent, err := c.overlay.SendToAllOutLinks(ctx, packet)
		if err != nil {
			return fmt.Errorf("overlay send: %w", err)
		}
		if sent == 0 {
			log.Tracef("No outbound link, dropping packet")
			c.metrics.drop(dropNoLink)
		}
	}
}

func (c *Client) linkEventLoop(ctx context.Context, events <-chan mesh.LinkEvent) error {
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

		if ev.Fingerprint != c.expected {
			log.Tracef("Ignoring %s event on link %s for %s", ev.Kind, ev.ID, ev.Fingerprint)
			if ev.Kind == mesh.EventData {
				c.metrics.drop(dropFingerprint)
			}
			continue
		}

		switch ev.Kind {
		case mesh.EventData:
			log.Tracef("Link %s payload %v", ev.ID, packetSummary(ev.Payload))
			n, err := c.dev.Send(ev.Payload)
			if err != nil {
				return fmt.Errorf("tun send: %w", err)
			}
			c.metrics.toTUN(n)

		case mesh.EventActivated:
			log.Infof("Link %s to %s activated", ev.ID, ev.Fingerprint)
			c.metrics.linkActivated()

		case mesh.EventClosed:
			log.Infof("Link %s to %s closed", ev.ID, ev.Fingerprint)
			c.metrics.linkClosed()
			c.mu.Lock()
			delete(c.links, ev.ID)
			c.mu.Unlock()
		}
	}
}

func (c *Client) announceLoop(ctx context.Context, announces <-chan mesh.Announce) error {
	for {
		desc, err := c.matcher.Next(ctx, announces)
		if err != nil {
			return err
		}
		c.linkTo(ctx, desc)
	}
}

// linkTo opens a link to desc unless one is already pending or active.
// Only the announce loop calls it, so the check and the insert do not race.
func (c *Client) linkTo(ctx context.Context, desc mesh.Descriptor) {
	if id, ok := c.linkedTo(desc.Fingerprint); ok {
		log.Tracef("Already linked to %s via %s", desc.Fingerprint, id)
		return
	}

	log.Debugf("Linking to %s", desc.Fingerprint)
	link, err := c.overlay.Link(ctx, desc)
	if err != nil {
		log.Warnf("Failed to link to %s: %v", desc.Fingerprint, err)
		return
	}

	c.mu.Lock()
	c.links[link.ID()] = link
	c.mu.Unlock()
}

func (c *Client) linkedTo(fp mesh.Fingerprint) (mesh.LinkID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, l := range c.links {
		if l.State() == mesh.LinkClosed {
			delete(c.links, id)
			continue
		}
		if l.Fingerprint() == fp {
			return id, true
		}
	}
	return mesh.LinkID{}, false
}
