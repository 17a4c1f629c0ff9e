// Package bridge forwards IP packets between a TUN device and mesh links.
// A Client broadcasts TUN traffic to its outbound links to a known server
// fingerprint; a Server announces one destination and sends TUN traffic
// to the most recently activated inbound link.
package bridge

import (
	"context"
	"errors"

	"github.com/VetheonGames/meshtun/pkg/mesh"
)

var (
	// ErrInterrupted ends the bridge when the process is interrupted.
	ErrInterrupted = errors.New("interrupt received")

	// ErrStreamClosed is returned when an event or announce stream ends.
	ErrStreamClosed = errors.New("stream closed")
)

// Device is the packet side of the bridge. *vpn.Adapter satisfies it.
type Device interface {
	Read() ([]byte, error)
	Send(packet []byte) (int, error)
	Close() error
}

// ClientOverlay is the part of the mesh endpoint a Client uses.
type ClientOverlay interface {
	SubscribeAnnounces() (<-chan mesh.Announce, func())
	Link(ctx context.Context, desc mesh.Descriptor) (*mesh.Link, error)
	SendToAllOutLinks(ctx context.Context, payload []byte) (int, error)
	SubscribeOutLinkEvents() (<-chan mesh.LinkEvent, func())
}

// ServerOverlay is the part of the mesh endpoint a Server uses.
type ServerOverlay interface {
	SendAnnounce(ctx context.Context, dest *mesh.Destination, appData []byte) error
	FindInLink(id mesh.LinkID) (*mesh.Link, error)
	SendPacket(ctx context.Context, pkt *mesh.Packet) error
	SubscribeInLinkEvents() (<-chan mesh.LinkEvent, func())
}

// Status is a point in time view of a running bridge.
type Status struct {
	Role        string   `json:"role"`
	Fingerprint string   `json:"fingerprint"`
	CurrentLink string   `json:"current_link,omitempty"`
	ActiveLinks int      `json:"active_links"`
	Counters    Counters `json:"counters"`
}

// signalLoop ends when interrupt fires.
func signalLoop(interrupt <-chan struct{}) loop {
	return loop{
		name: "signal",
		run: func(ctx context.Context) error {
			select {
			case <-interrupt:
				return ErrInterrupted
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// isLinkGone reports whether a send failed because its link went away,
// which drops the packet instead of ending the loop.
func isLinkGone(err error) bool {
	return errors.Is(err, mesh.ErrLinkNotFound) ||
		errors.Is(err, mesh.ErrLinkClosed) ||
		errors.Is(err, mesh.ErrLinkPending)
}
