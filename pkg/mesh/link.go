package mesh

import (
	"fmt"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// LinkState is the lifecycle state of a link.
type LinkState int

const (
	LinkPending LinkState = iota
	LinkActive
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkPending:
		return "pending"
	case LinkActive:
		return "active"
	case LinkClosed:
		return "closed"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// Direction tells which side opened a link.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Packet is a payload addressed to one link.
type Packet struct {
	LinkID LinkID
	Data   []byte
}

// Link is a bidirectional session between two nodes, bound to one
// destination fingerprint.
type Link struct {
	id          LinkID
	fingerprint Fingerprint
	direction   Direction
	remote      peer.ID

	mu    sync.Mutex
	state LinkState

	writeMu sync.Mutex
	w       io.WriteCloser
}

// NewLink creates a pending link that is not attached to a stream.
func NewLink(id LinkID, fp Fingerprint, dir Direction) *Link {
	return &Link{id: id, fingerprint: fp, direction: dir}
}

func newStreamLink(id LinkID, fp Fingerprint, dir Direction, remote peer.ID, w io.WriteCloser) *Link {
	l := NewLink(id, fp, dir)
	l.remote = remote
	l.w = w
	return l
}

// ID returns the link id.
func (l *Link) ID() LinkID { return l.id }

// Fingerprint returns the destination fingerprint the link is bound to.
func (l *Link) Fingerprint() Fingerprint { return l.fingerprint }

// Direction returns which side opened the link.
func (l *Link) Direction() Direction { return l.direction }

// RemotePeer returns the peer on the other end.
func (l *Link) RemotePeer() peer.ID { return l.remote }

// State returns the current link state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// DataPacket wraps payload in a packet addressed to this link.
func (l *Link) DataPacket(payload []byte) *Packet {
	return &Packet{LinkID: l.id, Data: payload}
}

// activate moves a pending link to active. It reports false if the link
// was already closed.
func (l *Link) activate() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkPending {
		return false
	}
	l.state = LinkActive
	return true
}

// markClosed moves the link to closed and returns the previous state.
func (l *Link) markClosed() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.state
	l.state = LinkClosed
	return prev
}

func (l *Link) send(payload []byte) error {
	switch l.State() {
	case LinkPending:
		return ErrLinkPending
	case LinkClosed:
		return ErrLinkClosed
	}
	if l.w == nil {
		return ErrLinkClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return writeFrame(l.w, frameData, payload)
}

// Teardown sends a teardown frame and closes the underlying stream. The
// Closed event is emitted by the link's reader once the stream ends.
func (l *Link) Teardown() error {
	if l.State() == LinkClosed || l.w == nil {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := writeFrame(l.w, frameTeardown, nil); err != nil {
		log.Debugf("Failed to send teardown on link %s: %v", l.id, err)
	}
	return l.w.Close()
}
