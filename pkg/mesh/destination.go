package mesh

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Destination is a named endpoint owned by an identity. Inbound links are
// only accepted for registered destinations.
type Destination struct {
	identity    *Identity
	name        DestinationName
	fingerprint Fingerprint
}

// NewDestination creates a destination without registering it.
func NewDestination(id *Identity, name DestinationName) (*Destination, error) {
	fp, err := FingerprintFor(id.PubKey(), name)
	if err != nil {
		return nil, err
	}
	return &Destination{identity: id, name: name, fingerprint: fp}, nil
}

// Fingerprint returns the destination fingerprint.
func (d *Destination) Fingerprint() Fingerprint {
	return d.fingerprint
}

// Name returns the destination name.
func (d *Destination) Name() DestinationName {
	return d.name
}

// Identity returns the owning identity.
func (d *Destination) Identity() *Identity {
	return d.identity
}

// Descriptor describes a remote destination well enough to open a link.
type Descriptor struct {
	Fingerprint Fingerprint
	Name        DestinationName
	Peer        peer.ID
	Addrs       []multiaddr.Multiaddr
}

// Announce is a verified destination announcement received from the mesh.
type Announce struct {
	Descriptor   Descriptor
	AppData      []byte
	ReceivedFrom peer.ID
}
