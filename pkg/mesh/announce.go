package mesh

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

const (
	// DefaultAnnounceTopic is the pubsub topic destinations are announced on.
	DefaultAnnounceTopic = "/meshtun/announce/1.0.0"

	// announceMaxAge drops announces whose timestamp is too old.
	announceMaxAge = 2 * time.Minute
)

// announceMessage is the JSON body published on the announce topic. The
// publishing peer is taken from the signed pubsub envelope, not the body.
type announceMessage struct {
	Fingerprint string   `json:"fingerprint"`
	Name        string   `json:"name"`
	Addrs       []string `json:"addrs,omitempty"`
	AppData     []byte   `json:"app_data,omitempty"`
	Timestamp   int64    `json:"timestamp"`
}

func encodeAnnounce(dest *Destination, addrs []multiaddr.Multiaddr, appData []byte, now time.Time) ([]byte, error) {
	msg := announceMessage{
		Fingerprint: dest.Fingerprint().String(),
		Name:        dest.Name().String(),
		AppData:     appData,
		Timestamp:   now.Unix(),
	}
	for _, a := range addrs {
		msg.Addrs = append(msg.Addrs, a.String())
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal announce: %w", err)
	}
	return data, nil
}

// decodeAnnounce parses an announce published by from and checks that the
// claimed fingerprint belongs to from's public key under the claimed name.
func decodeAnnounce(data []byte, from peer.ID, now time.Time) (Announce, error) {
	var msg announceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Announce{}, fmt.Errorf("failed to unmarshal announce: %w", err)
	}

	if age := now.Sub(time.Unix(msg.Timestamp, 0)); age > announceMaxAge {
		return Announce{}, fmt.Errorf("stale announce from %s: %v old", from, age)
	}

	fp, err := ParseFingerprint(msg.Fingerprint)
	if err != nil {
		return Announce{}, err
	}
	name, err := ParseDestinationName(msg.Name)
	if err != nil {
		return Announce{}, err
	}

	pub, err := from.ExtractPublicKey()
	if err != nil {
		return Announce{}, fmt.Errorf("failed to extract public key of %s: %w", from, err)
	}
	want, err := FingerprintFor(pub, name)
	if err != nil {
		return Announce{}, err
	}
	if want != fp {
		return Announce{}, fmt.Errorf("announce from %s claims %s, key derives %s", from, fp, want)
	}

	desc := Descriptor{Fingerprint: fp, Name: name, Peer: from}
	for _, s := range msg.Addrs {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			log.Debugf("Ignoring bad address %q in announce from %s: %v", s, from, err)
			continue
		}
		desc.Addrs = append(desc.Addrs, addr)
	}

	return Announce{Descriptor: desc, AppData: msg.AppData}, nil
}
