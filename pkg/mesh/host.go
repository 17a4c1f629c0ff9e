package mesh

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
)

// DefaultPort is the TCP and UDP port nodes listen on.
const DefaultPort = 4242

// HostConfig holds configuration for the libp2p host.
type HostConfig struct {
	Identity        *Identity
	ListenAddrs     []string
	EnableQUIC      bool
	EnableHolePunch bool
}

// ListenAddrsForPort returns TCP and QUIC listen addresses on every IPv4
// and IPv6 interface.
func ListenAddrsForPort(port int) []string {
	return []string{
		fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port),
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", port),
		fmt.Sprintf("/ip6/::/tcp/%d", port),
		fmt.Sprintf("/ip6/::/udp/%d/quic-v1", port),
	}
}

// NewHost creates a libp2p host keyed with cfg.Identity.
func NewHost(cfg HostConfig) (host.Host, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("host identity is required")
	}

	opts := []libp2p.Option{
		libp2p.Identity(cfg.Identity.PrivKey()),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Transport(tcp.NewTCPTransport),
	}
	if cfg.EnableQUIC {
		opts = append(opts, libp2p.Transport(libp2pquic.NewTransport))
	}
	if cfg.EnableHolePunch {
		opts = append(opts, libp2p.EnableHolePunching())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	return h, nil
}

// FullAddrs returns the host's listen addresses with its peer id appended,
// in the form other nodes pass as a bootstrap address.
func FullAddrs(h host.Host) []multiaddr.Multiaddr {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()})
	if err != nil {
		return nil
	}
	return addrs
}

// ParseBootstrapAddrs parses multiaddrs carrying a /p2p/ component.
func ParseBootstrapAddrs(addrs []string) ([]peer.AddrInfo, error) {
	infos := make([]peer.AddrInfo, 0, len(addrs))
	for _, s := range addrs {
		info, err := peer.AddrInfoFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap address %q: %w", s, err)
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// Connect dials every bootstrap peer. It fails only if none is reachable.
func Connect(ctx context.Context, h host.Host, peers []peer.AddrInfo) error {
	if len(peers) == 0 {
		return nil
	}

	var errs error
	connected := 0
	for _, p := range peers {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := h.Connect(ctx, p)
		cancel()
		if err != nil {
			log.Warnf("Failed to connect to %s: %v", p.ID, err)
			errs = multierr.Append(errs, err)
			continue
		}
		log.Infof("Connected to %s", p.ID)
		connected++
	}

	if connected == 0 {
		return fmt.Errorf("failed to connect to any bootstrap peer: %w", errs)
	}
	return nil
}

// NewDHT starts a kad-dht on h under the meshtun protocol prefix and
// bootstraps it from peers.
func NewDHT(ctx context.Context, h host.Host, peers []peer.AddrInfo) (*dht.IpfsDHT, error) {
	kdht, err := dht.New(ctx, h,
		dht.Mode(dht.ModeAutoServer),
		dht.ProtocolPrefix("/meshtun"),
		dht.BootstrapPeers(peers...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	if err := kdht.Bootstrap(ctx); err != nil {
		kdht.Close()
		return nil, fmt.Errorf("failed to bootstrap DHT: %w", err)
	}
	return kdht, nil
}
