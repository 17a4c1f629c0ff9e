package bridge

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// packetSummary formats an IP packet for trace logging. It is only decoded
// when the log line is actually written.
type packetSummary []byte

func (p packetSummary) String() string {
	if len(p) == 0 {
		return "empty packet"
	}

	first := layers.LayerTypeIPv4
	if p[0]>>4 == 6 {
		first = layers.LayerTypeIPv6
	}
	pkt := gopacket.NewPacket(p, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	nl := pkt.NetworkLayer()
	if nl == nil || len(nl.NetworkFlow().Src().Raw()) == 0 {
		return fmt.Sprintf("non-IP packet (%d bytes)", len(p))
	}
	src, dst := nl.NetworkFlow().Endpoints()

	// A transport header that failed to decode is reported at the IP level.
	if t := pkt.TransportLayer(); t != nil && pkt.ErrorLayer() == nil {
		tsrc, tdst := t.TransportFlow().Endpoints()
		return fmt.Sprintf("%s %s:%s -> %s:%s (%d bytes)", t.LayerType(), src, tsrc, dst, tdst, len(p))
	}
	return fmt.Sprintf("%s %s -> %s (%d bytes)", nl.LayerType(), src, dst, len(p))
}
