package bridge

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func udpPacket(t *testing.T, src, dst string, payload []byte) []byte {
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	udp := layers.UDP{SrcPort: 40000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(&ip))

	buffer := gopacket.NewSerializeBuffer()
	opt := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	require.NoError(t, gopacket.SerializeLayers(buffer, opt, &ip, &udp, gopacket.Payload(payload)))
	return buffer.Bytes()
}

func TestPacketSummary(t *testing.T) {
	pkt := udpPacket(t, "10.0.0.2", "104.16.184.241", []byte("query"))

	assert.Equal(t, "UDP 10.0.0.2:40000 -> 104.16.184.241:53 (33 bytes)", packetSummary(pkt).String())
	assert.Equal(t, "empty packet", packetSummary(nil).String())

	t.Run("Truncated IP header", func(t *testing.T) {
		assert.Equal(t, "non-IP packet (2 bytes)", packetSummary([]byte{0x45, 0x00}).String())
	})

	t.Run("Truncated transport header", func(t *testing.T) {
		assert.Equal(t, "IPv4 10.0.0.2 -> 104.16.184.241 (24 bytes)", packetSummary(pkt[:24]).String())
	})
}
