package vpn

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// loopbackDevice hands every written packet back to the next Read.
type loopbackDevice struct {
	name    string
	packets chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newLoopbackDevice() *loopbackDevice {
	return &loopbackDevice{
		name:    "mtun0",
		packets: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (d *loopbackDevice) Name() string { return d.name }

func (d *loopbackDevice) Read(p []byte) (int, error) {
	select {
	case pkt := <-d.packets:
		return copy(p, pkt), nil
	case <-d.closed:
		return 0, io.EOF
	}
}

func (d *loopbackDevice) Write(p []byte) (int, error) {
	pkt := make([]byte, len(p))
	copy(pkt, p)
	select {
	case d.packets <- pkt:
		return len(p), nil
	case <-d.closed:
		return 0, io.ErrClosedPipe
	}
}

func (d *loopbackDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

// recordingNetconf records calls and fails the configured step.
type recordingNetconf struct {
	failAddress error
	failUp      error
	calls       []string
	masq        []string
}

func (n *recordingNetconf) AssignAddress(dev string, ip net.IP, prefixLen int) error {
	n.calls = append(n.calls, "addr "+dev+" "+(&net.IPNet{IP: ip, Mask: net.CIDRMask(prefixLen, 32)}).String())
	return n.failAddress
}

func (n *recordingNetconf) LinkUp(dev string) error {
	n.calls = append(n.calls, "up "+dev)
	return n.failUp
}

func (n *recordingNetconf) AddRoute(dev string, dst *net.IPNet) error {
	n.calls = append(n.calls, "route "+dst.String()+" "+dev)
	return nil
}

func (n *recordingNetconf) AddMasquerade(src *net.IPNet, outIface string) error {
	n.masq = append(n.masq, src.String())
	return nil
}

func (n *recordingNetconf) RemoveMasquerade(src *net.IPNet, outIface string) error {
	for i, s := range n.masq {
		if s == src.String() {
			n.masq = append(n.masq[:i], n.masq[i+1:]...)
			return nil
		}
	}
	return errors.New("no such rule")
}

func TestSendThenReadReturnsPacket(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := NewAdapter(newLoopbackDevice())
		defer a.Close()

		packet := rapid.SliceOfN(rapid.Byte(), 1, MTU).Draw(t, "packet")

		n, err := a.Send(packet)
		require.NoError(t, err)
		require.Equal(t, len(packet), n)

		got, err := a.Read()
		require.NoError(t, err)
		require.Equal(t, packet, got)
	})
}

func TestReadReturnsCopy(t *testing.T) {
	a := NewAdapter(newLoopbackDevice())
	defer a.Close()

	_, err := a.Send([]byte{1, 2, 3})
	require.NoError(t, err)
	_, err = a.Send([]byte{4, 5, 6})
	require.NoError(t, err)

	first, err := a.Read()
	require.NoError(t, err)
	second, err := a.Read()
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 2, 3}, first)
	assert.Equal(t, []byte{4, 5, 6}, second)
}

func TestConcurrentReadsDoNotInterleave(t *testing.T) {
	a := NewAdapter(newLoopbackDevice())
	defer a.Close()

	const packets = 32
	for i := 0; i < packets; i++ {
		_, err := a.Send(bytes.Repeat([]byte{byte(i)}, 100+i))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make(chan []byte, packets)
	for i := 0; i < packets; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pkt, err := a.Read()
			if err == nil {
				results <- pkt
			}
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for pkt := range results {
		count++
		require.NotEmpty(t, pkt)
		assert.Equal(t, bytes.Repeat(pkt[:1], len(pkt)), pkt)
		assert.Equal(t, 100+int(pkt[0]), len(pkt))
	}
	assert.Equal(t, packets, count)
}

func TestReadAfterCloseFails(t *testing.T) {
	a := NewAdapter(newLoopbackDevice())
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.Read()
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	cfg := Config{IP: net.ParseIP("10.0.0.2"), PrefixLen: 24}

	t.Run("Configures device", func(t *testing.T) {
		nc := &recordingNetconf{}
		dev := newLoopbackDevice()
		var pattern string

		a, err := create(cfg, func(p string) (Device, error) {
			pattern = p
			return dev, nil
		}, nc)
		require.NoError(t, err)
		assert.Equal(t, DefaultNamePattern, pattern)
		assert.Equal(t, "mtun0", a.Name())
		assert.Equal(t, []string{"addr mtun0 10.0.0.2/24", "up mtun0"}, nc.calls)
	})

	t.Run("Permission denied", func(t *testing.T) {
		_, err := create(cfg, func(string) (Device, error) {
			return nil, syscall.EPERM
		}, &recordingNetconf{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDeviceCreate)
		assert.True(t, IsPermissionDenied(err))
	})

	t.Run("Other device failure", func(t *testing.T) {
		_, err := create(cfg, func(string) (Device, error) {
			return nil, syscall.ENODEV
		}, &recordingNetconf{})
		assert.ErrorIs(t, err, ErrDeviceCreate)
		assert.False(t, IsPermissionDenied(err))
	})

	t.Run("Address failure closes device", func(t *testing.T) {
		dev := newLoopbackDevice()
		_, err := create(cfg, func(string) (Device, error) {
			return dev, nil
		}, &recordingNetconf{failAddress: errors.New("file exists")})
		assert.ErrorIs(t, err, ErrAddressConfig)
		_, readErr := dev.Read(make([]byte, 1))
		assert.ErrorIs(t, readErr, io.EOF)
	})

	t.Run("Link up failure", func(t *testing.T) {
		_, err := create(cfg, func(string) (Device, error) {
			return newLoopbackDevice(), nil
		}, &recordingNetconf{failUp: errors.New("no such device")})
		assert.ErrorIs(t, err, ErrLinkUp)
		assert.NotErrorIs(t, err, ErrAddressConfig)
	})
}

func TestAddRoutes(t *testing.T) {
	nc := &recordingNetconf{}
	_, a, _ := net.ParseCIDR("104.16.184.241/32")
	_, b, _ := net.ParseCIDR("10.88.0.0/24")

	require.NoError(t, AddRoutes(nc, "mtun0", []*net.IPNet{a, b}))
	assert.Equal(t, []string{"route 104.16.184.241/32 mtun0", "route 10.88.0.0/24 mtun0"}, nc.calls)
}

func TestMasqueradeRule(t *testing.T) {
	_, src, _ := net.ParseCIDR("10.88.0.0/24")

	assert.Equal(t, []string{"-s", "10.88.0.0/24", "-j", "MASQUERADE"}, masqueradeRule(src, ""))
	assert.Equal(t, []string{"-s", "10.88.0.0/24", "-o", "eth0", "-j", "MASQUERADE"}, masqueradeRule(src, "eth0"))
}
