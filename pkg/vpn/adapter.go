package vpn

import (
	"fmt"
	"io"
	"net"
	"sync"
)

const (
	// MTU is the largest packet read from or written to the device.
	MTU = 1500

	// DefaultNamePattern lets the kernel pick the next free mtunN name.
	DefaultNamePattern = "mtun%d"
)

// Device is a packet oriented virtual interface. Each Read returns exactly
// one packet and each Write sends exactly one. *water.Interface satisfies it.
type Device interface {
	io.ReadWriteCloser
	Name() string
}

// Config holds configuration for the TUN device
type Config struct {
	NamePattern string
	IP          net.IP
	PrefixLen   int
}

// Adapter owns one TUN device and exposes packet reads and sends to the
// bridge. Reads go through a single reusable MTU sized buffer.
type Adapter struct {
	dev Device

	readMu  sync.Mutex
	readBuf [MTU]byte

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Create allocates a TUN device, assigns ip/prefixLen (broadcast set to the
// same address) and brings it up. Errors wrap ErrDeviceCreate,
// ErrAddressConfig or ErrLinkUp; none are retried.
func Create(cfg Config) (*Adapter, error) {
	return create(cfg, openTUN, SystemNetconf())
}

func create(cfg Config, open func(pattern string) (Device, error), nc Netconf) (*Adapter, error) {
	if cfg.NamePattern == "" {
		cfg.NamePattern = DefaultNamePattern
	}

	log.Debugf("Creating tun device")
	dev, err := open(cfg.NamePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceCreate, err)
	}
	log.Infof("Created tun device %s", dev.Name())

	log.Debugf("Adding address %s/%d to %s", cfg.IP, cfg.PrefixLen, dev.Name())
	if err := nc.AssignAddress(dev.Name(), cfg.IP, cfg.PrefixLen); err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrAddressConfig, dev.Name(), err)
	}

	log.Debugf("Setting %s link up", dev.Name())
	if err := nc.LinkUp(dev.Name()); err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrLinkUp, dev.Name(), err)
	}

	return NewAdapter(dev), nil
}

// NewAdapter wraps an already configured device.
func NewAdapter(dev Device) *Adapter {
	return &Adapter{dev: dev}
}

// Name returns the kernel name of the device.
func (a *Adapter) Name() string {
	return a.dev.Name()
}

// Read blocks until one packet is available and returns a copy of it.
// Concurrent callers are serialized on the read buffer.
func (a *Adapter) Read() ([]byte, error) {
	a.readMu.Lock()
	defer a.readMu.Unlock()

	n, err := a.dev.Read(a.readBuf[:])
	if err != nil {
		return nil, err
	}

	packet := make([]byte, n)
	copy(packet, a.readBuf[:n])
	return packet, nil
}

// Send writes one packet to the device and returns the number of bytes
// written, which equals len(packet) on success.
func (a *Adapter) Send(packet []byte) (int, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	n, err := a.dev.Write(packet)
	if err != nil {
		return n, err
	}
	if n != len(packet) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Close releases the device. Blocked reads return with an error.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.dev.Close()
	})
	return a.closeErr
}
