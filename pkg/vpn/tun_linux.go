//go:build linux

package vpn

import "github.com/songgao/water"

// openTUN creates a TUN device. The kernel expands a %d in pattern to the
// next free index.
func openTUN(pattern string) (Device, error) {
	ifConfig := water.Config{
		DeviceType: water.TUN,
	}
	ifConfig.PlatformSpecificParams.Name = pattern

	iface, err := water.New(ifConfig)
	if err != nil {
		return nil, err
	}
	return iface, nil
}
