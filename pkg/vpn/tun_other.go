//go:build !linux

package vpn

import "github.com/songgao/water"

// openTUN creates a TUN device. Name patterns are not honoured outside
// Linux; the system assigns the name.
func openTUN(_ string) (Device, error) {
	iface, err := water.New(water.Config{DeviceType: water.TUN})
	if err != nil {
		return nil, err
	}
	return iface, nil
}
