//go:build !linux

package vpn

import "net"

type unsupportedNetconf struct{}

// SystemNetconf returns a backend that fails every call; host
// configuration is only implemented for Linux.
func SystemNetconf() Netconf {
	return unsupportedNetconf{}
}

func (unsupportedNetconf) AssignAddress(string, net.IP, int) error { return ErrUnsupported }

func (unsupportedNetconf) LinkUp(string) error { return ErrUnsupported }

func (unsupportedNetconf) AddRoute(string, *net.IPNet) error { return ErrUnsupported }

func (unsupportedNetconf) AddMasquerade(*net.IPNet, string) error { return ErrUnsupported }

func (unsupportedNetconf) RemoveMasquerade(*net.IPNet, string) error { return ErrUnsupported }
