package vpn

import (
	"errors"
	"os"
)

var (
	// ErrDeviceCreate is returned when the TUN device cannot be allocated.
	ErrDeviceCreate = errors.New("tun device creation failed")

	// ErrAddressConfig is returned when the address cannot be assigned.
	ErrAddressConfig = errors.New("tun address assignment failed")

	// ErrLinkUp is returned when the device cannot be brought up.
	ErrLinkUp = errors.New("tun link up failed")

	// ErrRouteConfig is returned when a static route cannot be added.
	ErrRouteConfig = errors.New("route configuration failed")

	// ErrMasquerade is returned when the NAT masquerade rule cannot be
	// installed or removed.
	ErrMasquerade = errors.New("nat masquerade configuration failed")

	// ErrUnsupported is returned by host configuration on platforms
	// without a netconf implementation.
	ErrUnsupported = errors.New("host network configuration not supported on this platform")
)

// IsPermissionDenied reports whether err was caused by missing privileges,
// typically EPERM from the TUNSETIFF ioctl when not running as root.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, os.ErrPermission)
}
