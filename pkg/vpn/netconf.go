package vpn

import "net"

// Netconf applies host network configuration around the TUN device.
type Netconf interface {
	// AssignAddress adds ip/prefixLen to the named device with the
	// broadcast address set to ip.
	AssignAddress(dev string, ip net.IP, prefixLen int) error

	// LinkUp brings the named device administratively up.
	LinkUp(dev string) error

	// AddRoute routes dst through the named device.
	AddRoute(dev string, dst *net.IPNet) error

	// AddMasquerade installs a NAT masquerade rule for traffic from src.
	// An empty outIface matches any egress interface.
	AddMasquerade(src *net.IPNet, outIface string) error

	// RemoveMasquerade removes the rule installed by AddMasquerade.
	RemoveMasquerade(src *net.IPNet, outIface string) error
}

// masqueradeRule builds the POSTROUTING rulespec shared by install and
// removal.
func masqueradeRule(src *net.IPNet, outIface string) []string {
	rule := []string{"-s", src.String()}
	if outIface != "" {
		rule = append(rule, "-o", outIface)
	}
	return append(rule, "-j", "MASQUERADE")
}

// AddRoutes adds every route in dsts, stopping at the first failure.
func AddRoutes(nc Netconf, dev string, dsts []*net.IPNet) error {
	for _, dst := range dsts {
		log.Infof("Adding route for %s via %s", dst, dev)
		if err := nc.AddRoute(dev, dst); err != nil {
			return &RouteError{Dst: dst, Err: err}
		}
	}
	return nil
}

// RouteError reports which route could not be installed.
type RouteError struct {
	Dst *net.IPNet
	Err error
}

func (e *RouteError) Error() string {
	return ErrRouteConfig.Error() + ": " + e.Dst.String() + ": " + e.Err.Error()
}

func (e *RouteError) Unwrap() []error {
	return []error{ErrRouteConfig, e.Err}
}
