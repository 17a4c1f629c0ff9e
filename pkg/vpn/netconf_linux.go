//go:build linux

package vpn

import (
	"fmt"
	"net"

	"github.com/coreos/go-iptables/iptables"
	"github.com/vishvananda/netlink"
)

const (
	natTable         = "nat"
	postroutingChain = "POSTROUTING"
)

type linuxNetconf struct{}

// SystemNetconf returns the host configuration backend: netlink for
// addresses, links and routes, iptables for NAT.
func SystemNetconf() Netconf {
	return linuxNetconf{}
}

func (linuxNetconf) AssignAddress(dev string, ip net.IP, prefixLen int) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return err
	}

	bits := 8 * net.IPv4len
	if ip.To4() == nil {
		bits = 8 * net.IPv6len
	}

	addr := &netlink.Addr{
		IPNet:     &net.IPNet{IP: ip, Mask: net.CIDRMask(prefixLen, bits)},
		Broadcast: ip,
	}
	return netlink.AddrAdd(link, addr)
}

func (linuxNetconf) LinkUp(dev string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return err
	}
	return netlink.LinkSetUp(link)
}

func (linuxNetconf) AddRoute(dev string, dst *net.IPNet) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return err
	}
	return netlink.RouteAdd(&netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       dst,
		Scope:     netlink.SCOPE_LINK,
	})
}

func (linuxNetconf) AddMasquerade(src *net.IPNet, outIface string) error {
	ipt, err := iptables.New()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMasquerade, err)
	}
	if err := ipt.AppendUnique(natTable, postroutingChain, masqueradeRule(src, outIface)...); err != nil {
		return fmt.Errorf("%w: %w", ErrMasquerade, err)
	}
	return nil
}

func (linuxNetconf) RemoveMasquerade(src *net.IPNet, outIface string) error {
	ipt, err := iptables.New()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMasquerade, err)
	}
	if err := ipt.DeleteIfExists(natTable, postroutingChain, masqueradeRule(src, outIface)...); err != nil {
		return fmt.Errorf("%w: %w", ErrMasquerade, err)
	}
	return nil
}
