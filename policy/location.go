package policy

import (
	"net/netip"
	"strings"
)

// LocationPolicy decides the location gate for a permission.
type LocationPolicy interface {
	Allowed(ip string, r *LocationRestriction) bool
}

// PermissiveLocationPolicy allows every request. It is the default.
type PermissiveLocationPolicy struct{}

func (PermissiveLocationPolicy) Allowed(string, *LocationRestriction) bool { return true }

// IPListLocationPolicy enforces LocationRestriction allow and block lists.
// Entries are exact addresses or CIDR prefixes. RequireSecureNetwork is met
// when the address falls inside SecureNetworks.
type IPListLocationPolicy struct {
	SecureNetworks []netip.Prefix
}

// NewIPListLocationPolicy parses secure network CIDRs.
func NewIPListLocationPolicy(secureNetworks ...string) (*IPListLocationPolicy, error) {
	p := &IPListLocationPolicy{}
	for _, n := range secureNetworks {
		prefix, err := parsePrefix(n)
		if err != nil {
			return nil, err
		}
		p.SecureNetworks = append(p.SecureNetworks, prefix)
	}
	return p, nil
}

func (p *IPListLocationPolicy) Allowed(ip string, r *LocationRestriction) bool {
	if r == nil {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		// Unparseable or missing addresses cannot satisfy any list.
		return len(r.AllowedIPs) == 0 && len(r.BlockedIPs) == 0 && !r.RequireSecureNetwork
	}
	addr = addr.Unmap()

	if matchAny(addr, r.BlockedIPs) {
		return false
	}
	if len(r.AllowedIPs) > 0 && !matchAny(addr, r.AllowedIPs) {
		return false
	}
	if r.RequireSecureNetwork {
		for _, n := range p.SecureNetworks {
			if n.Contains(addr) {
				return true
			}
		}
		return false
	}
	return true
}

func matchAny(addr netip.Addr, entries []string) bool {
	for _, e := range entries {
		prefix, err := parsePrefix(e)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
