package inbound

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Allowlist matches source addresses against single IPs and CIDR ranges.
// An empty allowlist admits everything.
type Allowlist struct {
	prefixes []netip.Prefix
}

func NewAllowlist(entries []string) (*Allowlist, error) {
	list := &Allowlist{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("inbound: invalid allowlist range %q: %w", entry, err)
			}
			list.prefixes = append(list.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("inbound: invalid allowlist address %q: %w", entry, err)
		}
		addr = addr.Unmap()
		list.prefixes = append(list.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return list, nil
}

func (a *Allowlist) Empty() bool {
	return a == nil || len(a.prefixes) == 0
}

// Allows accepts "ip" or "ip:port" forms.
func (a *Allowlist) Allows(remoteAddr string) bool {
	if a.Empty() {
		return true
	}
	addr, ok := parseRemoteAddr(remoteAddr)
	if !ok {
		return false
	}
	for _, prefix := range a.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseRemoteAddr(remoteAddr string) (netip.Addr, bool) {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return netip.Addr{}, false
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
