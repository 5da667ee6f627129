package engine

import (
	"net"
	"strings"
)

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// cgnatBlock is 100.64.0.0/10, used by carrier-grade NAT, Cloudflare WARP
// and Tailscale. Direct paths from these addresses rarely work.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// ShouldForceRelay reports whether an active interface looks like a VPN
// tunnel or carries a CGNAT address, in which case a TURN relay is the
// reliable path.
func ShouldForceRelay() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isTunnelName(iface.Name) {
			return true
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && isCGNAT(ipnet.IP) {
				return true
			}
		}
	}
	return false
}

func isTunnelName(name string) bool {
	name = strings.ToLower(name)
	for _, s := range tunnelNames {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

func isCGNAT(ip net.IP) bool {
	return ip != nil && cgnatBlock.Contains(ip)
}
