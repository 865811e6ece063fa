// Package netutil holds small network address helpers shared by the
// gateway's HTTP middleware.
package netutil

import (
	"net"
	"net/netip"
	"strings"
)

// IsLoopback reports whether addr (a "host:port" or bare host) resolves to
// a loopback address, including the "localhost" name.
func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = strings.Trim(addr, "[]")
	}
	if host == "localhost" {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.IsLoopback()
}
