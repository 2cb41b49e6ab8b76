// Package netutil provides shared network address normalization helpers.
package netutil

import (
	"net"
	"strings"
)

// NormalizeNodeAddress canonicalizes a node management address: trims
// whitespace, strips an accidental scheme prefix and trailing slash, and
// lower-cases the host part while preserving the port.
func NormalizeNodeAddress(raw string) string {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return ""
	}
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimPrefix(addr, "http://")
	if idx := strings.Index(addr, "/"); idx >= 0 {
		addr = addr[:idx]
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.ToLower(strings.TrimSuffix(addr, "."))
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return net.JoinHostPort(host, port)
}
