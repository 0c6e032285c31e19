//go:build !linux

package stratum

import "net"

// listenTCP falls back to a plain listener on platforms without the
// Linux-specific SO_REUSEPORT/backlog path; maxClients is still enforced
// at accept time by acceptLoop.
func listenTCP(addr string, maxClients int) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
