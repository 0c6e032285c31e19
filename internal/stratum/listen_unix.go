//go:build linux

package stratum

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenTCP binds addr with SO_REUSEADDR and SO_REUSEPORT set and a listen
// backlog sized to maxClients, neither of which the stdlib's net.Listen
// exposes: SO_REUSEPORT lets a restarted daemon rebind the port before the
// old listener's sockets have finished closing, and the backlog bounds how
// many pending connections the kernel queues ahead of acceptLoop.
func listenTCP(addr string, maxClients int) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	family := unix.AF_INET
	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("stratum: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stratum: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stratum: setsockopt SO_REUSEPORT: %w", err)
	}

	if family == unix.AF_INET {
		var sa unix.SockaddrInet4
		sa.Port = tcpAddr.Port
		copy(sa.Addr[:], ip4)
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("stratum: bind: %w", err)
		}
	} else {
		var sa unix.SockaddrInet6
		sa.Port = tcpAddr.Port
		copy(sa.Addr[:], tcpAddr.IP.To16())
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("stratum: bind: %w", err)
		}
	}

	backlog := maxClients
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stratum: listen: %w", err)
	}

	f := os.NewFile(uintptr(fd), "stratum-listener")
	ln, err := net.FileListener(f)
	f.Close() // FileListener dups fd; the original descriptor is no longer needed.
	if err != nil {
		return nil, fmt.Errorf("stratum: file listener: %w", err)
	}
	return ln, nil
}
