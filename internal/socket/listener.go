// Package socket provides the non-blocking IPv4 TCP listening socket.
package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const listenBacklog = 1024

// Listener is a bound, listening socket for one host:port.
type Listener struct {
	fd   int
	host string
	port int
}

// Listen creates a non-blocking close-on-exec IPv4 TCP socket bound to
// host:port with SO_REUSEADDR. An empty host or "*" binds all interfaces.
func Listen(host string, port int) (*Listener, error) {
	var addr [4]byte
	if host != "" && host != "*" && host != "0.0.0.0" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("listen %s:%d: not an IPv4 address", host, port)
		}
		copy(addr[:], ip.To4())
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s:%d: %w", host, port, err)
	}
	return &Listener{fd: fd, host: host, port: port}, nil
}

// Accept takes one pending connection. The returned fd is non-blocking with
// close-on-exec. When no connection is pending it returns fd -1 and a nil
// error.
func (l *Listener) Accept() (fd int, remote string, err error) {
	fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, "", nil
		}
		return -1, "", fmt.Errorf("accept on port %d: %w", l.port, err)
	}
	return fd, sockaddrIP(sa), nil
}

func sockaddrIP(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String()
	}
	return ""
}

// FD returns the listening descriptor.
func (l *Listener) FD() int { return l.fd }

// Port returns the bound port.
func (l *Listener) Port() int { return l.port }

// Host returns the bind host as given to Listen ("", "*" and "0.0.0.0" all
// mean every interface).
func (l *Listener) Host() string { return l.host }

// Close shuts the listening socket.
func (l *Listener) Close() error { return unix.Close(l.fd) }
