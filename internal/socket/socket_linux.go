//go:build linux

package socket

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

func sockaddr(port int) *unix.SockaddrInet4 {
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], net.ParseIP(BindAddr).To4())
	return sa
}

func bound(typ, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, typ|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt: %w", err)
	}
	if err = unix.Bind(fd, sockaddr(port)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	return fd, nil
}

// ListenTCP binds an IPv4 stream socket on all interfaces and listens with the
// given backlog
func ListenTCP(port, backlog int) (*net.TCPListener, error) {
	fd, err := bound(unix.SOCK_STREAM, port)
	if err != nil {
		return nil, err
	}
	if err = unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	// net.FileListener duplicates the descriptor
	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp4:%d", port))
	defer f.Close()

	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}
	return l.(*net.TCPListener), nil
}

// ListenUDP binds an IPv4 datagram socket on all interfaces
func ListenUDP(port int) (*net.UDPConn, error) {
	fd, err := bound(unix.SOCK_DGRAM, port)
	if err != nil {
		return nil, err
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("udp4:%d", port))
	defer f.Close()

	c, err := net.FilePacketConn(f)
	if err != nil {
		return nil, fmt.Errorf("file packet conn: %w", err)
	}
	return c.(*net.UDPConn), nil
}
