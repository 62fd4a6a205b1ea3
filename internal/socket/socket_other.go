//go:build !linux

package socket

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// ListenTCP binds an IPv4 stream socket on all interfaces. The backlog is left
// to the platform default.
func ListenTCP(port, backlog int) (*net.TCPListener, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(context.Background(), "tcp4", net.JoinHostPort(BindAddr, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return l.(*net.TCPListener), nil
}

// ListenUDP binds an IPv4 datagram socket on all interfaces
func ListenUDP(port int) (*net.UDPConn, error) {
	var lc net.ListenConfig
	c, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort(BindAddr, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}
	return c.(*net.UDPConn), nil
}
