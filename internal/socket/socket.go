// Package socket opens the IPv4 listening sockets used by the probe servers.
package socket

import (
	"fmt"
	"net"
)

const (
	// BindAddr is the wildcard IPv4 address servers listen on
	BindAddr = "0.0.0.0"
	// Backlog is the TCP listen queue length
	Backlog = 5
)

// Port extracts the port number of a TCP or UDP address
func Port(addr net.Addr) int {
	switch v := addr.(type) {
	case *net.TCPAddr:
		return v.Port
	case *net.UDPAddr:
		return v.Port
	default:
		panic(fmt.Errorf("unsupported address type %T", v))
	}
}
