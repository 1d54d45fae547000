// Package transport allocates and drives per-stream media transport:
// UDP unicast, UDP multicast, and TCP interleaved. It owns the sockets
// (or channel registrations) for one StreamDescriptor at a time, decodes
// RTP/RTCP, and pushes packets to a Sink in arrival order with a receive
// timestamp attached.
package transport
