package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/rivergate/rtspcore/base"
	"github.com/rivergate/rtspcore/headers"
	"github.com/rivergate/rtspcore/liberrors"
	"github.com/rivergate/rtspcore/wireconn"
)

// Sink receives media packets in arrival order, each tagged with the
// receive timestamp observed by this transport. StreamIndex identifies
// which SETUP'd stream the packet belongs to.
type Sink interface {
	OnRTP(streamIndex int, payload []byte, receivedAt time.Time)
	OnRTCP(streamIndex int, payload []byte, receivedAt time.Time)
}

// InterleavedWriter is the subset of wireconn.Connection a Stream needs
// to register itself for TCP-interleaved delivery and to write client
// RTCP back on the same connection.
type InterleavedWriter interface {
	RegisterSink(channel int, fr wireconn.FrameSink)
	WriteInterleavedFrame(fr *base.InterleavedFrame) error
}

// Config describes one stream's negotiated transport, as produced from
// the SETUP request/response pair.
type Config struct {
	StreamIndex int

	ServerIP net.IP

	// UDP unicast / multicast.
	ClientRTPPort, ClientRTCPPort int
	ServerRTPPort, ServerRTCPPort int
	MulticastGroup                net.IP
	MulticastTTL                  uint
	MulticastInterface            *net.Interface

	// TCP interleaved.
	InterleavedRTPChannel, InterleavedRTCPChannel int

	UDPBufferSize int
	WriteTimeout  time.Duration
	AnyPort       bool
	NATDummy      bool
}

// Kind reports which of the three transport variants cfg describes.
func (c Config) Kind(delivery *headers.TransportDelivery, protocol headers.TransportProtocol) string {
	if protocol == headers.TransportProtocolTCP {
		return "interleaved"
	}
	if delivery != nil && *delivery == headers.TransportDeliveryMulticast {
		return "multicast"
	}
	return "udp"
}

// Stream is one active per-media transport: either a UDP socket pair, a
// multicast socket pair, or a TCP-interleaved channel registration.
type Stream struct {
	cfg  Config
	kind string

	rtpSocket, rtcpSocket *udpSocket
	conn                  InterleavedWriter

	sink Sink

	// receiver-report bookkeeping, mirroring the teacher's rtcpReceiver:
	// one locally generated SSRC identifies us to the server, the rest
	// tracks what the publisher has sent so BuildReceiverReport can fill
	// in a RFC 3550 §6.4.1 reception block.
	statsMu          sync.Mutex
	receiverSSRC     uint32
	publisherSSRC    uint32
	seqCycles        uint16
	lastSeq          uint16
	haveSeq          bool
	lastSenderReport uint32
}

// handleRTP unmarshals raw, stripping RFC 3550 padding the way the
// teacher's TCP read loop does (pion/rtp already excludes padding bytes
// from Payload once Unmarshal succeeds), tracks sequence-number
// wraparound for the next receiver report, and forwards the clean
// payload to sink.
func (s *Stream) handleRTP(raw []byte, receivedAt time.Time) {
	var pkt rtp.Packet
	payload := raw
	if err := pkt.Unmarshal(raw); err == nil {
		payload = pkt.Payload

		s.statsMu.Lock()
		s.publisherSSRC = pkt.SSRC
		if s.haveSeq && pkt.SequenceNumber < s.lastSeq {
			s.seqCycles++
		}
		s.lastSeq = pkt.SequenceNumber
		s.haveSeq = true
		s.statsMu.Unlock()
	}

	s.sink.OnRTP(s.cfg.StreamIndex, payload, receivedAt)
}

// handleRTCP records the publisher's most recent sender report (for the
// receiver report's LastSenderReport field) before forwarding raw to sink.
func (s *Stream) handleRTCP(raw []byte, receivedAt time.Time) {
	if pkts, err := rtcp.Unmarshal(raw); err == nil {
		for _, pkt := range pkts {
			if sr, ok := pkt.(*rtcp.SenderReport); ok {
				s.statsMu.Lock()
				s.publisherSSRC = sr.SSRC
				s.lastSenderReport = uint32(sr.NTPTime >> 16)
				s.statsMu.Unlock()
			}
		}
	}

	s.sink.OnRTCP(s.cfg.StreamIndex, raw, receivedAt)
}

// BuildReceiverReport marshals an RTCP receiver report from this stream's
// tracked RTP/RTCP arrivals, for the periodic RTCP keep-alive companion
// path. Returns (nil, false) before any RTP packet has arrived.
func (s *Stream) BuildReceiverReport() ([]byte, bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	if !s.haveSeq {
		return nil, false
	}

	rr := &rtcp.ReceiverReport{
		SSRC: s.receiverSSRC,
		Reports: []rtcp.ReceptionReport{
			{
				SSRC:               s.publisherSSRC,
				LastSequenceNumber: uint32(s.seqCycles)<<16 | uint32(s.lastSeq),
				LastSenderReport:   s.lastSenderReport,
			},
		},
	}

	data, err := rr.Marshal()
	if err != nil {
		return nil, false
	}
	return data, true
}

// NewMulticast joins the multicast group/port pair announced in the
// server's SETUP response.
func NewMulticast(cfg Config, sink Sink) (*Stream, error) {
	rtp, err := newMulticastSocket(cfg.MulticastGroup, cfg.ServerRTPPort, cfg.MulticastInterface, cfg.UDPBufferSize)
	if err != nil {
		return nil, liberrors.ErrResourceAllocation{StreamIndex: cfg.StreamIndex, Err: err}
	}

	rtcp, err := newMulticastSocket(cfg.MulticastGroup, cfg.ServerRTCPPort, cfg.MulticastInterface, cfg.UDPBufferSize)
	if err != nil {
		rtp.close()
		return nil, liberrors.ErrResourceAllocation{StreamIndex: cfg.StreamIndex, Err: err}
	}

	s := &Stream{cfg: cfg, kind: "multicast", rtpSocket: rtp, rtcpSocket: rtcp, sink: sink, receiverSSRC: rand.Uint32()}

	rtp.start(cfg.MulticastGroup, false, s.handleRTP)
	rtcp.start(cfg.MulticastGroup, false, s.handleRTCP)

	return s, nil
}

// NewInterleaved registers the stream's two channel numbers as frame
// sinks on conn; no sockets are owned, the RTSP TCP connection carries
// the media.
func NewInterleaved(cfg Config, conn InterleavedWriter, sink Sink) *Stream {
	s := &Stream{cfg: cfg, kind: "interleaved", conn: conn, sink: sink, receiverSSRC: rand.Uint32()}

	conn.RegisterSink(cfg.InterleavedRTPChannel, func(fr *base.InterleavedFrame) {
		s.handleRTP(fr.Payload, time.Now())
	})
	conn.RegisterSink(cfg.InterleavedRTCPChannel, func(fr *base.InterleavedFrame) {
		s.handleRTCP(fr.Payload, time.Now())
	})

	return s
}

// WriteRTCP sends payload back to the server: over the RTCP socket for
// UDP/multicast, or as an interleaved frame on the RTCP channel for TCP.
func (s *Stream) WriteRTCP(payload []byte) error {
	switch s.kind {
	case "udp":
		remote := &net.UDPAddr{IP: s.cfg.ServerIP, Port: s.cfg.ServerRTCPPort}
		return s.rtcpSocket.write(payload, remote, s.cfg.WriteTimeout)

	case "multicast":
		return fmt.Errorf("cannot send RTCP on a multicast stream")

	case "interleaved":
		fr := &base.InterleavedFrame{Channel: s.cfg.InterleavedRTCPChannel, Payload: payload}
		return s.conn.WriteInterleavedFrame(fr)

	default:
		return fmt.Errorf("unknown stream kind %q", s.kind)
	}
}

// LastPacketTime returns the most recent packet arrival time across both
// the RTP and RTCP sockets; zero for interleaved streams (liveness there
// piggybacks on the Connection's own read loop).
func (s *Stream) LastPacketTime() time.Time {
	if s.rtpSocket == nil {
		return time.Time{}
	}
	rtp := s.rtpSocket.lastPacketTime()
	rtcp := s.rtcpSocket.lastPacketTime()
	if rtcp.After(rtp) {
		return rtcp
	}
	return rtp
}

// Close releases every resource the stream holds: UDP sockets are
// closed, multicast groups are left implicitly on close, and interleaved
// channel registrations are removed.
func (s *Stream) Close() {
	switch s.kind {
	case "udp", "multicast":
		s.rtpSocket.close()
		s.rtcpSocket.close()

	case "interleaved":
		s.conn.RegisterSink(s.cfg.InterleavedRTPChannel, nil)
		s.conn.RegisterSink(s.cfg.InterleavedRTCPChannel, nil)
	}
}

// ClientPorts returns the bound local RTP/RTCP ports, valid for UDP
// unicast streams only (needed to fill in client_port when it wasn't
// pinned by the caller).
func (s *Stream) ClientPorts() (int, int) {
	if s.rtpSocket == nil {
		return 0, 0
	}
	return s.rtpSocket.port(), s.rtcpSocket.port()
}

// PendingUDPPorts is a client-side RTP/RTCP socket pair opened before
// SETUP is sent, so their port numbers can be offered in the Transport
// header; the server's SETUP response is needed before delivery can
// start (its own server_port and IP complete the Config), so allocation
// and activation are split into OpenUDPPorts and Bind.
type PendingUDPPorts struct {
	rtp, rtcp *udpSocket
}

// OpenUDPPorts binds an even/odd RTP/RTCP port pair. If low/high bound a
// range, a random even candidate in that range is tried repeatedly until
// both ports bind; a zero range binds OS-ephemeral ports and pairs RTCP
// at rtp+1, retrying on collision the same way the teacher's
// createUDPListeners does for its no-port-range case.
func OpenUDPPorts(low, high, bufferSize int) (*PendingUDPPorts, error) {
	for {
		rtpAddr := ":0"
		if low > 0 && high > low {
			span := (high - low) / 2
			n, err := randIntN(span)
			if err != nil {
				return nil, err
			}
			rtpPort := low + low%2 + n*2
			rtpAddr = fmt.Sprintf(":%d", rtpPort)
		}

		rtp, err := newUDPSocket(rtpAddr, bufferSize)
		if err != nil {
			if rtpAddr == ":0" {
				return nil, err
			}
			continue
		}
		if rtp.port()%2 != 0 {
			rtp.close()
			continue
		}

		rtcp, err := newUDPSocket(fmt.Sprintf(":%d", rtp.port()+1), bufferSize)
		if err != nil {
			rtp.close()
			if rtpAddr == ":0" {
				continue
			}
			continue
		}

		return &PendingUDPPorts{rtp: rtp, rtcp: rtcp}, nil
	}
}

// ClientPorts returns the bound local RTP/RTCP ports.
func (p *PendingUDPPorts) ClientPorts() (int, int) {
	return p.rtp.port(), p.rtcp.port()
}

// Close releases the pending sockets without ever having started
// delivery; used when SETUP fails before Bind is called.
func (p *PendingUDPPorts) Close() {
	p.rtp.close()
	p.rtcp.close()
}

// Bind finishes constructing a Stream from the pending sockets once
// SETUP's response supplies the server's address and ports.
func (p *PendingUDPPorts) Bind(cfg Config, sink Sink) *Stream {
	s := &Stream{cfg: cfg, kind: "udp", rtpSocket: p.rtp, rtcpSocket: p.rtcp, sink: sink, receiverSSRC: rand.Uint32()}

	p.rtp.start(cfg.ServerIP, cfg.AnyPort, s.handleRTP)
	p.rtcp.start(cfg.ServerIP, cfg.AnyPort, s.handleRTCP)

	if cfg.NATDummy {
		remoteRTP := &net.UDPAddr{IP: cfg.ServerIP, Port: cfg.ServerRTPPort}
		remoteRTCP := &net.UDPAddr{IP: cfg.ServerIP, Port: cfg.ServerRTCPPort}
		for i := 0; i < 2; i++ {
			p.rtp.writePinhole(remoteRTP)   //nolint:errcheck
			p.rtcp.writePinhole(remoteRTCP) //nolint:errcheck
		}
	}

	return s
}
