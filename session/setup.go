package session

import (
	"fmt"
	"net"
	"time"

	"github.com/rivergate/rtspcore/base"
	"github.com/rivergate/rtspcore/description"
	"github.com/rivergate/rtspcore/headers"
	"github.com/rivergate/rtspcore/liberrors"
	"github.com/rivergate/rtspcore/transport"
	"github.com/rivergate/rtspcore/wireconn"
)

// setupAll sends one SETUP per selected media, trying cfg.Protocols in
// order until one is accepted, and returns the resulting transports. The
// Session header from the first successful SETUP response seeds
// s.sessionID/s.sessionTimeout for every request that follows.
func (s *Session) setupAll(conn *wireconn.Connection, baseURL *base.URL, medias []*description.Media) ([]*mediaStream, error) {
	var streams []*mediaStream
	nextChannel := 0

	for i, media := range medias {
		ur, err := media.URL(baseURL)
		if err != nil {
			return streams, liberrors.ErrConfiguration{Field: "SDP control", Reason: err.Error()}
		}

		st, used, err := s.setupOne(conn, ur, i, nextChannel)
		if err != nil {
			return streams, err
		}
		st.media = media
		streams = append(streams, st)

		if used == TransportTCP {
			nextChannel += 2
		}
	}

	return streams, nil
}

// setupOne tries each protocol in s.cfg.Protocols, in order, for one
// media, falling through to the next alternative on 461 Unsupported
// Transport (per the scenario where a server only accepts TCP).
func (s *Session) setupOne(conn *wireconn.Connection, ur *base.URL, streamIndex, tcpChannel int) (*mediaStream, TransportKind, error) {
	for _, kind := range s.cfg.Protocols {
		st, err := s.trySetup(conn, ur, streamIndex, kind, tcpChannel)
		if err == nil {
			return st, kind, nil
		}

		if ic, ok := err.(liberrors.ErrInvalidStatusCode); ok && ic.Code == base.StatusUnsupportedTransport {
			continue
		}

		return nil, 0, err
	}

	return nil, 0, liberrors.ErrNoUsableTransport{StreamIndex: streamIndex}
}

func (s *Session) trySetup(conn *wireconn.Connection, ur *base.URL, streamIndex int, kind TransportKind, tcpChannel int) (*mediaStream, error) {
	switch kind {
	case TransportUDP:
		return s.setupUDP(conn, ur, streamIndex)
	case TransportUDPMulticast:
		return s.setupMulticast(conn, ur, streamIndex)
	case TransportTCP:
		return s.setupTCP(conn, ur, streamIndex, tcpChannel)
	default:
		return nil, liberrors.ErrConfiguration{Field: "Protocols", Reason: "unknown transport kind"}
	}
}

func (s *Session) setupUDP(conn *wireconn.Connection, ur *base.URL, streamIndex int) (*mediaStream, error) {
	pending, err := transport.OpenUDPPorts(s.cfg.PortRangeLow, s.cfg.PortRangeHigh, s.cfg.UDPBufferSize)
	if err != nil {
		return nil, liberrors.ErrResourceAllocation{StreamIndex: streamIndex, Err: err}
	}

	rtpPort, rtcpPort := pending.ClientPorts()
	delivery := headers.TransportDeliveryUnicast

	th := headers.Transport{
		Protocol:    headers.TransportProtocolUDP,
		Delivery:    &delivery,
		ClientPorts: &[2]int{rtpPort, rtcpPort},
	}

	res, err := s.sendSetup(conn, ur, th)
	if err != nil {
		pending.Close()
		return nil, err
	}

	var respTH headers.Transport
	if err := respTH.Read(res.Header["Transport"]); err != nil {
		pending.Close()
		return nil, liberrors.ErrTransportHeaderInvalid{Err: err}
	}

	if respTH.ServerPorts == nil {
		pending.Close()
		return nil, liberrors.ErrServerPortsNotProvided{}
	}

	serverIP := net.ParseIP(ur.Hostname())
	if respTH.Source != nil {
		serverIP = *respTH.Source
	}

	cfg := transport.Config{
		StreamIndex:    streamIndex,
		ServerIP:       serverIP,
		ClientRTPPort:  rtpPort,
		ClientRTCPPort: rtcpPort,
		ServerRTPPort:  respTH.ServerPorts[0],
		ServerRTCPPort: respTH.ServerPorts[1],
		UDPBufferSize:  s.cfg.UDPBufferSize,
		AnyPort:        s.cfg.ForceNonCompliantURL,
		NATDummy:       s.cfg.NATMethod == NATMethodDummy,
	}

	tr := pending.Bind(cfg, s)
	return &mediaStream{index: streamIndex, kind: "udp", tr: tr}, nil
}

// setupMulticast negotiates a multicast delivery: unlike unicast, the
// client names no ports of its own (§4.5) — the server's SETUP response
// supplies the group address (Destination) and the port pair (Ports) to
// join, via transport.NewMulticast/net.ListenMulticastUDP.
func (s *Session) setupMulticast(conn *wireconn.Connection, ur *base.URL, streamIndex int) (*mediaStream, error) {
	delivery := headers.TransportDeliveryMulticast
	th := headers.Transport{
		Protocol: headers.TransportProtocolUDP,
		Delivery: &delivery,
	}

	res, err := s.sendSetup(conn, ur, th)
	if err != nil {
		return nil, err
	}

	var respTH headers.Transport
	if err := respTH.Read(res.Header["Transport"]); err != nil {
		return nil, liberrors.ErrTransportHeaderInvalid{Err: err}
	}

	if respTH.Delivery == nil || *respTH.Delivery != headers.TransportDeliveryMulticast {
		return nil, liberrors.ErrTransportHeaderInvalid{Err: fmt.Errorf("server did not confirm multicast delivery")}
	}
	if respTH.Destination == nil {
		return nil, liberrors.ErrTransportHeaderInvalid{Err: fmt.Errorf("no multicast destination provided")}
	}
	if respTH.Ports == nil {
		return nil, liberrors.ErrServerPortsNotProvided{}
	}

	cfg := transport.Config{
		StreamIndex:    streamIndex,
		ServerIP:       *respTH.Destination,
		MulticastGroup: *respTH.Destination,
		ServerRTPPort:  respTH.Ports[0],
		ServerRTCPPort: respTH.Ports[1],
		UDPBufferSize:  s.cfg.UDPBufferSize,
	}
	if s.cfg.MulticastInterface != "" {
		if iface, err := net.InterfaceByName(s.cfg.MulticastInterface); err == nil {
			cfg.MulticastInterface = iface
		}
	}

	tr, err := transport.NewMulticast(cfg, s)
	if err != nil {
		return nil, liberrors.ErrResourceAllocation{StreamIndex: streamIndex, Err: err}
	}

	return &mediaStream{index: streamIndex, kind: "multicast", tr: tr}, nil
}

func (s *Session) setupTCP(conn *wireconn.Connection, ur *base.URL, streamIndex, tcpChannel int) (*mediaStream, error) {
	th := headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		InterleavedIDs: &[2]int{tcpChannel, tcpChannel + 1},
	}

	if _, err := s.sendSetup(conn, ur, th); err != nil {
		return nil, err
	}

	cfg := transport.Config{
		StreamIndex:            streamIndex,
		InterleavedRTPChannel:  tcpChannel,
		InterleavedRTCPChannel: tcpChannel + 1,
		WriteTimeout:           s.cfg.TCPTimeout,
	}

	tr := transport.NewInterleaved(cfg, conn, s)
	return &mediaStream{index: streamIndex, kind: "interleaved", tr: tr}, nil
}

// sendSetup issues one SETUP with the given Transport alternative,
// carrying forward the Session header once the first stream has set one.
func (s *Session) sendSetup(conn *wireconn.Connection, ur *base.URL, th headers.Transport) (*base.Response, error) {
	extra := base.Header{"Transport": th.Write()}
	for k, v := range s.onvifExtraHeaders() {
		extra[k] = v
	}

	s.mu.Lock()
	sid := s.sessionID
	s.mu.Unlock()
	if sid != "" {
		extra["Session"] = headers.Session{Session: sid}.Write()
	}

	res, err := s.sendAuthorized(conn, base.Setup, ur, extra, nil)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != base.StatusOK {
		return nil, liberrors.ErrInvalidStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
	}

	var sh headers.Session
	if err := sh.Read(res.Header["Session"]); err != nil {
		return nil, liberrors.ErrSessionHeaderInvalid{Err: err}
	}

	s.mu.Lock()
	if s.sessionID == "" {
		s.sessionID = sh.Session
		if sh.Timeout != nil {
			s.sessionTimeout = time.Duration(*sh.Timeout) * time.Second
		} else {
			s.sessionTimeout = defaultSessionTimeout
		}
	}
	s.mu.Unlock()

	return res, nil
}
