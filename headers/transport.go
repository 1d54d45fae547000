package headers

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/rivergate/rtspcore/base"
)

// TransportProtocol is the underlying transport of a stream.
type TransportProtocol int

const (
	TransportProtocolUDP TransportProtocol = iota
	TransportProtocolTCP
)

// TransportDelivery is a stream's delivery method.
type TransportDelivery int

const (
	TransportDeliveryUnicast TransportDelivery = iota
	TransportDeliveryMulticast
)

// TransportMode distinguishes play from record; this client only ever
// sends TransportModePlay, but a server's response is still parsed.
type TransportMode int

const (
	TransportModePlay TransportMode = iota
	TransportModeRecord
)

// Transport is a Transport header, as sent on SETUP and echoed by the
// server's SETUP response.
type Transport struct {
	Protocol TransportProtocol

	Delivery       *TransportDelivery
	Source         *net.IP
	Destination    *net.IP
	InterleavedIDs *[2]int
	TTL            *uint
	Ports          *[2]int
	ClientPorts    *[2]int
	ServerPorts    *[2]int
	SSRC           *uint32
	Mode           *TransportMode
}

func parsePorts(val string) (*[2]int, error) {
	parts := strings.Split(val, "-")

	switch len(parts) {
	case 2:
		p1, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}
		p2, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}
		return &[2]int{int(p1), int(p2)}, nil

	case 1:
		p1, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}
		return &[2]int{int(p1), int(p1 + 1)}, nil

	default:
		return nil, fmt.Errorf("invalid ports (%v)", val)
	}
}

// Read decodes a Transport header value.
func (h *Transport) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	kvs, err := keyValParse(v[0], ';')
	if err != nil {
		return err
	}

	protocolFound := false

	for k, v := range kvs {
		switch k {
		case "RTP/AVP", "RTP/AVP/UDP":
			h.Protocol = TransportProtocolUDP
			protocolFound = true

		case "RTP/AVP/TCP":
			h.Protocol = TransportProtocolTCP
			protocolFound = true

		case "unicast":
			d := TransportDeliveryUnicast
			h.Delivery = &d

		case "multicast":
			d := TransportDeliveryMulticast
			h.Delivery = &d

		case "source":
			if v != "" {
				ip := net.ParseIP(v)
				if ip == nil {
					return fmt.Errorf("invalid source (%v)", v)
				}
				h.Source = &ip
			}

		case "destination":
			if v != "" {
				ip := net.ParseIP(v)
				if ip == nil {
					return fmt.Errorf("invalid destination (%v)", v)
				}
				h.Destination = &ip
			}

		case "interleaved":
			ids, err := parsePorts(v)
			if err != nil {
				return err
			}
			h.InterleavedIDs = ids

		case "ttl":
			tmp, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return err
			}
			vu := uint(tmp)
			h.TTL = &vu

		case "port":
			ports, err := parsePorts(v)
			if err != nil {
				return err
			}
			h.Ports = ports

		case "client_port":
			ports, err := parsePorts(v)
			if err != nil {
				return err
			}
			h.ClientPorts = ports

		case "server_port":
			ports, err := parsePorts(v)
			if err != nil {
				return err
			}
			h.ServerPorts = ports

		case "ssrc":
			v = strings.TrimLeft(v, " ")
			if len(v)%2 != 0 {
				v = "0" + v
			}
			tmp, err := hex.DecodeString(v)
			if err != nil {
				return err
			}
			if len(tmp) > 4 {
				return fmt.Errorf("invalid SSRC")
			}
			var ssrc [4]byte
			copy(ssrc[4-len(tmp):], tmp)
			s := binary.BigEndian.Uint32(ssrc[:])
			h.SSRC = &s

		case "mode":
			str := strings.ToLower(strings.Trim(v, `"`))
			switch str {
			case "play":
				m := TransportModePlay
				h.Mode = &m
			case "record", "receive":
				m := TransportModeRecord
				h.Mode = &m
			default:
				return fmt.Errorf("invalid transport mode: '%s'", str)
			}

		default:
			// ignore non-standard keys
		}
	}

	if !protocolFound {
		return fmt.Errorf("protocol not found (%v)", v[0])
	}

	return nil
}

// Write encodes a Transport header value.
func (h Transport) Write() base.HeaderValue {
	var parts []string

	if h.Protocol == TransportProtocolUDP {
		parts = append(parts, "RTP/AVP")
	} else {
		parts = append(parts, "RTP/AVP/TCP")
	}

	if h.Delivery != nil {
		if *h.Delivery == TransportDeliveryUnicast {
			parts = append(parts, "unicast")
		} else {
			parts = append(parts, "multicast")
		}
	}

	if h.Source != nil {
		parts = append(parts, "source="+h.Source.String())
	}

	if h.Destination != nil {
		parts = append(parts, "destination="+h.Destination.String())
	}

	if h.InterleavedIDs != nil {
		parts = append(parts, fmt.Sprintf("interleaved=%d-%d", h.InterleavedIDs[0], h.InterleavedIDs[1]))
	}

	if h.Ports != nil {
		parts = append(parts, fmt.Sprintf("port=%d-%d", h.Ports[0], h.Ports[1]))
	}

	if h.TTL != nil {
		parts = append(parts, "ttl="+strconv.FormatUint(uint64(*h.TTL), 10))
	}

	if h.ClientPorts != nil {
		parts = append(parts, fmt.Sprintf("client_port=%d-%d", h.ClientPorts[0], h.ClientPorts[1]))
	}

	if h.ServerPorts != nil {
		parts = append(parts, fmt.Sprintf("server_port=%d-%d", h.ServerPorts[0], h.ServerPorts[1]))
	}

	if h.SSRC != nil {
		tmp := make([]byte, 4)
		binary.BigEndian.PutUint32(tmp, *h.SSRC)
		parts = append(parts, "ssrc="+strings.ToUpper(hex.EncodeToString(tmp)))
	}

	if h.Mode != nil {
		if *h.Mode == TransportModePlay {
			parts = append(parts, "mode=play")
		} else {
			parts = append(parts, "mode=record")
		}
	}

	return base.HeaderValue{strings.Join(parts, ";")}
}
