package description

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	psdp "github.com/pion/sdp/v3"

	"github.com/rivergate/rtspcore/base"
)

// MediaType is the type of a media stream, taken verbatim from the SDP
// "m=" line.
type MediaType string

// Media types seen in practice.
const (
	MediaTypeVideo       MediaType = "video"
	MediaTypeAudio       MediaType = "audio"
	MediaTypeApplication MediaType = "application"
)

// Direction is the stream's data flow direction relative to this client.
type Direction int

// Directions, derived from the SDP sendonly/recvonly/sendrecv attributes;
// absence of any of the three defaults to SendRecv per RFC 4566.
const (
	SendRecv Direction = iota
	SendOnly
	RecvOnly
)

// Format is one RTP payload format offered for a Media. Codec-specific
// decoding of fmtp parameters beyond clock rate and encoding name is left
// to the downstream consumer; this client only needs enough to complete
// SETUP and label incoming packets.
type Format struct {
	PayloadType byte
	EncodingName string
	ClockRate    int
	Channels     int // 0 when not applicable (e.g. video) or not specified
	FMTP         map[string]string
}

// Media is one media stream ("m=" section) within a Session.
type Media struct {
	Type      MediaType
	ID        string
	Direction Direction
	Control   string
	Formats   []Format
}

func getAttribute(attrs []psdp.Attribute, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func hasAttribute(attrs []psdp.Attribute, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

func isAlphaNumeric(v string) bool {
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

// unmarshal decodes one SDP media description into m.
func (m *Media) unmarshal(md *psdp.MediaDescription) error {
	m.Type = MediaType(md.MediaName.Media)

	m.ID = getAttribute(md.Attributes, "mid")
	if m.ID != "" && !isAlphaNumeric(m.ID) {
		return fmt.Errorf("invalid mid: %v", m.ID)
	}

	switch {
	case hasAttribute(md.Attributes, "sendonly"):
		m.Direction = SendOnly
	case hasAttribute(md.Attributes, "recvonly"):
		m.Direction = RecvOnly
	default:
		m.Direction = SendRecv
	}

	m.Control = getAttribute(md.Attributes, "control")

	if len(md.MediaName.Formats) == 0 {
		return fmt.Errorf("no formats found")
	}

	fmtps := make(map[string]map[string]string)
	for _, attr := range md.Attributes {
		if attr.Key != "fmtp" {
			continue
		}
		parts := strings.SplitN(attr.Value, " ", 2)
		if len(parts) != 2 {
			continue
		}
		kv := make(map[string]string)
		for _, pair := range strings.Split(parts[1], ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			if i := strings.IndexByte(pair, '='); i >= 0 {
				kv[strings.TrimSpace(pair[:i])] = strings.TrimSpace(pair[i+1:])
			}
		}
		fmtps[parts[0]] = kv
	}

	for _, pts := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(pts, 10, 8)
		if err != nil {
			return fmt.Errorf("invalid payload type '%s': %w", pts, err)
		}

		f := Format{PayloadType: byte(pt), FMTP: fmtps[pts]}

		if rtpmap := getAttribute(md.Attributes, "rtpmap"); rtpmap != "" {
			rparts := strings.SplitN(rtpmap, " ", 2)
			if len(rparts) == 2 && rparts[0] == pts {
				nameParts := strings.Split(rparts[1], "/")
				f.EncodingName = nameParts[0]
				if len(nameParts) > 1 {
					if cr, err := strconv.Atoi(nameParts[1]); err == nil {
						f.ClockRate = cr
					}
				}
				if len(nameParts) > 2 {
					if ch, err := strconv.Atoi(nameParts[2]); err == nil {
						f.Channels = ch
					}
				}
			}
		}

		m.Formats = append(m.Formats, f)
	}

	return nil
}

// URL returns the absolute control URL of m, resolved against baseURL
// (the session's Content-Base, or the original request URL if absent).
func (m Media) URL(baseURL *base.URL) (*base.URL, error) {
	if baseURL == nil {
		return nil, fmt.Errorf("no base URL available to resolve media control against")
	}

	if m.Control == "" {
		return baseURL, nil
	}

	if strings.HasPrefix(m.Control, "rtsp://") ||
		strings.HasPrefix(m.Control, "rtsps://") ||
		strings.HasPrefix(m.Control, "rtsph://") {
		ur, err := base.ParseURL(m.Control)
		if err != nil {
			return nil, err
		}
		return ur, nil
	}

	return baseURL.ResolveControlPath(m.Control), nil
}
