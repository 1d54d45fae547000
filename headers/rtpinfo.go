package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rivergate/rtspcore/base"
)

// RTPInfoEntry is one stream's entry within an RTP-Info header.
type RTPInfoEntry struct {
	URL            string
	SequenceNumber *uint16
	Timestamp      *uint32
}

// RTPInfo is the RTP-Info header sent with a 200 response to PLAY.
type RTPInfo []*RTPInfoEntry

// Read decodes an RTP-Info header value.
func (h *RTPInfo) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	for _, tmp := range strings.Split(v[0], ",") {
		e := &RTPInfoEntry{}

		for _, kv := range strings.Split(tmp, ";") {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("unable to parse key-value (%v)", kv)
			}
			k, v := parts[0], parts[1]

			switch k {
			case "url":
				e.URL = v
			case "seq":
				vi, err := strconv.ParseUint(v, 10, 16)
				if err != nil {
					return err
				}
				vi2 := uint16(vi)
				e.SequenceNumber = &vi2
			case "rtptime":
				vi, err := strconv.ParseUint(v, 10, 32)
				if err != nil {
					return err
				}
				vi2 := uint32(vi)
				e.Timestamp = &vi2
			default:
				return fmt.Errorf("invalid key: %v", k)
			}
		}

		if e.URL == "" {
			return fmt.Errorf("URL is missing")
		}

		*h = append(*h, e)
	}

	return nil
}

// Write encodes an RTP-Info header value.
func (h RTPInfo) Write() base.HeaderValue {
	parts := make([]string, len(h))

	for i, e := range h {
		var tmp []string
		tmp = append(tmp, "url="+e.URL)

		if e.SequenceNumber != nil {
			tmp = append(tmp, "seq="+strconv.FormatUint(uint64(*e.SequenceNumber), 10))
		}
		if e.Timestamp != nil {
			tmp = append(tmp, "rtptime="+strconv.FormatUint(uint64(*e.Timestamp), 10))
		}

		parts[i] = strings.Join(tmp, ";")
	}

	return base.HeaderValue{strings.Join(parts, ",")}
}
