package description

import (
	"fmt"

	psdp "github.com/pion/sdp/v3"

	"github.com/rivergate/rtspcore/base"
)

func hasMediaWithID(medias []*Media, id string) bool {
	for _, m := range medias {
		if m.ID == id {
			return true
		}
	}
	return false
}

func atLeastOneHasID(medias []*Media) bool {
	for _, m := range medias {
		if m.ID != "" {
			return true
		}
	}
	return false
}

func atLeastOneLacksID(medias []*Media) bool {
	for _, m := range medias {
		if m.ID == "" {
			return true
		}
	}
	return false
}

// Session is a parsed DESCRIBE response body: the stream-level metadata
// plus one Media per SDP "m=" section.
type Session struct {
	// BaseURL is Content-Base (or Content-Location, or the request URL)
	// from the DESCRIBE response; Media control URLs resolve against it.
	BaseURL *base.URL

	Title  string
	Medias []*Media
}

// FindFormat searches every Media for a format whose encoding name
// matches name, returning the owning Media and Format.
func (s *Session) FindFormat(name string) (*Media, *Format) {
	for _, m := range s.Medias {
		for _, f := range m.Formats {
			if f.EncodingName == name {
				return m, &f //nolint:scopelint
			}
		}
	}
	return nil, nil
}

// Unmarshal decodes an SDP session description produced by DESCRIBE.
func (s *Session) Unmarshal(raw []byte) error {
	var ssd psdp.SessionDescription
	if err := ssd.Unmarshal(raw); err != nil {
		return fmt.Errorf("invalid SDP: %w", err)
	}

	s.Title = string(ssd.SessionName)
	if s.Title == " " {
		s.Title = ""
	}

	if len(ssd.MediaDescriptions) == 0 {
		return fmt.Errorf("no media streams present in SDP")
	}

	s.Medias = make([]*Media, len(ssd.MediaDescriptions))
	for i, md := range ssd.MediaDescriptions {
		var m Media
		if err := m.unmarshal(md); err != nil {
			return fmt.Errorf("media %d is invalid: %w", i+1, err)
		}
		if m.ID != "" && hasMediaWithID(s.Medias[:i], m.ID) {
			return fmt.Errorf("duplicate media IDs")
		}
		s.Medias[i] = &m
	}

	if atLeastOneHasID(s.Medias) && atLeastOneLacksID(s.Medias) {
		return fmt.Errorf("media IDs sent partially")
	}

	return nil
}
