package base

import (
	"bufio"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	headerMaxEntryCount  = 255
	headerMaxKeyLength   = 512
	headerMaxValueLength = 8192
)

func headerKeyNormalize(in string) string {
	switch strings.ToLower(in) {
	case "rtp-info":
		return "RTP-Info"
	case "www-authenticate":
		return "WWW-Authenticate"
	case "cseq":
		return "CSeq"
	}
	return http.CanonicalHeaderKey(in)
}

// HeaderValue is a header value: RTSP allows repeating the same header
// name across multiple lines, so every key maps to a slice.
type HeaderValue []string

// Header is the header section of a Request or Response.
type Header map[string]HeaderValue

// Get returns the first value associated with key, or "" if absent.
func (h Header) Get(key string) string {
	v, ok := h[headerKeyNormalize(key)]
	if !ok || len(v) == 0 {
		return ""
	}
	return v[0]
}

// Set overwrites any existing values for key.
func (h Header) Set(key, value string) {
	h[headerKeyNormalize(key)] = HeaderValue{value}
}

func (h *Header) read(rb *bufio.Reader) error {
	*h = make(Header)
	count := 0

	for {
		byt, err := rb.ReadByte()
		if err != nil {
			return err
		}

		if byt == '\r' {
			if err := readByteEqual(rb, '\n'); err != nil {
				return err
			}
			break
		}

		// LWS folding: a header continuation line starts with a space or tab.
		if byt == ' ' || byt == '\t' {
			return fmt.Errorf("line folding is not supported")
		}

		if count >= headerMaxEntryCount {
			return fmt.Errorf("headers count exceeds %d", headerMaxEntryCount)
		}

		key := string([]byte{byt})
		byts, err := readBytesLimited(rb, ':', headerMaxKeyLength-1)
		if err != nil {
			return fmt.Errorf("value is missing")
		}
		key += string(byts[:len(byts)-1])
		key = headerKeyNormalize(key)

		// RFC 2616: the field value MAY be preceded by any amount of spaces.
		for {
			byt, err := rb.ReadByte()
			if err != nil {
				return err
			}
			if byt != ' ' {
				break
			}
		}
		rb.UnreadByte() //nolint:errcheck

		byts, err = readBytesLimited(rb, '\r', headerMaxValueLength)
		if err != nil {
			return err
		}
		val := string(byts[:len(byts)-1])

		if err := readByteEqual(rb, '\n'); err != nil {
			return err
		}

		(*h)[key] = append((*h)[key], val)
		count++
	}

	return nil
}

func (h Header) write(wb *bufio.Writer) error {
	keys := make([]string, 0, len(h))
	for key := range h {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, val := range h[key] {
			if _, err := wb.Write([]byte(key + ": " + val + "\r\n")); err != nil {
				return err
			}
		}
	}

	_, err := wb.Write([]byte("\r\n"))
	return err
}
