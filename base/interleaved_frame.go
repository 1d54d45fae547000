package base

import (
	"bufio"
	"fmt"
	"io"
)

// InterleavedFrameMagicByte marks the start of an interleaved frame inside
// an otherwise RTSP-message byte stream.
const InterleavedFrameMagicByte = 0x24 // '$'

// MaxInterleavedPayloadSize is the largest payload an InterleavedFrame can
// carry; the length field is a 16-bit unsigned big-endian integer.
const MaxInterleavedPayloadSize = 65535

// InterleavedFrame carries RTP or RTCP data multiplexed into the RTSP TCP
// stream: `$` + channel(1B) + length(2B big-endian) + payload.
type InterleavedFrame struct {
	Channel int
	Payload []byte
}

// Unmarshal decodes an InterleavedFrame whose magic byte has already been
// consumed by the caller (the wire codec peeks it to decide between a
// message and a frame).
func (f *InterleavedFrame) Unmarshal(br *bufio.Reader) error {
	var header [3]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return err
	}

	payloadLen := int(uint16(header[1])<<8 | uint16(header[2]))

	f.Channel = int(header[0])
	f.Payload = make([]byte, payloadLen)

	_, err := io.ReadFull(br, f.Payload)
	return err
}

// MarshalSize returns the encoded size of f, including the 4-byte header.
func (f InterleavedFrame) MarshalSize() int {
	return 4 + len(f.Payload)
}

// MarshalTo encodes f into buf, which must be at least MarshalSize() bytes.
func (f InterleavedFrame) MarshalTo(buf []byte) (int, error) {
	if len(f.Payload) > MaxInterleavedPayloadSize {
		return 0, fmt.Errorf("payload too large (%d bytes)", len(f.Payload))
	}

	pos := 0
	pos += copy(buf[pos:], []byte{InterleavedFrameMagicByte, byte(f.Channel)})

	payloadLen := len(f.Payload)
	buf[pos] = byte(payloadLen >> 8)
	buf[pos+1] = byte(payloadLen)
	pos += 2

	pos += copy(buf[pos:], f.Payload)

	return pos, nil
}

// Marshal encodes f into a freshly allocated buffer.
func (f InterleavedFrame) Marshal() ([]byte, error) {
	buf := make([]byte, f.MarshalSize())
	_, err := f.MarshalTo(buf)
	return buf, err
}
