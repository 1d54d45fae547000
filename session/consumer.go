package session

import "time"

// Consumer is the downstream interface a Session drives. Every method may
// be called concurrently from the Session's internal goroutines (control,
// reader, per-stream UDP readers) and must not block for long; do any
// heavy lifting on a separate goroutine.
type Consumer interface {
	// OnStreamReady fires once per stream, after its SETUP succeeds.
	// control is the stream's SDP control attribute (often a relative
	// path, sometimes empty when the media inherits the session URL).
	OnStreamReady(streamIndex int, control string)

	// OnRTP/OnRTCP deliver payloads in arrival order, per stream.
	OnRTP(streamIndex int, payload []byte, receivedAt time.Time)
	OnRTCP(streamIndex int, payload []byte, receivedAt time.Time)

	// OnEOS fires once per stream on a clean end (TEARDOWN, server FIN
	// outside a reconnect window).
	OnEOS(streamIndex int, reason string)

	// OnError fires once, for the session's terminal failure. streamIndex
	// is -1 when the error is not specific to one stream.
	OnError(streamIndex int, err error)
}

// NopConsumer implements Consumer with no-ops, useful for tests or
// headless diagnostic runs.
type NopConsumer struct{}

func (NopConsumer) OnStreamReady(int, string)                 {}
func (NopConsumer) OnRTP(int, []byte, time.Time)              {}
func (NopConsumer) OnRTCP(int, []byte, time.Time)             {}
func (NopConsumer) OnEOS(int, string)                         {}
func (NopConsumer) OnError(int, error)                        {}
