package session

import (
	"crypto/tls"
	"time"

	"github.com/rivergate/rtspcore/description"
	"github.com/rivergate/rtspcore/liberrors"
	"github.com/rivergate/rtspcore/retry"
)

// TransportKind is one RTP delivery mechanism a Session may negotiate
// during SETUP, in the order it appears in Config.Protocols.
type TransportKind int

// Transport kinds, named after the config surface's "protocols" values.
const (
	TransportUDP TransportKind = iota
	TransportUDPMulticast
	TransportTCP
)

// NATMethod selects how UDP streams open router pinholes.
type NATMethod int

const (
	NATMethodNone NATMethod = iota
	NATMethodDummy
)

// StreamFilter decides whether a described Media should be set up at all;
// returning false skips it. A nil filter accepts every media.
type StreamFilter func(m *description.Media) bool

// Config is the full configuration surface for a Session, matching every
// option this client recognizes.
type Config struct {
	// Location is the target server, e.g. "rtsp://user:pw@10.0.0.1/cam".
	Location string

	// UserID/UserPW override credentials embedded in Location, when set.
	UserID, UserPW string

	// Protocols is the RTP transport preference order tried during SETUP.
	// Defaults to [TransportUDP, TransportTCP, TransportUDPMulticast].
	Protocols []TransportKind

	// Latency is forwarded to the downstream consumer; it has no effect
	// on this package's behavior.
	Latency time.Duration

	DoRTCP          bool
	DoKeepAlive     bool
	TCPTimeout      time.Duration
	TeardownTimeout time.Duration
	UDPReconnect    bool
	UDPBufferSize   int

	// PortRangeLow/High bound client-side UDP port allocation; both zero
	// means OS-ephemeral.
	PortRangeLow, PortRangeHigh int

	MulticastInterface string
	NATMethod          NATMethod

	IgnoreXServerReply   bool
	ForceNonCompliantURL bool

	Retry                   retry.Config
	MaxReconnectionAttempts int // -1 = infinite

	TLSConfig *tls.Config
	UserAgent string

	StreamFilter StreamFilter

	// ProfileDir roots the adaptive-mode persistence cache; empty disables
	// persistence even when Retry.Strategy is retry.Adaptive.
	ProfileDir string

	// Backchannel/ONVIF flags. ONVIFMode adds a
	// "Require: www.onvif.org/ver20/backchannel" header to DESCRIBE and
	// SETUP; in that mode, ONVIFRate also adds "Rate-Control: yes|no"
	// (nil defaults to "yes"). This client never interprets the
	// backchannel stream itself beyond labeling it for the downstream
	// consumer.
	Backchannel bool
	ONVIFMode   bool
	ONVIFRate   *bool
}

// DefaultConfig returns the documented defaults for every option.
func DefaultConfig() Config {
	return Config{
		Protocols:               []TransportKind{TransportUDP, TransportTCP, TransportUDPMulticast},
		Latency:                 2 * time.Second,
		DoRTCP:                  true,
		DoKeepAlive:             true,
		TCPTimeout:              20 * time.Second,
		TeardownTimeout:         100 * time.Millisecond,
		UDPReconnect:            true,
		UDPBufferSize:           0x80000,
		NATMethod:               NATMethodDummy,
		Retry:                   retry.DefaultConfig(),
		MaxReconnectionAttempts: 5,
		UserAgent:               "rtspcore",
	}
}

// validate rejects configuration errors before any I/O is attempted, per
// the "Configuration" error class: fail at start() before any I/O.
func (c Config) validate() error {
	if c.Location == "" {
		return liberrors.ErrConfiguration{Field: "Location", Reason: "must not be empty"}
	}
	if c.PortRangeLow != 0 && c.PortRangeHigh != 0 && c.PortRangeLow >= c.PortRangeHigh {
		return liberrors.ErrConfiguration{Field: "PortRangeLow/High", Reason: "low must be < high"}
	}
	if len(c.Protocols) == 0 {
		return liberrors.ErrConfiguration{Field: "Protocols", Reason: "must name at least one transport"}
	}
	return nil
}
