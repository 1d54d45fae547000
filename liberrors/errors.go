// Package liberrors contains the typed error values returned across the
// module. One exported struct per failure kind, each carrying whatever
// context a caller needs to branch on or log, following the convention of
// error structs over plain errors.New.
package liberrors

import (
	"fmt"

	"github.com/rivergate/rtspcore/base"
)

// ErrMalformedMessage is returned by the wire codec when a request or
// response cannot be parsed.
type ErrMalformedMessage struct {
	Err error
}

func (e ErrMalformedMessage) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e ErrMalformedMessage) Unwrap() error { return e.Err }

// ErrBodyTooLarge is returned when a Content-Length exceeds the configured cap.
type ErrBodyTooLarge struct {
	Length, Max int64
}

func (e ErrBodyTooLarge) Error() string {
	return fmt.Sprintf("body too large: %d bytes (max %d)", e.Length, e.Max)
}

// ErrUnexpectedEOF is returned when the peer closes the connection mid-message.
type ErrUnexpectedEOF struct{}

func (e ErrUnexpectedEOF) Error() string { return "unexpected EOF" }

// ErrClosed is returned by any Connection operation issued after close/EOF.
type ErrClosed struct{}

func (e ErrClosed) Error() string { return "connection is closed" }

// ErrDropped is returned when a pending request never received a response
// because the connection was dropped.
type ErrDropped struct {
	Reason string
}

func (e ErrDropped) Error() string { return fmt.Sprintf("dropped: %s", e.Reason) }

// ErrRequestTimeout is returned when a request has no matching response
// within the configured tcp-timeout.
type ErrRequestTimeout struct {
	Method base.Method
	CSeq   int
}

func (e ErrRequestTimeout) Error() string {
	return fmt.Sprintf("request timeout: %s (CSeq %d)", e.Method, e.CSeq)
}

// ErrInvalidStatusCode is returned when a response's status code is not the
// one the caller expected.
type ErrInvalidStatusCode struct {
	Code    base.StatusCode
	Message string
}

func (e ErrInvalidStatusCode) Error() string {
	return fmt.Sprintf("invalid status code: %d (%s)", e.Code, e.Message)
}

// ErrAuthFailed is returned after three nonce-fresh 401 challenges, or a 403.
type ErrAuthFailed struct {
	Attempts int
}

func (e ErrAuthFailed) Error() string {
	return fmt.Sprintf("authentication failed after %d attempts", e.Attempts)
}

// ErrNoUsableTransport is returned when every transport alternative for a
// stream has been exhausted during SETUP.
type ErrNoUsableTransport struct {
	StreamIndex int
}

func (e ErrNoUsableTransport) Error() string {
	return fmt.Sprintf("no usable transport for stream %d", e.StreamIndex)
}

// ErrNoStreams is returned when a DESCRIBE response's SDP has no media
// sections, or stream-selection policy filters all of them out.
type ErrNoStreams struct{}

func (e ErrNoStreams) Error() string { return "no streams available" }

// ErrInvalidState is returned when an operation is requested while the
// session is in a state that does not allow it.
type ErrInvalidState struct {
	Allowed []fmt.Stringer
	Current fmt.Stringer
}

func (e ErrInvalidState) Error() string {
	return fmt.Sprintf("must be in state %v, is in state %v", e.Allowed, e.Current)
}

// ErrTransportHeaderInvalid wraps a Transport header parse failure.
type ErrTransportHeaderInvalid struct {
	Err error
}

func (e ErrTransportHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid transport header: %v", e.Err)
}

func (e ErrTransportHeaderInvalid) Unwrap() error { return e.Err }

// ErrSessionHeaderInvalid wraps a Session header parse failure.
type ErrSessionHeaderInvalid struct {
	Err error
}

func (e ErrSessionHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid session header: %v", e.Err)
}

func (e ErrSessionHeaderInvalid) Unwrap() error { return e.Err }

// ErrServerPortsNotProvided is returned when a UDP SETUP response's
// Transport header lacks server_port; there is no option to accept it.
type ErrServerPortsNotProvided struct{}

func (e ErrServerPortsNotProvided) Error() string {
	return "server ports have not been provided"
}

// ErrConfiguration is returned at Start() when SessionConfig is invalid.
type ErrConfiguration struct {
	Field  string
	Reason string
}

func (e ErrConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// ErrResourceAllocation is returned when a port or multicast-group
// allocation fails for a stream.
type ErrResourceAllocation struct {
	StreamIndex int
	Err         error
}

func (e ErrResourceAllocation) Error() string {
	return fmt.Sprintf("resource allocation failed for stream %d: %v", e.StreamIndex, e.Err)
}

func (e ErrResourceAllocation) Unwrap() error { return e.Err }
