// Package description maps a DESCRIBE response body into a Session
// description: one or more Media streams, each with a resolvable control
// URL. It is a deliberately trimmed reading of SDP (RFC 4566) — enough to
// drive SETUP, not a general-purpose SDP codec: FEC grouping and
// codec-specific format parameters are left to whatever consumes the RTP
// payloads downstream.
package description
