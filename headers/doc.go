// Package headers decodes and encodes the structured RTSP headers the
// session layer needs: Transport, Session, Authenticate/Authorization and
// RTP-Info. Each type implements a Read(base.HeaderValue) error /
// Write() base.HeaderValue pair, mirroring how base.Header stores values.
package headers
