// Package base contains the wire-level primitives of RTSP 1.0: methods,
// status codes, headers, requests, responses, interleaved frames and URLs.
// Nothing in this package blocks or allocates beyond what a single
// message requires; higher packages build the connection and session
// machinery on top of it.
package base
