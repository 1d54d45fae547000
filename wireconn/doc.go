// Package wireconn implements the RTSP wire codec and the Connection type:
// the thing that owns one transport to one server, drives the codec, pairs
// requests with responses by CSeq and demultiplexes interleaved frames to
// per-channel sinks. Connection is agnostic to the underlying transport —
// Plain, TLS and HTTP-tunnel variants are all just a net.Conn to it.
package wireconn
