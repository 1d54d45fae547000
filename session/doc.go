// Package session implements the RTSP client session lifecycle: the
// OPTIONS/DESCRIBE/SETUP/PLAY/PAUSE/TEARDOWN state machine, the keep-alive
// timer, and reconnection via the retry package. It is the orchestration
// layer that owns a wireconn.Connection and a transport.Stream per media,
// and is the only package downstream consumers talk to directly.
package session
