package session

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rivergate/rtspcore/base"
)

const testSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=Example Stream\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"t=0 0\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=control:streamid=0\r\n"

// startFakeServer listens on 127.0.0.1:0 and drives handler over every
// accepted connection, pairing each request with the handler's response
// by CSeq. It returns the dialable address and a stop func.
func startFakeServer(t *testing.T, handler func(req *base.Request) *base.Response) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, handler)
		}
	}()

	t.Cleanup(func() {
		ln.Close() //nolint:errcheck
	})

	return ln.Addr().String()
}

func serveConn(conn net.Conn, handler func(req *base.Request) *base.Response) {
	defer conn.Close() //nolint:errcheck

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	for {
		var req base.Request
		if err := req.Read(br); err != nil {
			return
		}

		res := handler(&req)
		if res == nil {
			continue
		}
		if res.Header == nil {
			res.Header = make(base.Header)
		}
		res.Header["CSeq"] = req.Header["CSeq"]
		if err := res.Write(bw); err != nil {
			return
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func tcpOnlyConfig(location string) Config {
	cfg := DefaultConfig()
	cfg.Location = location
	cfg.Protocols = []TransportKind{TransportTCP}
	cfg.TCPTimeout = 2 * time.Second
	cfg.TeardownTimeout = 50 * time.Millisecond
	cfg.DoKeepAlive = false
	return cfg
}

// TestSessionStartPerformsFullHandshake drives a Session through
// OPTIONS -> DESCRIBE -> SETUP -> PLAY against a fake server that accepts
// everything on the first try, over a TCP-interleaved stream so no UDP
// socket allocation is involved.
func TestSessionStartPerformsFullHandshake(t *testing.T) {
	var mu sync.Mutex
	var seenMethods []base.Method

	addr := startFakeServer(t, func(req *base.Request) *base.Response {
		mu.Lock()
		seenMethods = append(seenMethods, req.Method)
		mu.Unlock()

		switch req.Method {
		case base.Options:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}

		case base.Describe:
			return &base.Response{
				StatusCode:    base.StatusOK,
				StatusMessage: "OK",
				Header: base.Header{
					"Content-Type": base.HeaderValue{"application/sdp"},
				},
				Body: []byte(testSDP),
			}

		case base.Setup:
			return &base.Response{
				StatusCode:    base.StatusOK,
				StatusMessage: "OK",
				Header: base.Header{
					"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1"},
					"Session":   base.HeaderValue{"12345678;timeout=60"},
				},
			}

		case base.Play:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}

		default:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}
		}
	})

	cfg := tcpOnlyConfig("rtsp://" + addr + "/stream")

	var consumerMu sync.Mutex
	var ready []int

	consumer := &recordingConsumer{
		onStreamReady: func(streamIndex int, control string) {
			consumerMu.Lock()
			ready = append(ready, streamIndex)
			consumerMu.Unlock()
		},
	}

	s, err := New(cfg, consumer, testLogger())
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	require.Equal(t, StatePlaying, s.State())

	consumerMu.Lock()
	require.Equal(t, []int{0}, ready)
	consumerMu.Unlock()

	mu.Lock()
	require.Contains(t, seenMethods, base.Options)
	require.Contains(t, seenMethods, base.Describe)
	require.Contains(t, seenMethods, base.Setup)
	require.Contains(t, seenMethods, base.Play)
	mu.Unlock()
}

// TestSessionStartRetriesAfterDigestChallenge checks that a 401 on OPTIONS,
// carrying a Digest challenge, is retried transparently and that the
// session still reaches StatePlaying.
func TestSessionStartRetriesAfterDigestChallenge(t *testing.T) {
	var mu sync.Mutex
	optionsAttempts := 0

	addr := startFakeServer(t, func(req *base.Request) *base.Response {
		switch req.Method {
		case base.Options:
			mu.Lock()
			optionsAttempts++
			attempt := optionsAttempts
			mu.Unlock()

			if attempt == 1 {
				return &base.Response{
					StatusCode:    base.StatusUnauthorized,
					StatusMessage: "Unauthorized",
					Header: base.Header{
						"WWW-Authenticate": base.HeaderValue{
							`Digest realm="testrealm", nonce="abc123nonce", qop="auth"`,
						},
					},
				}
			}
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}

		case base.Describe:
			return &base.Response{
				StatusCode: base.StatusOK,
				StatusMessage: "OK",
				Header: base.Header{
					"Content-Type": base.HeaderValue{"application/sdp"},
				},
				Body: []byte(testSDP),
			}

		case base.Setup:
			return &base.Response{
				StatusCode:    base.StatusOK,
				StatusMessage: "OK",
				Header: base.Header{
					"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1"},
					"Session":   base.HeaderValue{"87654321;timeout=60"},
				},
			}

		case base.Play:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}

		default:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}
		}
	})

	cfg := tcpOnlyConfig("rtsp://user:pass@" + addr + "/stream")

	s, err := New(cfg, &recordingConsumer{}, testLogger())
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	require.Equal(t, StatePlaying, s.State())

	mu.Lock()
	require.Equal(t, 2, optionsAttempts)
	mu.Unlock()
}

// TestSessionSetupFallsBackOnUnsupportedTransport verifies that a 461 on
// the first attempted protocol makes setupOne fall through to the next
// entry in cfg.Protocols.
func TestSessionSetupFallsBackOnUnsupportedTransport(t *testing.T) {
	setupAttempts := 0

	addr := startFakeServer(t, func(req *base.Request) *base.Response {
		switch req.Method {
		case base.Options:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}

		case base.Describe:
			return &base.Response{
				StatusCode: base.StatusOK,
				StatusMessage: "OK",
				Header: base.Header{
					"Content-Type": base.HeaderValue{"application/sdp"},
				},
				Body: []byte(testSDP),
			}

		case base.Setup:
			setupAttempts++
			if setupAttempts == 1 {
				return &base.Response{
					StatusCode:    base.StatusUnsupportedTransport,
					StatusMessage: "Unsupported Transport",
				}
			}
			return &base.Response{
				StatusCode:    base.StatusOK,
				StatusMessage: "OK",
				Header: base.Header{
					"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1"},
					"Session":   base.HeaderValue{"11112222;timeout=60"},
				},
			}

		case base.Play:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}

		default:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}
		}
	})

	cfg := tcpOnlyConfig("rtsp://" + addr + "/stream")
	cfg.Protocols = []TransportKind{TransportUDP, TransportTCP}

	s, err := New(cfg, &recordingConsumer{}, testLogger())
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	require.Equal(t, StatePlaying, s.State())
	require.Equal(t, 2, setupAttempts)
}

// TestSessionPauseToleratesMethodNotValid checks the 455 "stay in
// Playing" handling documented on Session.Pause.
func TestSessionPauseToleratesMethodNotValid(t *testing.T) {
	addr := startFakeServer(t, func(req *base.Request) *base.Response {
		switch req.Method {
		case base.Options:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}

		case base.Describe:
			return &base.Response{
				StatusCode: base.StatusOK,
				StatusMessage: "OK",
				Header: base.Header{
					"Content-Type": base.HeaderValue{"application/sdp"},
				},
				Body: []byte(testSDP),
			}

		case base.Setup:
			return &base.Response{
				StatusCode:    base.StatusOK,
				StatusMessage: "OK",
				Header: base.Header{
					"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1"},
					"Session":   base.HeaderValue{"55556666;timeout=60"},
				},
			}

		case base.Play:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}

		case base.Pause:
			return &base.Response{StatusCode: base.StatusMethodNotValidInThisState, StatusMessage: "Method Not Valid In This State"}

		default:
			return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}
		}
	})

	cfg := tcpOnlyConfig("rtsp://" + addr + "/stream")

	s, err := New(cfg, &recordingConsumer{}, testLogger())
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	err = s.Pause()
	require.NoError(t, err)
	require.Equal(t, StatePlaying, s.State())
}

// TestKeepAlivePeriodIsEightyPercentOfTimeout checks the pure-function
// formula directly, covering the RFC's own worked boundary values.
func TestKeepAlivePeriodIsEightyPercentOfTimeout(t *testing.T) {
	require.Equal(t, 48*time.Second, keepAlivePeriod(60*time.Second))
	require.Equal(t, 4*time.Second, keepAlivePeriod(5*time.Second))
	require.Equal(t, keepAlivePeriod(defaultSessionTimeout), keepAlivePeriod(0))
}

type recordingConsumer struct {
	onStreamReady func(streamIndex int, control string)
}

func (c *recordingConsumer) OnStreamReady(streamIndex int, control string) {
	if c.onStreamReady != nil {
		c.onStreamReady(streamIndex, control)
	}
}
func (c *recordingConsumer) OnRTP(int, []byte, time.Time)  {}
func (c *recordingConsumer) OnRTCP(int, []byte, time.Time) {}
func (c *recordingConsumer) OnEOS(int, string)             {}
func (c *recordingConsumer) OnError(int, error)            {}
