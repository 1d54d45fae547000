package wireconn

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	httpTunnelGetSuffix     = "get"
	httpTunnelPostSuffix    = "post"
	httpTunnelCookieName    = "x-sessioncookie"
	httpTunnelContentType   = "application/x-rtsp-tunnelled"
	httpTunnelBufferSize    = 2048
)

// httpTunnel implements a bidirectional RTSP-over-HTTP tunnel following
// Apple's tunneling protocol: one HTTP GET connection carries server→client
// bytes base64-encoded in the response body, one HTTP POST connection
// carries client→server bytes the same way in chunked request bodies. Both
// connections share a random session cookie so the server can pair them.
//
// httpTunnel implements net.Conn so that wireconn.Connection can treat it
// exactly like a Plain or Tls connection.
type httpTunnel struct {
	dial          func(ctx context.Context, network, addr string) (net.Conn, error)
	addr          string
	tlsConfig     *tls.Config // non-nil for rtsph over https (rare, but symmetrical with rtsps)
	host          string
	userAgent     string
	readTimeout   time.Duration
	writeTimeout  time.Duration

	sessionCookie string
	readConn      net.Conn
	writeConn     net.Conn

	encBuf []byte
	partial []byte
}

func newHTTPTunnel(
	dial func(ctx context.Context, network, addr string) (net.Conn, error),
	addr, host, userAgent string,
	tlsConfig *tls.Config,
	readTimeout, writeTimeout time.Duration,
) (*httpTunnel, error) {
	cookie := make([]byte, 16)
	if _, err := rand.Read(cookie); err != nil {
		return nil, fmt.Errorf("generating session cookie: %w", err)
	}

	return &httpTunnel{
		dial:          dial,
		addr:          addr,
		tlsConfig:     tlsConfig,
		host:          host,
		userAgent:     userAgent,
		readTimeout:   readTimeout,
		writeTimeout:  writeTimeout,
		sessionCookie: base64.StdEncoding.EncodeToString(cookie),
		encBuf:        make([]byte, base64.StdEncoding.EncodedLen(httpTunnelBufferSize)),
		partial:       make([]byte, 0, 3),
	}, nil
}

func (t *httpTunnel) dialOne(ctx context.Context) (net.Conn, error) {
	conn, err := t.dial(ctx, "tcp", t.addr)
	if err != nil {
		return nil, err
	}

	if t.tlsConfig != nil {
		cfg := t.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = t.host
		}
		tc := tls.Client(conn, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close() //nolint:errcheck
			return nil, err
		}
		return tc, nil
	}

	return conn, nil
}

func (t *httpTunnel) request(method, suffix string, chunked bool) string {
	s := fmt.Sprintf("%s /%s HTTP/1.1\r\n", method, suffix)
	s += fmt.Sprintf("Host: %s\r\n", t.host)
	s += fmt.Sprintf("User-Agent: %s\r\n", t.userAgent)
	s += fmt.Sprintf("Content-Type: %s\r\n", httpTunnelContentType)
	s += fmt.Sprintf("Cookie: %s=%s\r\n", httpTunnelCookieName, t.sessionCookie)
	s += "Connection: Keep-Alive\r\n"
	if chunked {
		s += "Transfer-Encoding: chunked\r\n"
	}
	s += "\r\n"
	return s
}

// connect establishes the GET and POST connections concurrently, using
// errgroup exactly as the teacher's dual-connection HTTP tunnel does.
func (t *httpTunnel) connect(ctx context.Context) error {
	var getConn, postConn net.Conn

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		getConn, err = t.connectRead(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		postConn, err = t.connectWrite(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		if getConn != nil {
			getConn.Close() //nolint:errcheck
		}
		if postConn != nil {
			postConn.Close() //nolint:errcheck
		}
		return err
	}

	t.readConn = getConn
	t.writeConn = postConn
	return nil
}

func (t *httpTunnel) connectRead(ctx context.Context) (net.Conn, error) {
	conn, err := t.dialOne(ctx)
	if err != nil {
		return nil, err
	}

	conn.SetDeadline(time.Now().Add(t.readTimeout)) //nolint:errcheck

	if _, err := conn.Write([]byte(t.request("GET", httpTunnelGetSuffix, false))); err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("tunnel GET failed: %s", resp.Status)
	}

	return conn, nil
}

func (t *httpTunnel) connectWrite(ctx context.Context) (net.Conn, error) {
	conn, err := t.dialOne(ctx)
	if err != nil {
		return nil, err
	}

	conn.SetDeadline(time.Now().Add(t.writeTimeout)) //nolint:errcheck

	if _, err := conn.Write([]byte(t.request("POST", httpTunnelPostSuffix, true))); err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}

	return conn, nil
}

// Read decodes base64 data from the GET response body, buffering any
// trailing bytes that don't land on a 4-byte boundary until the next call.
func (t *httpTunnel) Read(b []byte) (int, error) {
	if t.readConn == nil {
		return 0, fmt.Errorf("read side of HTTP tunnel is not connected")
	}

	t.readConn.SetReadDeadline(time.Now().Add(t.readTimeout)) //nolint:errcheck

	maxEnc := base64.StdEncoding.EncodedLen(len(b))
	if maxEnc > len(t.encBuf) {
		maxEnc = len(t.encBuf)
	}

	encData := make([]byte, 0, maxEnc)
	if len(t.partial) > 0 {
		encData = append(encData, t.partial...)
		t.partial = t.partial[:0]
	}

	room := maxEnc - len(encData)
	if room <= 0 {
		room = 1
	}
	n, err := t.readConn.Read(t.encBuf[:room])
	if err != nil {
		return 0, err
	}
	encData = append(encData, t.encBuf[:n]...)

	if rem := len(encData) % 4; rem > 0 {
		t.partial = append(t.partial, encData[len(encData)-rem:]...)
		encData = encData[:len(encData)-rem]
	}

	if len(encData) == 0 {
		return 0, nil
	}

	return base64.StdEncoding.Decode(b, encData)
}

// Write base64-encodes b and sends it as one HTTP chunk on the POST
// connection.
func (t *httpTunnel) Write(b []byte) (int, error) {
	if t.writeConn == nil {
		return 0, fmt.Errorf("write side of HTTP tunnel is not connected")
	}

	t.writeConn.SetWriteDeadline(time.Now().Add(t.writeTimeout)) //nolint:errcheck

	encLen := base64.StdEncoding.EncodedLen(len(b))
	enc := t.encBuf
	if encLen > len(enc) {
		enc = make([]byte, encLen)
	} else {
		enc = enc[:encLen]
	}
	base64.StdEncoding.Encode(enc, b)

	chunk := fmt.Sprintf("%x\r\n", len(enc))
	if _, err := t.writeConn.Write([]byte(chunk)); err != nil {
		return 0, err
	}
	if _, err := t.writeConn.Write(enc); err != nil {
		return 0, err
	}
	if _, err := t.writeConn.Write([]byte("\r\n")); err != nil {
		return 0, err
	}

	return len(b), nil
}

func (t *httpTunnel) Close() error {
	var rerr, werr error
	if t.readConn != nil {
		rerr = t.readConn.Close()
		t.readConn = nil
	}
	if t.writeConn != nil {
		t.writeConn.Write([]byte("0\r\n\r\n")) //nolint:errcheck
		werr = t.writeConn.Close()
		t.writeConn = nil
	}
	if rerr != nil {
		return rerr
	}
	return werr
}

func (t *httpTunnel) LocalAddr() net.Addr {
	if t.readConn != nil {
		return t.readConn.LocalAddr()
	}
	return nil
}

func (t *httpTunnel) RemoteAddr() net.Addr {
	if t.readConn != nil {
		return t.readConn.RemoteAddr()
	}
	return nil
}

func (t *httpTunnel) SetDeadline(tm time.Time) error {
	if t.readConn != nil {
		t.readConn.SetDeadline(tm) //nolint:errcheck
	}
	if t.writeConn != nil {
		t.writeConn.SetDeadline(tm) //nolint:errcheck
	}
	return nil
}

func (t *httpTunnel) SetReadDeadline(tm time.Time) error {
	if t.readConn != nil {
		return t.readConn.SetReadDeadline(tm)
	}
	return nil
}

func (t *httpTunnel) SetWriteDeadline(tm time.Time) error {
	if t.writeConn != nil {
		return t.writeConn.SetWriteDeadline(tm)
	}
	return nil
}
