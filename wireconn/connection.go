package wireconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rivergate/rtspcore/base"
	"github.com/rivergate/rtspcore/liberrors"
)

// Scheme identifies which net.Conn variant a Connection dials.
type Scheme int

// Supported schemes: Plain (rtsp://), Tls (rtsps://) and HTTPTunnel, the
// Apple-style dual GET/POST tunnel used when rtsph:// or a configured
// force-tunnel policy applies.
const (
	Plain Scheme = iota
	Tls
	HTTPTunnel
)

// FrameSink receives interleaved binary frames read off the connection,
// keyed by channel number. Registered per SETUP'd stream.
type FrameSink func(fr *base.InterleavedFrame)

// Config configures a Connection.
type Config struct {
	Scheme       Scheme
	Addr         string // host:port
	Host         string // for TLS SNI / HTTP Host header
	TLSConfig    *tls.Config
	UserAgent    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RequestTimeout bounds how long SendRequest waits for a matching
	// response before returning liberrors.ErrRequestTimeout.
	RequestTimeout time.Duration
}

type pendingEntry struct {
	method base.Method
	respCh chan pendingResult
}

type pendingResult struct {
	res *base.Response
	err error
}

// Connection owns one transport to one RTSP server. It assigns CSeq
// numbers, pairs responses with their requests, and demultiplexes
// interleaved frames to registered per-channel sinks. It is safe for
// concurrent use by multiple goroutines issuing SendRequest.
type Connection struct {
	cfg  Config
	conn net.Conn
	cd   *codec

	mu       sync.Mutex
	cseq     int
	pending  map[int]*pendingEntry
	sinks    map[int]FrameSink
	closed   bool
	closeErr error

	writeMu sync.Mutex
	wbuf    []byte

	readDone chan struct{}
}

// Dial connects to the server described by cfg and starts the reader
// goroutine. The returned Connection is ready for SendRequest.
func Dial(cfg Config) (*Connection, error) {
	c := &Connection{
		cfg:      cfg,
		pending:  make(map[int]*pendingEntry),
		sinks:    make(map[int]FrameSink),
		wbuf:     make([]byte, 4+base.MaxInterleavedPayloadSize),
		readDone: make(chan struct{}),
	}

	dialer := net.Dialer{Timeout: cfg.DialTimeout}

	switch cfg.Scheme {
	case Plain:
		conn, err := dialer.Dial("tcp", cfg.Addr)
		if err != nil {
			return nil, err
		}
		c.conn = conn

	case Tls:
		tcfg := cfg.TLSConfig
		if tcfg == nil {
			tcfg = &tls.Config{} //nolint:gosec
		}
		tcfg = tcfg.Clone()
		if tcfg.ServerName == "" {
			tcfg.ServerName = cfg.Host
		}
		rawConn, err := dialer.Dial("tcp", cfg.Addr)
		if err != nil {
			return nil, err
		}
		tconn := tls.Client(rawConn, tcfg)
		if err := tconn.Handshake(); err != nil {
			rawConn.Close() //nolint:errcheck
			return nil, err
		}
		c.conn = tconn

	case HTTPTunnel:
		var tcfg *tls.Config
		if cfg.TLSConfig != nil {
			tcfg = cfg.TLSConfig
		}

		dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: cfg.DialTimeout}
			return d.DialContext(ctx, network, addr)
		}

		ht, err := newHTTPTunnel(dial, cfg.Addr, cfg.Host, cfg.UserAgent, tcfg, cfg.ReadTimeout, cfg.WriteTimeout)
		if err != nil {
			return nil, err
		}

		ctx := context.Background()
		if cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
			defer cancel()
		}
		if err := ht.connect(ctx); err != nil {
			return nil, err
		}
		c.conn = ht

	default:
		return nil, fmt.Errorf("unsupported scheme %d", cfg.Scheme)
	}

	c.cd = newCodec(c.conn)

	go c.readLoop()

	return c, nil
}

// RegisterSink installs fr as the destination for interleaved frames
// arriving on the given channel number. Passing a nil sink removes any
// existing registration.
func (c *Connection) RegisterSink(channel int, fr FrameSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fr == nil {
		delete(c.sinks, channel)
		return
	}
	c.sinks[channel] = fr
}

// SendRequest assigns the next CSeq, writes req, and blocks until a
// matching response arrives, the request times out, or the connection is
// dropped.
func (c *Connection) SendRequest(req *base.Request) (*base.Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, liberrors.ErrClosed{}
	}

	c.cseq++
	cseq := c.cseq

	if req.Header == nil {
		req.Header = make(base.Header)
	}
	req.Header["CSeq"] = base.HeaderValue{strconv.Itoa(cseq)}
	if req.Header.Get("User-Agent") == "" && c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	entry := &pendingEntry{method: req.Method, respCh: make(chan pendingResult, 1)}
	c.pending[cseq] = entry
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.cd.writeRequest(req)
	c.writeMu.Unlock()

	if err != nil {
		c.mu.Lock()
		delete(c.pending, cseq)
		c.mu.Unlock()
		return nil, err
	}

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	select {
	case r := <-entry.respCh:
		return r.res, r.err
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, cseq)
		c.mu.Unlock()
		return nil, liberrors.ErrRequestTimeout{Method: req.Method, CSeq: cseq}
	}
}

// WriteInterleavedFrame writes fr directly to the connection, bypassing
// the request/response pairing path. Used for client-originated RTCP on
// a TCP-interleaved stream.
func (c *Connection) WriteInterleavedFrame(fr *base.InterleavedFrame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return liberrors.ErrClosed{}
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.cd.writeInterleavedFrame(fr, c.wbuf)
}

func (c *Connection) readLoop() {
	defer close(c.readDone)

	for {
		msg, err := c.cd.readResponseOrFrame()
		if err != nil {
			c.drop(err)
			return
		}

		switch v := msg.(type) {
		case *base.Response:
			c.dispatchResponse(v)
		case *base.InterleavedFrame:
			c.dispatchFrame(v)
		}
	}
}

func (c *Connection) dispatchResponse(res *base.Response) {
	cseqStr := res.Header.Get("CSeq")
	cseq, err := strconv.Atoi(cseqStr)

	c.mu.Lock()
	var entry *pendingEntry
	if err == nil {
		entry = c.pending[cseq]
		delete(c.pending, cseq)
	}
	c.mu.Unlock()

	if entry == nil {
		// unsolicited response (missing/unmatched CSeq); nothing waits on it.
		return
	}

	cp := *res
	entry.respCh <- pendingResult{res: &cp}
}

func (c *Connection) dispatchFrame(fr *base.InterleavedFrame) {
	c.mu.Lock()
	sink := c.sinks[fr.Channel]
	c.mu.Unlock()

	if sink != nil {
		cp := *fr
		cp.Payload = append([]byte(nil), fr.Payload...)
		sink(&cp)
	}
}

func (c *Connection) drop(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	pending := c.pending
	c.pending = make(map[int]*pendingEntry)
	c.mu.Unlock()

	reason := "connection closed"
	if cause != nil {
		reason = cause.Error()
	}

	for _, entry := range pending {
		entry.respCh <- pendingResult{err: liberrors.ErrDropped{Reason: reason}}
	}

	c.conn.Close() //nolint:errcheck
}

// Done returns a channel closed once the reader goroutine has exited,
// whether from a clean Close or an unexpected read error. Callers that
// need to notice an unsolicited drop (e.g. during Playing) select on it.
func (c *Connection) Done() <-chan struct{} {
	return c.readDone
}

// Err returns the reason the connection stopped, valid after Done() is
// closed. nil if Close was never called and no read error occurred.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Close terminates the connection and fails every pending request with
// liberrors.ErrDropped{Reason: reason}.
func (c *Connection) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if reason == "" {
		reason = "closed by caller"
	}
	c.drop(fmt.Errorf("%s", reason))

	<-c.readDone
	return nil
}
