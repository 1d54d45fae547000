package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rivergate/rtspcore/auth"
	"github.com/rivergate/rtspcore/base"
	"github.com/rivergate/rtspcore/description"
	"github.com/rivergate/rtspcore/headers"
	"github.com/rivergate/rtspcore/liberrors"
	"github.com/rivergate/rtspcore/retry"
	"github.com/rivergate/rtspcore/transport"
	"github.com/rivergate/rtspcore/wireconn"
)

const defaultSessionTimeout = 60 * time.Second

// mediaStream is one SETUP'd stream's transport and describing Media.
type mediaStream struct {
	index int
	media *description.Media
	kind  string // "udp", "multicast", "interleaved"
	tr    *transport.Stream
}

// Session drives one RTSP server connection through its full lifecycle:
// connect, describe, set up every selected stream, play, and keep the
// session alive, reconnecting according to the configured retry policy
// when the connection drops.
type Session struct {
	cfg      Config
	consumer Consumer
	log      zerolog.Logger

	targetURL *base.URL
	serverKey string
	runCtx    context.Context

	reconnecting bool

	controller   *retry.Controller
	profileStore *retry.ProfileStore

	mu                sync.Mutex
	state             State
	failureReason     error
	conn              *wireconn.Connection
	authr             *auth.Authenticator
	desc              *description.Session
	streams           []*mediaStream
	sessionID         string
	sessionTimeout    time.Duration
	fellBackToOptions bool
	streamBaseURL     *base.URL
	supportsV2        bool

	keepaliveStop  chan struct{}
	keepaliveDone  chan struct{}
	keepaliveReset chan struct{}
	watchdogStop   chan struct{}
	watchdogDone   chan struct{}
	monitorStop    chan struct{}
	monitorDone    chan struct{}

	closed chan struct{}
}

// New builds a Session for cfg, without connecting. Call Start to bring
// it up.
func New(cfg Config, consumer Consumer, log zerolog.Logger) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	u, err := base.ParseURL(cfg.Location)
	if err != nil {
		return nil, liberrors.ErrConfiguration{Field: "Location", Reason: err.Error()}
	}

	if consumer == nil {
		consumer = NopConsumer{}
	}

	var authr *auth.Authenticator
	if cfg.UserID != "" || cfg.UserPW != "" {
		authr = auth.NewAuthenticator(cfg.UserID, cfg.UserPW)
	} else {
		authr = auth.NewAuthenticatorFromUserinfo(u.User)
	}

	var store *retry.ProfileStore
	if cfg.ProfileDir != "" && cfg.Retry.Strategy == retry.Adaptive {
		store, err = retry.NewProfileStore(cfg.ProfileDir, retry.DefaultProfileTTL, retry.DefaultProfileCap, log)
		if err != nil {
			return nil, fmt.Errorf("opening adaptive profile store: %w", err)
		}
		cfg.Retry.ProfileStore = store
	}

	s := &Session{
		cfg:          cfg,
		consumer:     consumer,
		log:          log,
		targetURL:    u,
		serverKey:    hostPort(u),
		controller:   retry.NewController(cfg.Retry, log),
		profileStore: store,
		authr:        authr,
		state:        StateInit,
		closed:       make(chan struct{}),
	}

	return s, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Describe returns the most recently parsed session description, nil
// before Start succeeds.
func (s *Session) Describe() *description.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// Start connects, authenticates, describes, sets up every selected
// stream, and starts playback. On success the Session is in StatePlaying
// and keep-alive/reconnection monitoring is running in the background.
func (s *Session) Start(ctx context.Context) error {
	s.runCtx = ctx
	s.setState(StateConnecting)

	if err := s.bringUp(ctx); err != nil {
		s.setState(StateFailed)
		s.failureReason = err
		s.consumer.OnError(-1, err)
		return err
	}

	s.setState(StatePlaying)

	s.keepaliveStop = make(chan struct{})
	s.keepaliveDone = make(chan struct{})
	s.keepaliveReset = make(chan struct{}, 1)
	if s.cfg.DoKeepAlive {
		go s.runKeepAlive()
	}

	s.watchdogStop = make(chan struct{})
	s.watchdogDone = make(chan struct{})
	go s.runWatchdog()

	s.monitorStop = make(chan struct{})
	s.monitorDone = make(chan struct{})
	go s.runDropMonitor()

	return nil
}

// bringUp performs Connecting -> Describing -> SettingUp(N) -> Ready ->
// Playing in one shot (used both by Start and by the reconnection flow).
func (s *Session) bringUp(ctx context.Context) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}

	desc, baseURL, err := s.describe(conn)
	if err != nil {
		conn.Close("describe failed") //nolint:errcheck
		return err
	}

	selected := selectMedias(desc, s.cfg.StreamFilter)
	if len(selected) == 0 {
		conn.Close("no usable streams") //nolint:errcheck
		return liberrors.ErrNoStreams{}
	}

	s.mu.Lock()
	s.conn = conn
	s.desc = desc
	s.streamBaseURL = baseURL
	s.sessionID = ""
	s.mu.Unlock()

	streams, err := s.setupAll(conn, baseURL, selected)
	if err != nil {
		s.teardownStreams(streams)
		conn.Close("setup failed") //nolint:errcheck
		return err
	}

	s.mu.Lock()
	s.streams = streams
	s.mu.Unlock()

	for _, st := range streams {
		s.consumer.OnStreamReady(st.index, st.media.Control)
	}

	res, err := s.play(conn)
	if err != nil {
		s.teardownStreams(streams)
		conn.Close("play failed") //nolint:errcheck
		return err
	}

	_ = res
	return nil
}

// connect opens the wireconn.Connection and, unless OPTIONS fails
// outright, confirms server responsiveness.
func (s *Session) connect(ctx context.Context) (*wireconn.Connection, error) {
	var scheme wireconn.Scheme
	switch s.targetURL.Scheme {
	case "rtsp":
		scheme = wireconn.Plain
	case "rtsps":
		scheme = wireconn.Tls
	case "rtsph":
		scheme = wireconn.HTTPTunnel
	default:
		return nil, liberrors.ErrConfiguration{Field: "Location", Reason: "unsupported scheme"}
	}

	cfg := wireconn.Config{
		Scheme:         scheme,
		Addr:           hostPort(s.targetURL),
		Host:           s.targetURL.Hostname(),
		TLSConfig:      s.cfg.TLSConfig,
		UserAgent:      s.cfg.UserAgent,
		DialTimeout:    s.cfg.TCPTimeout,
		ReadTimeout:    s.cfg.TCPTimeout,
		WriteTimeout:   s.cfg.TCPTimeout,
		RequestTimeout: s.cfg.TCPTimeout,
	}

	conn, err := wireconn.Dial(cfg)
	if err != nil {
		return nil, err
	}

	if _, err := s.sendAuthorized(conn, base.Options, s.targetURL, nil, nil); err != nil {
		conn.Close("options failed") //nolint:errcheck
		return nil, err
	}

	return conn, nil
}

// sendAuthorized issues one request, transparently handling 401 challenges
// up to the Authenticator's fresh-failure budget (see the scenario this
// reproduces: unauthenticated probe, wrong-nonce retry, then success).
func (s *Session) sendAuthorized(conn *wireconn.Connection, method base.Method, ur *base.URL, extra base.Header, body []byte) (*base.Response, error) {
	for {
		req := &base.Request{Method: method, URL: ur.CloneWithoutCredentials(), Header: make(base.Header), Content: body}
		for k, v := range extra {
			req.Header[k] = v
		}

		if hv, err := s.authr.Authorize(method, ur); err == nil {
			req.Header["Authorization"] = hv
		}

		res, err := conn.SendRequest(req)
		if err != nil {
			return nil, err
		}

		if res.StatusCode == base.StatusUnauthorized {
			if _, err := s.authr.OnChallenge(res.Header["WWW-Authenticate"]); err != nil {
				return res, err
			}
			continue
		}

		if res.StatusCode == base.StatusForbidden {
			return res, liberrors.ErrAuthFailed{Attempts: 1}
		}

		s.authr.Reset()
		s.noteActivity()
		return res, nil
	}
}

// onvifBackchannelRequire is the Require token ONVIF Profile G/T cameras
// expect on DESCRIBE/SETUP when the client wants the backchannel media
// advertised/negotiated (ONVIF Streaming Spec v20.12 §5.3.2).
const onvifBackchannelRequire = "www.onvif.org/ver20/backchannel"

// onvifExtraHeaders returns the Require/Rate-Control headers onvif-mode
// adds to DESCRIBE and SETUP requests, or nil when onvif-mode is off.
func (s *Session) onvifExtraHeaders() base.Header {
	if !s.cfg.ONVIFMode {
		return nil
	}

	rate := "yes"
	if s.cfg.ONVIFRate != nil && !*s.cfg.ONVIFRate {
		rate = "no"
	}

	return base.Header{
		"Require":      base.HeaderValue{onvifBackchannelRequire},
		"Rate-Control": base.HeaderValue{rate},
	}
}

func (s *Session) describe(conn *wireconn.Connection) (*description.Session, *base.URL, error) {
	extra := base.Header{"Accept": base.HeaderValue{"application/sdp"}}
	for k, v := range s.onvifExtraHeaders() {
		extra[k] = v
	}
	res, err := s.sendAuthorized(conn, base.Describe, s.targetURL, extra, nil)
	if err != nil {
		return nil, nil, err
	}
	if res.StatusCode != base.StatusOK {
		return nil, nil, liberrors.ErrInvalidStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
	}

	var desc description.Session
	if err := desc.Unmarshal(res.Body); err != nil {
		return nil, nil, liberrors.ErrNoStreams{}
	}

	baseURL := s.targetURL
	if cb := res.Header.Get("Content-Base"); cb != "" {
		if u, err := base.ParseURL(cb); err == nil {
			baseURL = u
		}
	} else if cl := res.Header.Get("Content-Location"); cl != "" {
		if u, err := base.ParseURL(cl); err == nil {
			baseURL = u
		}
	}

	if !s.cfg.IgnoreXServerReply {
		if ip := res.Header.Get("x-server-ip-address"); ip != "" {
			replaced := baseURL.Clone()
			replaced.Host = ip + ":" + baseURL.Port()
			baseURL = replaced
		}
	}

	if supported := res.Header.Get("Supported"); supported != "" {
		s.mu.Lock()
		s.supportsV2 = containsToken(supported, "play.basic") || containsToken(supported, "RTSP/2.0")
		s.mu.Unlock()
	}

	desc.BaseURL = baseURL
	return &desc, baseURL, nil
}

// containsToken reports whether the comma-separated Supported header
// value list names tok. Unlike Transport/WWW-Authenticate, this header
// has no nesting or quoting, so strings.Split/TrimSpace need no help
// from a parser.
func containsToken(list, tok string) bool {
	for _, p := range strings.Split(list, ",") {
		if strings.TrimSpace(p) == tok {
			return true
		}
	}
	return false
}

func selectMedias(desc *description.Session, filter StreamFilter) []*description.Media {
	if filter == nil {
		out := make([]*description.Media, len(desc.Medias))
		copy(out, desc.Medias)
		return out
	}
	var out []*description.Media
	for _, m := range desc.Medias {
		if filter(m) {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) play(conn *wireconn.Connection) (*base.Response, error) {
	extra := base.Header{
		"Session": headers.Session{Session: s.sessionID}.Write(),
		"Range":   headers.DefaultRange().Write(),
	}
	res, err := s.sendAuthorized(conn, base.Play, s.streamBaseURL, extra, nil)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != base.StatusOK {
		return nil, liberrors.ErrInvalidStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
	}
	return res, nil
}

// Pause issues PAUSE. Per §4.4, a 455 from a live server is treated as
// "stay in Playing" and reported as a warning rather than an error.
func (s *Session) Pause() error {
	s.mu.Lock()
	conn := s.conn
	sid := s.sessionID
	bu := s.streamBaseURL
	s.mu.Unlock()

	if conn == nil {
		return liberrors.ErrInvalidState{Current: s.State()}
	}

	extra := base.Header{"Session": headers.Session{Session: sid}.Write()}
	res, err := s.sendAuthorized(conn, base.Pause, bu, extra, nil)
	if err != nil {
		return err
	}

	switch res.StatusCode {
	case base.StatusOK:
		s.setState(StatePaused)
		return nil
	case base.StatusMethodNotValidInThisState:
		s.log.Warn().Str("server", s.serverKey).Msg("server refused PAUSE (455), remaining in Playing")
		return nil
	default:
		return liberrors.ErrInvalidStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
	}
}

// Resume re-issues PLAY after a Pause.
func (s *Session) Resume() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return liberrors.ErrInvalidState{Current: s.State()}
	}
	if _, err := s.play(conn); err != nil {
		return err
	}
	s.setState(StatePlaying)
	return nil
}

// SendRTCP writes payload back to the server on the given stream's
// reverse channel (receiver reports, ONVIF backchannel).
func (s *Session) SendRTCP(streamIndex int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams {
		if st.index == streamIndex {
			return st.tr.WriteRTCP(payload)
		}
	}
	return fmt.Errorf("unknown stream index %d", streamIndex)
}

// Close tears down the session: best-effort TEARDOWN within
// TeardownTimeout, then releases every resource.
func (s *Session) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}

	s.setState(StateTearingDown)

	if s.keepaliveStop != nil {
		close(s.keepaliveStop)
		<-s.keepaliveDone
	}
	if s.watchdogStop != nil {
		close(s.watchdogStop)
		<-s.watchdogDone
	}
	if s.monitorStop != nil {
		close(s.monitorStop)
		<-s.monitorDone
	}

	s.mu.Lock()
	conn := s.conn
	streams := s.streams
	bu := s.streamBaseURL
	sid := s.sessionID
	s.mu.Unlock()

	if conn != nil {
		done := make(chan struct{})
		go func() {
			extra := base.Header{"Session": headers.Session{Session: sid}.Write()}
			s.sendAuthorized(conn, base.Teardown, bu, extra, nil) //nolint:errcheck
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(s.cfg.TeardownTimeout):
		}

		conn.Close("session closed") //nolint:errcheck
	}

	s.teardownStreams(streams)

	if s.controller != nil {
		s.controller.Close() //nolint:errcheck
	}

	s.setState(StateClosed)
	close(s.closed)
	return nil
}

func (s *Session) teardownStreams(streams []*mediaStream) {
	for _, st := range streams {
		if st.tr != nil {
			st.tr.Close()
		}
		s.consumer.OnEOS(st.index, "teardown")
	}
}

// OnRTP implements transport.Sink.
func (s *Session) OnRTP(streamIndex int, payload []byte, receivedAt time.Time) {
	s.consumer.OnRTP(streamIndex, payload, receivedAt)
}

// OnRTCP implements transport.Sink.
func (s *Session) OnRTCP(streamIndex int, payload []byte, receivedAt time.Time) {
	s.consumer.OnRTCP(streamIndex, payload, receivedAt)
}
