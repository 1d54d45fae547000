package session

import (
	"time"

	"github.com/rivergate/rtspcore/liberrors"
	"github.com/rivergate/rtspcore/retry"
)

// watchdogInterval is how often runWatchdog polls each UDP/multicast
// stream's last-packet time. Interleaved streams have no independent
// liveness signal; their silence surfaces through the Connection itself.
const watchdogInterval = 5 * time.Second

// runWatchdog mirrors the teacher's checkStreamTimer: a UDP or multicast
// stream that hasn't delivered a packet within TCPTimeout is treated the
// same as an unsolicited connection drop.
func (s *Session) runWatchdog() {
	defer close(s.watchdogDone)

	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.watchdogStop:
			return

		case <-ticker.C:
			s.mu.Lock()
			streams := s.streams
			timeout := s.cfg.TCPTimeout
			s.mu.Unlock()

			if timeout <= 0 {
				continue
			}

			for _, st := range streams {
				if st.kind == "interleaved" {
					continue
				}
				last := st.tr.LastPacketTime()
				if last.IsZero() {
					continue
				}
				if time.Since(last) > timeout {
					s.handleDrop(liberrorsStreamSilent(st.index))
					return
				}
			}
		}
	}
}

// runDropMonitor watches the Connection for an unsolicited close (reader
// error, peer FIN) and routes it into the same reconnection path the
// keep-alive and watchdog failures use.
func (s *Session) runDropMonitor() {
	defer close(s.monitorDone)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	select {
	case <-s.monitorStop:
		return
	case <-conn.Done():
		if err := conn.Err(); err != nil {
			s.handleDrop(err)
		}
	}
}

// handleDrop is the single entry point every liveness signal funnels
// through. It is idempotent: only the first caller for a given outage
// starts the reconnection loop.
func (s *Session) handleDrop(cause error) {
	s.mu.Lock()
	st := s.state
	if st.terminal() || st == StateTearingDown || s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	conn := s.conn
	streams := s.streams
	s.mu.Unlock()

	s.log.Warn().Err(cause).Str("server", s.serverKey).Msg("connection dropped, reconnecting")

	s.teardownStreams(streams)
	if conn != nil {
		conn.Close("dropped") //nolint:errcheck
	}

	go s.reconnectLoop(cause)
}

// reconnectLoop retries bringUp according to the configured retry
// policy until it succeeds, MaxReconnectionAttempts is exhausted (when
// not -1/infinite), or the run context is cancelled.
func (s *Session) reconnectLoop(cause error) {
	ctx := s.runCtx
	attempts := 0

	for {
		select {
		case <-s.closed:
			return
		default:
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				s.finishReconnect(ctx.Err())
				return
			default:
			}
		}

		if s.cfg.MaxReconnectionAttempts >= 0 && attempts >= s.cfg.MaxReconnectionAttempts {
			s.finishReconnect(cause)
			return
		}
		attempts++

		decision := s.controller.Decide(s.serverKey)
		s.log.Info().
			Str("server", s.serverKey).
			Str("strategy", decision.Strategy.String()).
			Str("racing", decision.Racing.String()).
			Dur("delay", decision.Delay).
			Int("attempt", attempts).
			Msg("reconnect attempt scheduled")

		select {
		case <-time.After(decision.Delay):
		case <-s.closed:
			return
		}

		start := time.Now()
		err := s.bringUp(contextOrBackground(ctx))

		if err != nil {
			outcome := classifyFailure(err)
			s.controller.RecordAttempt(s.serverKey, retry.Attempt{
				ServerKey: s.serverKey,
				StartTime: start,
				Outcome:   outcome,
				Err:       err,
			})

			// Auth failure and misconfiguration are fatal: the server has
			// told us the credentials/request are wrong, and retrying
			// identical SETUP/DESCRIBE requests won't change the outcome.
			if outcome == retry.AuthFailed {
				s.finishReconnect(err)
				return
			}
			if _, ok := err.(liberrors.ErrConfiguration); ok {
				s.finishReconnect(err)
				return
			}

			cause = err
			continue
		}

		s.controller.RecordAttempt(s.serverKey, retry.Attempt{
			ServerKey:       s.serverKey,
			StartTime:       start,
			Outcome:         retry.Connected,
			TimeToFirstData: time.Since(start),
		})

		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
		s.setState(StatePlaying)

		if s.cfg.DoKeepAlive {
			s.keepaliveStop = make(chan struct{})
			s.keepaliveDone = make(chan struct{})
			s.keepaliveReset = make(chan struct{}, 1)
			go s.runKeepAlive()
		}
		s.watchdogStop = make(chan struct{})
		s.watchdogDone = make(chan struct{})
		go s.runWatchdog()

		s.monitorStop = make(chan struct{})
		s.monitorDone = make(chan struct{})
		go s.runDropMonitor()
		return
	}
}

func (s *Session) finishReconnect(cause error) {
	s.mu.Lock()
	s.reconnecting = false
	s.mu.Unlock()
	s.setState(StateFailed)
	s.failureReason = cause
	s.consumer.OnError(-1, cause)
}
