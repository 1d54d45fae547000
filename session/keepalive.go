package session

import (
	"time"

	"github.com/rivergate/rtspcore/base"
	"github.com/rivergate/rtspcore/liberrors"
)

// keepAlivePeriod derives the keep-alive firing interval from the
// server-advertised session timeout. The RTSP RFC text this is modeled
// on reads as "no less than 5s and 0.8 of the timeout", but that floor
// contradicts the server's own boundary case (a 5s timeout would then
// keep-alive at 5s, i.e. never before expiry); floor(0.8*timeout) alone
// matches every worked example, so that's what's implemented here.
func keepAlivePeriod(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = defaultSessionTimeout
	}
	period := (timeout * 8 / 10).Truncate(time.Second)
	if period <= 0 {
		period = time.Second
	}
	return period
}

// runKeepAlive sends GET_PARAMETER (or OPTIONS, once GET_PARAMETER draws
// a 501) on a timer derived from the session timeout, resetting the timer
// on every successful exchange. Two consecutive failures mark the
// connection dropped and hand off to the reconnection monitor.
func (s *Session) runKeepAlive() {
	defer close(s.keepaliveDone)

	s.mu.Lock()
	period := keepAlivePeriod(s.sessionTimeout)
	s.mu.Unlock()

	timer := time.NewTimer(period)
	defer timer.Stop()

	misses := 0

	for {
		select {
		case <-s.keepaliveStop:
			return

		case <-s.keepaliveReset:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(period)

		case <-timer.C:
			if err := s.sendKeepAlive(); err != nil {
				misses++
				s.log.Warn().Err(err).Int("misses", misses).Msg("keep-alive failed")
				if misses >= 2 {
					s.handleDrop(err)
					return
				}
			} else {
				misses = 0
			}
			if s.cfg.DoRTCP {
				s.sendReceiverReports()
			}
			timer.Reset(period)
		}
	}
}

// sendReceiverReports emits one RTCP receiver report per stream that has
// seen at least one RTP packet, piggybacking on the keep-alive timer as
// the RTCP companion to GET_PARAMETER/OPTIONS.
func (s *Session) sendReceiverReports() {
	s.mu.Lock()
	streams := s.streams
	s.mu.Unlock()

	for _, st := range streams {
		data, ok := st.tr.BuildReceiverReport()
		if !ok {
			continue
		}
		if err := st.tr.WriteRTCP(data); err != nil {
			s.log.Debug().Err(err).Int("stream", st.index).Msg("receiver report send failed")
		}
	}
}

func (s *Session) sendKeepAlive() error {
	s.mu.Lock()
	conn := s.conn
	sid := s.sessionID
	bu := s.streamBaseURL
	fellBack := s.fellBackToOptions
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	extra := base.Header{"Session": base.HeaderValue{sid}}

	method := base.GetParameter
	if fellBack {
		method = base.Options
	}

	res, err := s.sendAuthorized(conn, method, bu, extra, nil)
	if err != nil {
		return err
	}

	if res.StatusCode == base.StatusNotImplemented && method == base.GetParameter {
		s.mu.Lock()
		s.fellBackToOptions = true
		s.mu.Unlock()
		res, err = s.sendAuthorized(conn, base.Options, bu, extra, nil)
		if err != nil {
			return err
		}
	}

	if res.StatusCode != base.StatusOK {
		return liberrors.ErrInvalidStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
	}

	return nil
}

// noteActivity resets the keep-alive timer after any server exchange, so
// a session that's chatty for other reasons doesn't also get redundant
// keep-alives.
func (s *Session) noteActivity() {
	select {
	case s.keepaliveReset <- struct{}{}:
	default:
	}
}
