// Package auth implements the RTSP client side of Basic and Digest
// (RFC 2617, MD5) authentication, including the qop=auth extension that
// this family of clients has historically lacked.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rivergate/rtspcore/base"
	"github.com/rivergate/rtspcore/headers"
	"github.com/rivergate/rtspcore/liberrors"
)

// maxFreshFailures is the count of consecutive fresh-nonce 401s after
// which authentication is declared fatal.
const maxFreshFailures = 3

type challenge struct {
	method    headers.AuthMethod
	realm     string
	nonce     string
	opaque    *string
	algorithm *string
	qop       string // "" or "auth"
}

// Authenticator produces Authorization header values for a sequence of
// requests against one server. It is not stateless end-to-end: it tracks
// the current challenge, the Digest nonce counter and cnonce, and the
// count of consecutive fresh-nonce failures (for the 3-strikes rule).
type Authenticator struct {
	user string
	pass string

	mu       sync.Mutex
	ch       *challenge
	nc       uint32
	cnonce   string
	failures int
}

// NewAuthenticator creates an Authenticator for the given credentials.
// Authorize returns an error until a challenge has been supplied via
// OnChallenge.
func NewAuthenticator(user, pass string) *Authenticator {
	return &Authenticator{user: user, pass: pass}
}

// NewAuthenticatorFromUserinfo is a convenience constructor taking the
// userinfo component of a parsed RTSP URL.
func NewAuthenticatorFromUserinfo(ui *url.Userinfo) *Authenticator {
	if ui == nil {
		return NewAuthenticator("", "")
	}
	pass, _ := ui.Password()
	return NewAuthenticator(ui.Username(), pass)
}

func md5Hex(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

func genCNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// OnChallenge processes a WWW-Authenticate (or Authenticate, on a Digest
// Sender-side use) header value. It returns whether the challenge was a
// stale-nonce refresh, and a non-nil error if the challenge is malformed
// or the fresh-failure budget has been exhausted (liberrors.ErrAuthFailed).
func (a *Authenticator) OnChallenge(v base.HeaderValue) (stale bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var digestRaw, basicRaw string
	for _, vi := range v {
		switch {
		case strings.HasPrefix(vi, "Digest "):
			digestRaw = vi
		case strings.HasPrefix(vi, "Basic ") && basicRaw == "":
			basicRaw = vi
		}
	}

	var parsed headers.Authenticate
	switch {
	case digestRaw != "": // Digest is preferred when both are offered.
		if err := parsed.Read(base.HeaderValue{digestRaw}); err != nil {
			return false, err
		}
	case basicRaw != "":
		if err := parsed.Read(base.HeaderValue{basicRaw}); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("no supported authentication method offered (%v)", v)
	}

	if parsed.Realm == nil {
		return false, fmt.Errorf("realm not provided")
	}

	stale = parsed.IsStale()

	if parsed.Method == headers.AuthDigest {
		if parsed.Nonce == nil {
			return false, fmt.Errorf("nonce not provided")
		}

		qop := ""
		if parsed.QOP != nil {
			for _, q := range strings.Split(*parsed.QOP, ",") {
				if strings.TrimSpace(q) == "auth" {
					qop = "auth"
					break
				}
			}
		}

		newNonce := a.ch == nil || a.ch.nonce != *parsed.Nonce

		a.ch = &challenge{
			method:    headers.AuthDigest,
			realm:     *parsed.Realm,
			nonce:     *parsed.Nonce,
			opaque:    parsed.Opaque,
			algorithm: parsed.Algorithm,
			qop:       qop,
		}

		if newNonce {
			a.nc = 0
			if qop == "auth" {
				cn, err := genCNonce()
				if err != nil {
					return false, err
				}
				a.cnonce = cn
			}
		}
	} else {
		a.ch = &challenge{method: headers.AuthBasic, realm: *parsed.Realm}
	}

	if stale {
		// A stale-nonce refresh is not counted against the fresh-failure budget.
		a.failures = 0
		return true, nil
	}

	a.failures++
	if a.failures >= maxFreshFailures {
		return false, liberrors.ErrAuthFailed{Attempts: a.failures}
	}

	return false, nil
}

// Reset clears the consecutive-failure counter; call after a 2xx response
// confirms the current credentials are accepted.
func (a *Authenticator) Reset() {
	a.mu.Lock()
	a.failures = 0
	a.mu.Unlock()
}

func digestResponseQOP(a1, nonce, nc, cnonce, qop, a2 string) string {
	return md5Hex(a1 + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + a2)
}

func digestResponseLegacy(a1, nonce, a2 string) string {
	return md5Hex(a1 + ":" + nonce + ":" + a2)
}

// Authorize produces the Authorization header value for a request with
// the given method and request-URI, using the most recently processed
// challenge.
func (a *Authenticator) Authorize(method base.Method, ur *base.URL) (base.HeaderValue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ch == nil {
		return nil, fmt.Errorf("no challenge received yet")
	}

	urStr := ur.CloneWithoutCredentials().String()

	if a.ch.method == headers.AuthBasic {
		resp := base64.StdEncoding.EncodeToString([]byte(a.user + ":" + a.pass))
		return base.HeaderValue{"Basic " + resp}, nil
	}

	a1 := md5Hex(a.user + ":" + a.ch.realm + ":" + a.pass)
	a2 := md5Hex(string(method) + ":" + urStr)

	auth := headers.Authenticate{
		Method:   headers.AuthDigest,
		Username: &a.user,
		Realm:    &a.ch.realm,
		Nonce:    &a.ch.nonce,
		URI:      &urStr,
		Opaque:   a.ch.opaque,
	}

	if a.ch.qop == "auth" {
		a.nc++
		nc := fmt.Sprintf("%08x", a.nc)
		response := digestResponseQOP(a1, a.ch.nonce, nc, a.cnonce, a.ch.qop, a2)

		qop := a.ch.qop
		cnonce := a.cnonce
		auth.QOP = &qop
		auth.NC = &nc
		auth.CNonce = &cnonce
		auth.Response = &response
	} else {
		response := digestResponseLegacy(a1, a.ch.nonce, a2)
		auth.Response = &response
	}

	return auth.Write(), nil
}
