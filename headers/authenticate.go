package headers

import (
	"fmt"
	"strings"

	"github.com/rivergate/rtspcore/base"
)

// AuthMethod is an authentication scheme.
type AuthMethod int

const (
	AuthBasic AuthMethod = iota
	AuthDigest
)

// Authenticate is a WWW-Authenticate (server challenge) or Authenticate
// header. Compared to a plain RFC 2617 rendering, it also carries qop/nc/
// cnonce so the Authenticator can implement qop=auth, which the legacy
// Digest form in this family of clients never supported.
type Authenticate struct {
	Method AuthMethod

	Username  *string
	Realm     *string
	Nonce     *string
	URI       *string
	Response  *string
	Opaque    *string
	Stale     *string
	Algorithm *string
	QOP       *string
	NC        *string
	CNonce    *string
}

// Read decodes a WWW-Authenticate/Authenticate header value.
func (h *Authenticate) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	v0 := v[0]

	i := strings.IndexByte(v0, ' ')
	if i < 0 {
		return fmt.Errorf("unable to split between method and keys (%v)", v0)
	}
	method, v0 := v0[:i], v0[i+1:]

	switch method {
	case "Basic":
		h.Method = AuthBasic
	case "Digest":
		h.Method = AuthDigest
	default:
		return fmt.Errorf("invalid method (%s)", method)
	}

	kvs, err := keyValParse(v0, ',')
	if err != nil {
		return err
	}

	for k, rv := range kvs {
		v := rv
		switch k {
		case "username":
			h.Username = &v
		case "realm":
			h.Realm = &v
		case "nonce":
			h.Nonce = &v
		case "uri":
			h.URI = &v
		case "response":
			h.Response = &v
		case "opaque":
			h.Opaque = &v
		case "stale":
			h.Stale = &v
		case "algorithm":
			h.Algorithm = &v
		case "qop":
			h.QOP = &v
		case "nc":
			h.NC = &v
		case "cnonce":
			h.CNonce = &v
		}
	}

	return nil
}

// IsStale reports whether the challenge carries stale=true (case-insensitive
// per RFC 2617, which leaves the token unquoted in most implementations but
// some servers quote it anyway).
func (h Authenticate) IsStale() bool {
	return h.Stale != nil && strings.EqualFold(strings.Trim(*h.Stale, `"`), "true")
}

// Write encodes a WWW-Authenticate/Authenticate header value.
func (h Authenticate) Write() base.HeaderValue {
	ret := ""
	switch h.Method {
	case AuthBasic:
		ret += "Basic"
	case AuthDigest:
		ret += "Digest"
	}
	ret += " "

	var parts []string

	quoted := func(k string, v *string) {
		if v != nil {
			parts = append(parts, k+`="`+*v+`"`)
		}
	}
	bare := func(k string, v *string) {
		if v != nil {
			parts = append(parts, k+"="+*v)
		}
	}

	quoted("username", h.Username)
	quoted("realm", h.Realm)
	quoted("nonce", h.Nonce)
	quoted("uri", h.URI)
	quoted("response", h.Response)
	quoted("opaque", h.Opaque)
	quoted("stale", h.Stale)
	quoted("algorithm", h.Algorithm)
	bare("qop", h.QOP)
	bare("nc", h.NC)
	quoted("cnonce", h.CNonce)

	ret += strings.Join(parts, ", ")

	return base.HeaderValue{ret}
}
