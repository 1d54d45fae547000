package base

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// URL is an RTSP URL: the same shape as an HTTP URL, plus the scheme
// restriction to rtsp/rtsps/rtsph.
type URL url.URL

var escapeRegexp = regexp.MustCompile(`^(.+?)://(.*?)@(.*?)/(.*?)$`)

// ParseURL parses location into a URL, requiring one of the three RTSP
// schemes. A raw password containing '%' is re-escaped first because
// net/url otherwise mangles it (see https://github.com/golang/go/issues/30611).
func ParseURL(s string) (*URL, error) {
	m := escapeRegexp.FindStringSubmatch(s)
	if m != nil {
		m[2] = strings.ReplaceAll(m[2], "%25", "%")
		m[2] = strings.ReplaceAll(m[2], "%", "%25")
		s = m[1] + "://" + m[2] + "@" + m[3] + "/" + m[4]
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "rtsp", "rtsps", "rtsph":
	default:
		return nil, fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}

	if u.Opaque != "" {
		return nil, fmt.Errorf("URLs with opaque data are not supported")
	}

	if u.Fragment != "" {
		return nil, fmt.Errorf("URLs with fragments are not supported")
	}

	return (*URL)(u), nil
}

// String implements fmt.Stringer.
func (u *URL) String() string {
	return (*url.URL)(u).String()
}

// Clone returns a deep copy of u.
func (u *URL) Clone() *URL {
	return (*URL)(&url.URL{
		Scheme:     u.Scheme,
		User:       u.User,
		Host:       u.Host,
		Path:       u.Path,
		RawPath:    u.RawPath,
		ForceQuery: u.ForceQuery,
		RawQuery:   u.RawQuery,
	})
}

// CloneWithoutCredentials returns a copy of u with User stripped, suitable
// for placing on the wire (RTSP request lines never carry userinfo).
func (u *URL) CloneWithoutCredentials() *URL {
	return (*URL)(&url.URL{
		Scheme:     u.Scheme,
		Host:       u.Host,
		Path:       u.Path,
		RawPath:    u.RawPath,
		ForceQuery: u.ForceQuery,
		RawQuery:   u.RawQuery,
	})
}

// ResolveReference resolves a (possibly relative) control URL against u
// by RFC 3986 reference resolution, carrying u's userinfo forward onto the
// result when the reference itself has none. SETUP control URLs do not go
// through it: description.Media.URL builds them with ResolveControlPath.
func (u *URL) ResolveReference(ref *URL) *URL {
	base := (*url.URL)(u)
	r := (*url.URL)(ref)
	resolved := base.ResolveReference(r)
	if resolved.User == nil {
		resolved.User = base.User
	}
	return (*URL)(resolved)
}

// ResolveControlPath builds a control URL by trailing-slash concatenation
// instead of RFC 3986 reference resolution, the non-compliant form some
// servers require. description.Media.URL uses it for every relative SDP
// control attribute, whatever the session configuration.
func (u *URL) ResolveControlPath(control string) *URL {
	base := u.Clone()
	s := (*url.URL)(base).String()
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	s += control
	parsed, err := url.Parse(s)
	if err != nil {
		return base
	}
	if parsed.User == nil {
		parsed.User = u.User
	}
	return (*URL)(parsed)
}

// Hostname returns u.Host without any port suffix.
func (u *URL) Hostname() string {
	return (*url.URL)(u).Hostname()
}

// Port returns the port part of u.Host, or "" if none is present.
func (u *URL) Port() string {
	return (*url.URL)(u).Port()
}
