package session

import "github.com/rivergate/rtspcore/base"

func defaultPort(scheme string) string {
	switch scheme {
	case "rtsp":
		return "554"
	case "rtsps":
		return "322"
	case "rtsph":
		return "80"
	default:
		return "554"
	}
}

// hostPort returns u's host:port, filling in the scheme's default port
// when the URL didn't specify one.
func hostPort(u *base.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	return u.Hostname() + ":" + defaultPort(u.Scheme)
}
