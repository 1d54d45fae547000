package headers

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rivergate/rtspcore/base"
)

// Authorization is an Authorization request header, either Basic or
// Digest.
type Authorization struct {
	Method AuthMethod

	BasicUser string
	BasicPass string

	DigestValues Authenticate
}

// Read decodes an Authorization header value.
func (h *Authorization) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	v0 := v[0]

	switch {
	case strings.HasPrefix(v0, "Basic "):
		h.Method = AuthBasic
		v0 = v0[len("Basic "):]

		tmp, err := base64.StdEncoding.DecodeString(v0)
		if err != nil {
			return fmt.Errorf("invalid value")
		}

		parts := strings.SplitN(string(tmp), ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid value")
		}
		h.BasicUser, h.BasicPass = parts[0], parts[1]

	case strings.HasPrefix(v0, "Digest "):
		h.Method = AuthDigest

		var vals Authenticate
		if err := vals.Read(base.HeaderValue{v0}); err != nil {
			return err
		}
		h.DigestValues = vals

	default:
		return fmt.Errorf("invalid authorization header")
	}

	return nil
}

// Write encodes an Authorization header value.
func (h Authorization) Write() base.HeaderValue {
	if h.Method == AuthBasic {
		response := base64.StdEncoding.EncodeToString([]byte(h.BasicUser + ":" + h.BasicPass))
		return base.HeaderValue{"Basic " + response}
	}
	return h.DigestValues.Write()
}
