package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rivergate/rtspcore/base"
	"github.com/rivergate/rtspcore/liberrors"
)

// TestDigestRFC2617WorkedExample reproduces the worked example from
// RFC 2617 section 3.5.1 bit-exactly, holding nonce/cnonce/nc fixed.
func TestDigestRFC2617WorkedExample(t *testing.T) {
	a1 := md5Hex("Mufasa:testrealm@host.com:Circle Of Life")
	a2 := md5Hex("GET:/dir/index.html")

	response := digestResponseQOP(a1, "dcd98b7102dd2f0e8b11d0f600bfb0c093", "00000001", "0a4f113b", "auth", a2)

	require.Equal(t, "6629fae49393a05397450978507c4ef1", response)
}

func TestDigestLegacyNoQOP(t *testing.T) {
	a := NewAuthenticator("admin", "12345")

	stale, err := a.OnChallenge(base.HeaderValue{`Digest realm="cam", nonce="abc123"`})
	require.NoError(t, err)
	require.False(t, stale)

	ur, err := base.ParseURL("rtsp://10.0.0.1/cam")
	require.NoError(t, err)

	v, err := a.Authorize(base.Describe, ur)
	require.NoError(t, err)
	require.Contains(t, v[0], "response=")
	require.NotContains(t, v[0], "qop=")
}

// TestStaleNonceRetry reproduces spec scenario 2: a first 401 challenge,
// a retry, a stale-nonce 401 with a new nonce, and a second retry that
// reuses the same nc.
func TestStaleNonceRetry(t *testing.T) {
	a := NewAuthenticator("admin", "12345")
	ur, err := base.ParseURL("rtsp://cam/stream")
	require.NoError(t, err)

	stale, err := a.OnChallenge(base.HeaderValue{`Digest realm="cam", nonce="n1", qop="auth"`})
	require.NoError(t, err)
	require.False(t, stale)

	_, err = a.Authorize(base.Describe, ur)
	require.NoError(t, err)
	require.Equal(t, uint32(1), a.nc)

	stale, err = a.OnChallenge(base.HeaderValue{`Digest realm="cam", nonce="n2", qop="auth", stale=true`})
	require.NoError(t, err)
	require.True(t, stale)
	require.Equal(t, uint32(0), a.nc)

	_, err = a.Authorize(base.Describe, ur)
	require.NoError(t, err)
	require.Equal(t, uint32(1), a.nc)
	require.Equal(t, "n2", a.ch.nonce)
}

func TestThreeFreshFailuresIsFatal(t *testing.T) {
	a := NewAuthenticator("admin", "wrong")

	for i := 0; i < 2; i++ {
		_, err := a.OnChallenge(base.HeaderValue{`Digest realm="cam", nonce="n1"`})
		require.NoError(t, err)
	}

	_, err := a.OnChallenge(base.HeaderValue{`Digest realm="cam", nonce="n1"`})
	require.Error(t, err)
	require.IsType(t, liberrors.ErrAuthFailed{}, err)
}

func TestBasicAuthorize(t *testing.T) {
	a := NewAuthenticator("admin", "12345")

	_, err := a.OnChallenge(base.HeaderValue{`Basic realm="cam"`})
	require.NoError(t, err)

	ur, err := base.ParseURL("rtsp://cam/stream")
	require.NoError(t, err)

	v, err := a.Authorize(base.Describe, ur)
	require.NoError(t, err)
	require.Equal(t, "Basic YWRtaW46MTIzNDU=", v[0])
}
