package headers

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rivergate/rtspcore/base"
)

func TestKeyValParse(t *testing.T) {
	for _, ca := range []struct {
		name string
		s    string
		kvs  map[string]string
	}{
		{"base", `key1=v1,key2=v2`, map[string]string{"key1": "v1", "key2": "v2"}},
		{"with space", `key1=v1, key2=v2`, map[string]string{"key1": "v1", "key2": "v2"}},
		{"with apexes", `key1="v1", key2=v2`, map[string]string{"key1": "v1", "key2": "v2"}},
		{"with apexes and comma", `key1="v,1", key2="v2"`, map[string]string{"key1": "v,1", "key2": "v2"}},
		{"with apexes and equal", `key1="v=1", key2="v2"`, map[string]string{"key1": "v=1", "key2": "v2"}},
		{"no val key1", `key1, key2="v2"`, map[string]string{"key1": "", "key2": "v2"}},
		{"no val key2", `key1="v=1", key2`, map[string]string{"key1": "v=1", "key2": ""}},
		{"no val either", `key1, key2`, map[string]string{"key1": "", "key2": ""}},
	} {
		t.Run(ca.name, func(t *testing.T) {
			kvs, err := keyValParse(ca.s, ',')
			require.NoError(t, err)
			require.Equal(t, ca.kvs, kvs)
		})
	}
}

func TestTransportReadWrite(t *testing.T) {
	ssrc := uint32(0xAABBCCDD)
	delivery := TransportDeliveryUnicast
	clientPorts := [2]int{4588, 4589}
	serverPorts := [2]int{6000, 6001}

	h := Transport{
		Protocol:    TransportProtocolUDP,
		Delivery:    &delivery,
		ClientPorts: &clientPorts,
		ServerPorts: &serverPorts,
		SSRC:        &ssrc,
	}

	v := h.Write()

	var h2 Transport
	err := h2.Read(v)
	require.NoError(t, err)
	require.Equal(t, h, h2)
}

func TestTransportInterleaved(t *testing.T) {
	v := base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1"}

	var h Transport
	err := h.Read(v)
	require.NoError(t, err)
	require.Equal(t, TransportProtocolTCP, h.Protocol)
	require.Equal(t, &[2]int{0, 1}, h.InterleavedIDs)
}

func TestTransportMissingProtocol(t *testing.T) {
	var h Transport
	err := h.Read(base.HeaderValue{"unicast;client_port=4000-4001"})
	require.Error(t, err)
}

func TestTransportSourceIP(t *testing.T) {
	v := base.HeaderValue{"RTP/AVP;unicast;source=10.0.0.1;client_port=4000-4001"}

	var h Transport
	err := h.Read(v)
	require.NoError(t, err)
	require.Equal(t, net.ParseIP("10.0.0.1").String(), h.Source.String())
}

func TestSessionReadWrite(t *testing.T) {
	timeout := uint(60)
	h := Session{Session: "42", Timeout: &timeout}

	v := h.Write()
	require.Equal(t, base.HeaderValue{"42;timeout=60"}, v)

	var h2 Session
	err := h2.Read(v)
	require.NoError(t, err)
	require.Equal(t, h, h2)
}

func TestSessionNoTimeout(t *testing.T) {
	var h Session
	err := h.Read(base.HeaderValue{"abc123"})
	require.NoError(t, err)
	require.Equal(t, "abc123", h.Session)
	require.Nil(t, h.Timeout)
}

func TestAuthenticateDigestQOP(t *testing.T) {
	v := base.HeaderValue{`Digest realm="cam", nonce="n1", qop="auth"`}

	var h Authenticate
	err := h.Read(v)
	require.NoError(t, err)
	require.Equal(t, AuthDigest, h.Method)
	require.Equal(t, "cam", *h.Realm)
	require.Equal(t, "n1", *h.Nonce)
	require.Equal(t, "auth", *h.QOP)
}

func TestAuthenticateStale(t *testing.T) {
	var h Authenticate
	err := h.Read(base.HeaderValue{`Digest realm="cam", nonce="n2", stale=true`})
	require.NoError(t, err)
	require.True(t, h.IsStale())
}

func TestAuthorizationBasicRoundTrip(t *testing.T) {
	h := Authorization{Method: AuthBasic, BasicUser: "admin", BasicPass: "pw"}

	v := h.Write()

	var h2 Authorization
	err := h2.Read(v)
	require.NoError(t, err)
	require.Equal(t, h, h2)
}

func TestRTPInfoReadWrite(t *testing.T) {
	seq := uint16(1000)
	rtptime := uint32(90000)
	h := RTPInfo{{URL: "rtsp://example.com/trackID=1", SequenceNumber: &seq, Timestamp: &rtptime}}

	v := h.Write()

	var h2 RTPInfo
	err := h2.Read(v)
	require.NoError(t, err)
	require.Equal(t, h, h2)
}
