package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	rtp  chan []byte
	rtcp chan []byte
}

func newRecordingSink() *recordingSink {
	return &recordingSink{rtp: make(chan []byte, 8), rtcp: make(chan []byte, 8)}
}

func (s *recordingSink) OnRTP(_ int, payload []byte, _ time.Time)  { s.rtp <- payload }
func (s *recordingSink) OnRTCP(_ int, payload []byte, _ time.Time) { s.rtcp <- payload }

func TestUDPStreamRoundTrip(t *testing.T) {
	sink := newRecordingSink()

	pending, err := OpenUDPPorts(0, 0, 0)
	require.NoError(t, err)

	rtpPort, rtcpPort := pending.ClientPorts()
	require.NotZero(t, rtpPort)
	require.NotZero(t, rtcpPort)

	cfg := Config{
		StreamIndex: 0,
		ServerIP:    net.ParseIP("127.0.0.1"),
		AnyPort:     true,
	}

	s := pending.Bind(cfg, sink)
	defer s.Close()

	srcConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer srcConn.Close()

	_, err = srcConn.WriteToUDP([]byte{1, 2, 3}, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: rtpPort})
	require.NoError(t, err)

	select {
	case payload := <-sink.rtp:
		require.Equal(t, []byte{1, 2, 3}, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RTP packet")
	}
}

func TestUDPStreamWriteRTCP(t *testing.T) {
	sink := newRecordingSink()

	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer serverConn.Close()

	serverPort := serverConn.LocalAddr().(*net.UDPAddr).Port

	pending, err := OpenUDPPorts(0, 0, 0)
	require.NoError(t, err)

	cfg := Config{
		StreamIndex:    0,
		ServerIP:       net.ParseIP("127.0.0.1"),
		ServerRTCPPort: serverPort,
		AnyPort:        true,
	}

	s := pending.Bind(cfg, sink)
	defer s.Close()

	require.NoError(t, s.WriteRTCP([]byte{9, 9, 9}))

	buf := make([]byte, 16)
	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	n, _, err := serverConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9, 9}, buf[:n])
}
