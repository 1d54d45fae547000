package wireconn

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rivergate/rtspcore/base"
	"github.com/rivergate/rtspcore/liberrors"
)

// fakeServer drives the server side of a net.Pipe, replying to requests
// with canned responses keyed by method.
func fakeServer(t *testing.T, conn net.Conn, handler func(req *base.Request) *base.Response) {
	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	for {
		var req base.Request
		if err := req.Read(br); err != nil {
			return
		}

		res := handler(&req)
		if res == nil {
			continue
		}
		if res.Header == nil {
			res.Header = make(base.Header)
		}
		res.Header["CSeq"] = req.Header["CSeq"]
		if err := res.Write(bw); err != nil {
			return
		}
	}
}

func newPipeConnection(t *testing.T) (*Connection, net.Conn) {
	clientConn, serverConn := net.Pipe()

	c := &Connection{
		cfg:      Config{RequestTimeout: 2 * time.Second},
		conn:     clientConn,
		pending:  make(map[int]*pendingEntry),
		sinks:    make(map[int]FrameSink),
		wbuf:     make([]byte, 4+base.MaxInterleavedPayloadSize),
		readDone: make(chan struct{}),
	}
	c.cd = newCodec(c.conn)
	go c.readLoop()

	return c, serverConn
}

func TestSendRequestAssignsIncrementingCSeq(t *testing.T) {
	c, serverConn := newPipeConnection(t)
	defer c.Close("test done") //nolint:errcheck

	var seen []string
	go fakeServer(t, serverConn, func(req *base.Request) *base.Response {
		seen = append(seen, req.Header.Get("CSeq"))
		return &base.Response{StatusCode: base.StatusOK, StatusMessage: "OK"}
	})

	ur, err := base.ParseURL("rtsp://host/stream")
	require.NoError(t, err)

	res, err := c.SendRequest(&base.Request{Method: base.Options, URL: ur})
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)

	res, err = c.SendRequest(&base.Request{Method: base.Describe, URL: ur})
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)

	require.Equal(t, []string{"1", "2"}, seen)
}

func TestSendRequestTimesOutWithoutResponse(t *testing.T) {
	c, serverConn := newPipeConnection(t)
	c.cfg.RequestTimeout = 50 * time.Millisecond
	defer serverConn.Close() //nolint:errcheck
	defer c.Close("test done") //nolint:errcheck

	go fakeServer(t, serverConn, func(req *base.Request) *base.Response {
		return nil // never reply
	})

	ur, err := base.ParseURL("rtsp://host/stream")
	require.NoError(t, err)

	_, err = c.SendRequest(&base.Request{Method: base.Options, URL: ur})
	require.Error(t, err)
	require.IsType(t, liberrors.ErrRequestTimeout{}, err)
}

func TestCloseDropsPendingRequests(t *testing.T) {
	c, serverConn := newPipeConnection(t)
	defer serverConn.Close() //nolint:errcheck

	done := make(chan error, 1)
	go func() {
		ur, _ := base.ParseURL("rtsp://host/stream")
		_, err := c.SendRequest(&base.Request{Method: base.Options, URL: ur})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close("shutting down"))

	err := <-done
	require.Error(t, err)
}

func TestInterleavedFrameDispatchedToSink(t *testing.T) {
	c, serverConn := newPipeConnection(t)
	defer c.Close("test done") //nolint:errcheck

	received := make(chan *base.InterleavedFrame, 1)
	c.RegisterSink(0, func(fr *base.InterleavedFrame) {
		received <- fr
	})

	go func() {
		fr := base.InterleavedFrame{Channel: 0, Payload: []byte{1, 2, 3, 4}}
		buf, err := fr.Marshal()
		require.NoError(t, err)
		serverConn.Write(buf) //nolint:errcheck
	}()

	select {
	case fr := <-received:
		require.Equal(t, []byte{1, 2, 3, 4}, fr.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interleaved frame")
	}
}
