package transport

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"sync/atomic"
	"time"
)

// randIntN returns a uniform random integer in [0, n), using crypto/rand
// the way the teacher's client_media.go picks candidate ports: rejecting
// predictable PRNG seeding in favor of an unbiased source, since a
// collision just costs a retried bind rather than a correctness bug.
func randIntN(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// udpMaxPayloadSize is large enough for the biggest RTP/RTCP datagram a
// conforming peer should send; a larger datagram is cut to this size by
// ReadFrom and its remaining bytes are lost.
const udpMaxPayloadSize = 8192

// udpSocket wraps one UDP socket (used for either the RTP or RTCP half of
// a pair) with the read loop, NAT-pinhole write and read-buffer tuning
// the teacher's listener implements via raw syscalls. SetReadBuffer here
// uses the portable net.UDPConn method instead, since nothing in this
// client's scope needs the exact-doubling verification the teacher
// performs for its Linux-only sockopt path.
type udpSocket struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	lastPacketUnix int64
	started        bool

	done    chan struct{}
	onFrame func(payload []byte, receivedAt time.Time)
}

func newUDPSocket(localAddr string, readBufferSize int) (*udpSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	if readBufferSize > 0 {
		if err := conn.SetReadBuffer(readBufferSize); err != nil {
			conn.Close() //nolint:errcheck
			return nil, fmt.Errorf("setting UDP read buffer size: %w", err)
		}
	}

	return &udpSocket{conn: conn, done: make(chan struct{})}, nil
}

func (u *udpSocket) port() int {
	return u.conn.LocalAddr().(*net.UDPAddr).Port
}

func (u *udpSocket) start(expectedIP net.IP, anyPort bool, onFrame func(payload []byte, receivedAt time.Time)) {
	u.onFrame = onFrame
	u.started = true
	u.conn.SetReadDeadline(time.Time{}) //nolint:errcheck
	go u.run(expectedIP, anyPort)
}

func (u *udpSocket) run(expectedIP net.IP, anyPort bool) {
	defer close(u.done)

	expectedPort := 0
	buf := make([]byte, udpMaxPayloadSize)

	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			return
		}

		uaddr, ok := addr.(*net.UDPAddr)
		if !ok || !expectedIP.Equal(uaddr.IP) {
			continue
		}

		if anyPort && expectedPort == 0 {
			expectedPort = uaddr.Port
		} else if expectedPort != 0 && expectedPort != uaddr.Port {
			continue
		}

		now := time.Now()
		atomic.StoreInt64(&u.lastPacketUnix, now.Unix())

		payload := make([]byte, n)
		copy(payload, buf[:n])
		u.onFrame(payload, now)
	}
}

// writePinhole sends an empty/near-empty datagram to remote to open a NAT
// pinhole, per nat-method=dummy.
func (u *udpSocket) writePinhole(remote *net.UDPAddr) error {
	_, err := u.conn.WriteTo([]byte{0}, remote)
	return err
}

func (u *udpSocket) write(payload []byte, remote *net.UDPAddr, writeTimeout time.Duration) error {
	if writeTimeout > 0 {
		u.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	}
	_, err := u.conn.WriteTo(payload, remote)
	return err
}

func (u *udpSocket) lastPacketTime() time.Time {
	unix := atomic.LoadInt64(&u.lastPacketUnix)
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func (u *udpSocket) close() {
	if u.started {
		u.conn.SetReadDeadline(time.Now()) //nolint:errcheck
		<-u.done
	}
	u.conn.Close() //nolint:errcheck
}
