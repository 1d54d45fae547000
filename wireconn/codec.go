package wireconn

import (
	"bufio"
	"io"

	"github.com/rivergate/rtspcore/base"
)

const codecReadBufferSize = 4096

// codec frames RTSP requests/responses and interleaved binary frames on a
// single byte stream. It is restartable across calls: a partial read never
// loses bytes because bufio.Reader buffers internally and every Read*
// method consumes exactly one message's worth of bytes.
type codec struct {
	w  io.Writer
	br *bufio.Reader

	req base.Request
	res base.Response
	fr  base.InterleavedFrame
}

func newCodec(rw io.ReadWriter) *codec {
	return &codec{
		w:  rw,
		br: bufio.NewReaderSize(rw, codecReadBufferSize),
	}
}

func (c *codec) readInterleavedFrame() (*base.InterleavedFrame, error) {
	// the magic byte has already been peeked and is still in the reader.
	if _, err := c.br.Discard(1); err != nil {
		return nil, err
	}
	if err := c.fr.Unmarshal(c.br); err != nil {
		return nil, err
	}
	return &c.fr, nil
}

func (c *codec) readResponse() (*base.Response, error) {
	if err := c.res.Read(c.br); err != nil {
		return nil, err
	}
	return &c.res, nil
}

func (c *codec) readRequest() (*base.Request, error) {
	if err := c.req.Read(c.br); err != nil {
		return nil, err
	}
	return &c.req, nil
}

// readResponseOrFrame reads the next message on the stream, returning
// either *base.Response or *base.InterleavedFrame.
func (c *codec) readResponseOrFrame() (interface{}, error) {
	b, err := c.br.Peek(1)
	if err != nil {
		return nil, err
	}

	if b[0] == base.InterleavedFrameMagicByte {
		return c.readInterleavedFrame()
	}

	return c.readResponse()
}

// readRequestOrFrame is the server-facing counterpart, unused by this
// client but kept symmetric with readResponseOrFrame for any future
// REDIRECT/PLAY_NOTIFY-style server-initiated request support.
func (c *codec) readRequestOrFrame() (interface{}, error) {
	b, err := c.br.Peek(1)
	if err != nil {
		return nil, err
	}

	if b[0] == base.InterleavedFrameMagicByte {
		return c.readInterleavedFrame()
	}

	return c.readRequest()
}

func (c *codec) writeRequest(req *base.Request) error {
	bw := bufio.NewWriter(c.w)
	return req.Write(bw)
}

func (c *codec) writeInterleavedFrame(fr *base.InterleavedFrame, buf []byte) error {
	n, err := fr.MarshalTo(buf)
	if err != nil {
		return err
	}
	_, err = c.w.Write(buf[:n])
	return err
}
