package base

import (
	"bufio"
	"fmt"
	"strconv"
)

// Request is an RTSP request.
type Request struct {
	Method Method
	URL    *URL
	Header Header

	// Content is the optional request body.
	Content []byte
}

// Read parses a Request from rb. The CRLFCRLF header terminator and any
// Content-Length body are consumed before Read returns.
func (req *Request) Read(rb *bufio.Reader) error {
	byts, err := readBytesLimited(rb, ' ', requestMaxMethodLength)
	if err != nil {
		return err
	}
	req.Method = Method(byts[:len(byts)-1])

	if req.Method == "" {
		return fmt.Errorf("empty method")
	}

	byts, err = readBytesLimited(rb, ' ', requestMaxURLLength)
	if err != nil {
		return err
	}
	rawURL := string(byts[:len(byts)-1])

	if rawURL == "" {
		return fmt.Errorf("empty url")
	}

	ur, err := ParseURL(rawURL)
	if err != nil {
		return fmt.Errorf("unable to parse url '%s': %w", rawURL, err)
	}
	req.URL = ur

	byts, err = readBytesLimited(rb, '\r', requestMaxProtocolLength)
	if err != nil {
		return err
	}
	proto := string(byts[:len(byts)-1])

	if proto != rtspProtocol10 {
		return fmt.Errorf("expected '%s', got '%s'", rtspProtocol10, proto)
	}

	if err := readByteEqual(rb, '\n'); err != nil {
		return err
	}

	req.Header = make(Header)
	if err := req.Header.read(rb); err != nil {
		return err
	}

	req.Content, err = contentRead(rb, req.Header)
	return err
}

// Write serializes req to bw and flushes it.
func (req Request) Write(bw *bufio.Writer) error {
	urStr := req.URL.CloneWithoutCredentials().String()
	_, err := bw.Write([]byte(string(req.Method) + " " + urStr + " " + rtspProtocol10 + "\r\n"))
	if err != nil {
		return err
	}

	if req.Header == nil {
		req.Header = make(Header)
	}

	if len(req.Content) != 0 {
		req.Header["Content-Length"] = HeaderValue{strconv.FormatInt(int64(len(req.Content)), 10)}
	}

	if err := req.Header.write(bw); err != nil {
		return err
	}

	if err := contentWrite(bw, req.Content); err != nil {
		return err
	}

	return bw.Flush()
}

// String implements fmt.Stringer, mainly for logging.
func (req Request) String() string {
	return string(req.Method) + " " + req.URL.String()
}
