package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// Response is one RTSP response. An empty Sequence omits the CSeq
// header entirely, matching the degraded 400 and the 461 paths.
type Response struct {
	Code     int
	Message  string
	Sequence string
	Header   http.Header
	Body     []byte
}

// Write emits the status line, CSeq when known, headers and the body
// with its Content-Length.
func (r *Response) Write(w io.Writer) error {
	writer := textproto.NewWriter(bufio.NewWriter(w))

	err := writer.PrintfLine("RTSP/1.0 %d %s", r.Code, r.Message)
	if err != nil {
		return fmt.Errorf("failed to write status line: %w", err)
	}
	if r.Header == nil {
		r.Header = http.Header{}
	}
	if r.Sequence != "" {
		// set the map key directly: Header.Set would canonicalize
		// "CSeq" to "Cseq" on the wire
		r.Header.Del("CSeq")
		r.Header["CSeq"] = []string{r.Sequence}
	}
	if len(r.Body) > 0 {
		r.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	if err := r.Header.WriteSubset(writer.W, nil); err != nil {
		return err
	}
	if err := writer.PrintfLine(""); err != nil {
		return err
	}
	if len(r.Body) > 0 {
		if _, err := writer.W.Write(r.Body); err != nil {
			return err
		}
	}
	return writer.W.Flush()
}

// ReadResponse parses a response from the control connection, used by
// the client side.
func ReadResponse(br *bufio.Reader) (*Response, error) {
	reader := textproto.NewReader(br)
	statusLine, err := reader.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("failed to read RTSP status line: %w", err)
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[0], "RTSP/") {
		return nil, fmt.Errorf("malformed RTSP status line %q", statusLine)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse response code: %w", err)
	}

	header, err := reader.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("failed to read RTSP headers: %w", err)
	}

	res := &Response{
		Code:     code,
		Message:  parts[2],
		Sequence: textproto.MIMEHeader(header).Get("CSeq"),
		Header:   http.Header(header),
	}
	if lengthValue := res.Header.Get("Content-Length"); lengthValue != "" {
		length, err := strconv.Atoi(lengthValue)
		if err != nil {
			return nil, fmt.Errorf("failed to parse content-length: %w", err)
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		res.Body = body
	}
	return res, nil
}
