package rtsp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

var (
	ErrMalformedRequest = errors.New("malformed RTSP request line")
	ErrMissingCSeq      = errors.New("missing or invalid CSeq header")
)

// Request is one parsed RTSP request, valid for a single handling cycle.
type Request struct {
	Method  Method
	Path    string
	Version string
	Header  http.Header
	Body    []byte

	// cseq holds the raw CSeq value if one could be recovered, even
	// from an otherwise malformed request.
	cseq string
}

// ParseRequest splits the request line at its first two spaces and
// first CRLF; a missing delimiter or empty field is ErrMalformedRequest.
// The returned request carries whatever CSeq value was recoverable so
// error responses can still echo it.
func ParseRequest(raw []byte) (*Request, error) {
	line, rest, found := bytes.Cut(raw, []byte("\r\n"))
	if !found {
		return &Request{cseq: recoverCSeq(raw)}, ErrMalformedRequest
	}
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 < 0 {
		return &Request{cseq: recoverCSeq(raw)}, ErrMalformedRequest
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 < 0 {
		return &Request{cseq: recoverCSeq(raw)}, ErrMalformedRequest
	}
	sp2 += sp1 + 1

	req := &Request{
		Method:  Method(line[:sp1]),
		Path:    string(line[sp1+1 : sp2]),
		Version: string(line[sp2+1:]),
	}
	if req.Method == "" || req.Path == "" || req.Version == "" {
		req.cseq = recoverCSeq(raw)
		return req, ErrMalformedRequest
	}

	reader := bufio.NewReader(bytes.NewReader(rest))
	header, err := textproto.NewReader(reader).ReadMIMEHeader()
	switch {
	case err != nil && err != io.EOF:
		// keep the request line result, recover what we can
		req.cseq = recoverCSeq(raw)
		return req, nil
	default:
		req.Header = http.Header(header)
		req.cseq = req.Header.Get("CSeq")
		req.Body, _ = io.ReadAll(reader)
	}
	return req, nil
}

// Sequence returns the CSeq value to echo. The value must be present
// and a non-negative integer, anything else is ErrMissingCSeq.
func (r *Request) Sequence() (string, error) {
	if r.cseq == "" {
		return "", ErrMissingCSeq
	}
	n, err := strconv.Atoi(strings.TrimSpace(r.cseq))
	if err != nil || n < 0 {
		return "", ErrMissingCSeq
	}
	return r.cseq, nil
}

// recoverCSeq scans a raw request for a CSeq header line without
// relying on the rest of the request being well-formed.
func recoverCSeq(raw []byte) string {
	for _, line := range strings.Split(string(raw), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if found && textproto.CanonicalMIMEHeaderKey(name) == "Cseq" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// Write emits the request in wire form, used by the client side.
func (r *Request) Write(w io.Writer) error {
	writer := textproto.NewWriter(bufio.NewWriter(w))

	err := writer.PrintfLine("%s %s %s", r.Method, r.Path, r.Version)
	if err != nil {
		return fmt.Errorf("failed to write request line: %w", err)
	}
	if r.Header == nil {
		r.Header = http.Header{}
	}
	if r.cseq != "" {
		// set the map key directly: Header.Set would canonicalize
		// "CSeq" to "Cseq" on the wire
		r.Header.Del("CSeq")
		r.Header["CSeq"] = []string{r.cseq}
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

// SetSequence sets the CSeq header value written by Write.
func (r *Request) SetSequence(cseq string) {
	r.cseq = cseq
}
