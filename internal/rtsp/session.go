package rtsp

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	log "github.com/sirupsen/logrus"

	"github.com/avpkit/mjpegstream/internal/mjpeg"
	"github.com/avpkit/mjpegstream/internal/rtpstream"
	"github.com/avpkit/mjpegstream/internal/rtsp/transport"
)

// maxRequestSize bounds a single control-channel read.
const maxRequestSize = 1024

// rtcpFrameInterval is the number of frames between sender reports.
const rtcpFrameInterval = 30

var (
	ErrSessionClosed = errors.New("rtsp: session is closed")
	ErrNoTransport   = errors.New("rtsp: no client transport negotiated")
)

// SessionConfig carries the server-side parameters a session needs to
// answer DESCRIBE and to packetize frames.
type SessionConfig struct {
	// ServerAddress is the address advertised in the SDP origin and
	// the stream's control URL.
	ServerAddress string
	// Path is the stream path clients must request.
	Path string
	// MaxPayloadSize bounds one RTP payload, fragmentation header
	// included.
	MaxPayloadSize int
}

// Session owns one client's control connection and media stream. Its
// control loop runs on a dedicated goroutine, parked on the connection
// read; closing the connection is the only way to unblock it early.
type Session struct {
	id            uint32
	serverAddress string
	rtspPath      string

	conn       net.Conn
	clientIP   net.IP
	rtpConn    *net.UDPConn
	rtcpConn   *net.UDPConn
	packetizer *rtpstream.Packetizer
	payloader  *mjpeg.Payloader

	// ports are written by SETUP on the control loop and read by the
	// frame-delivery path.
	mu       sync.Mutex
	rtpPort  int
	rtcpPort int
	frames   uint64

	active atomic.Bool
	closed atomic.Bool

	closeOnce sync.Once
	done      chan struct{}

	log *log.Entry
}

// NewSession wraps an accepted control connection and starts the
// session's control loop.
func NewSession(conn net.Conn, id uint32, cfg SessionConfig) (*Session, error) {
	s, err := newSession(conn, id, cfg)
	if err != nil {
		return nil, err
	}
	go s.controlLoop()
	return s, nil
}

func newSession(conn net.Conn, id uint32, cfg SessionConfig) (*Session, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve client address: %w", err)
	}
	clientIP := net.ParseIP(host)
	if clientIP == nil {
		return nil, fmt.Errorf("client address %q is not an IP address", host)
	}

	payloader, err := mjpeg.NewPayloader(cfg.MaxPayloadSize)
	if err != nil {
		return nil, err
	}

	rtpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open RTP socket: %w", err)
	}
	rtcpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		rtpConn.Close()
		return nil, fmt.Errorf("failed to open RTCP socket: %w", err)
	}

	return &Session{
		id:            id,
		serverAddress: cfg.ServerAddress,
		rtspPath:      strings.Trim(cfg.Path, "/"),
		conn:          conn,
		clientIP:      clientIP,
		rtpConn:       rtpConn,
		rtcpConn:      rtcpConn,
		packetizer:    rtpstream.NewPacketizer(id, rtpstream.PayloadTypeJPEG, mjpeg.ClockRate),
		payloader:     payloader,
		done:          make(chan struct{}),
		log: log.WithFields(log.Fields{
			"session": id,
			"client":  conn.RemoteAddr().String(),
		}),
	}, nil
}

// ID returns the session id, unique among live sessions.
func (s *Session) ID() uint32 { return s.id }

// Active reports whether the session is between PLAY and PAUSE/TEARDOWN.
func (s *Session) Active() bool { return s.active.Load() }

// Closed reports whether the session reached its terminal state.
func (s *Session) Closed() bool { return s.closed.Load() }

// Done is closed when the control loop has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// ClientPorts returns the negotiated RTP and RTCP ports, zero before
// SETUP.
func (s *Session) ClientPorts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtpPort, s.rtcpPort
}

// Teardown marks the session closed. The control loop observes the
// flag on its next iteration; an in-flight read is not preempted.
func (s *Session) Teardown() {
	s.active.Store(false)
	s.closed.Store(true)
}

// Close tears the session down and releases its sockets. Idempotent.
func (s *Session) Close() {
	s.Teardown()
	s.closeOnce.Do(func() {
		s.conn.Close()
		s.rtpConn.Close()
		s.rtcpConn.Close()
	})
}

// controlLoop receives and handles control requests until the session
// closes or the connection drops. The bounded read is the loop's only
// suspension point.
func (s *Session) controlLoop() {
	defer close(s.done)
	defer s.Close()

	buf := make([]byte, maxRequestSize)
	for {
		if s.closed.Load() {
			s.log.Info("session closed, stopping control loop")
			return
		}
		n, err := s.conn.Read(buf)
		if err != nil {
			s.log.WithError(err).Info("control connection lost, stopping control loop")
			s.Teardown()
			return
		}
		if err := s.HandleRequest(buf[:n]); err != nil {
			s.log.WithError(err).Warn("failed to handle RTSP request")
		}
	}
}

// HandleRequest parses one raw request and dispatches it to the method
// handler, answering 400 for malformed requests and unknown methods.
func (s *Session) HandleRequest(raw []byte) error {
	req, err := ParseRequest(raw)
	if err != nil {
		return s.handleInvalid(req)
	}

	s.log.WithField("method", req.Method).Debug("RTSP request")
	switch req.Method {
	case MethodOptions:
		return s.handleOptions(req)
	case MethodDescribe:
		return s.handleDescribe(req)
	case MethodSetup:
		return s.handleSetup(req)
	case MethodPlay:
		return s.handlePlay(req)
	case MethodPause:
		return s.handlePause(req)
	case MethodTeardown:
		return s.handleTeardown(req)
	default:
		return s.handleInvalid(req)
	}
}

func (s *Session) handleOptions(req *Request) error {
	seq, err := req.Sequence()
	if err != nil {
		return s.handleInvalid(req)
	}
	s.log.Info("RTSP OPTIONS request")

	methods := make([]string, len(supportedMethods))
	for i, m := range supportedMethods {
		methods[i] = m.String()
	}
	header := http.Header{}
	header.Set("Public", strings.Join(methods, ", "))
	return s.sendResponse(&Response{
		Code:     http.StatusOK,
		Message:  http.StatusText(http.StatusOK),
		Sequence: seq,
		Header:   header,
	})
}

func (s *Session) handleDescribe(req *Request) error {
	seq, err := req.Sequence()
	if err != nil {
		return s.handleInvalid(req)
	}
	if !s.matchesPath(req.Path) {
		return s.sendNotFound(seq)
	}
	s.log.Info("RTSP DESCRIBE request")

	controlURL := s.controlURL()
	body, err := describeSDP(s.id, s.serverAddress, controlURL)
	if err != nil {
		return fmt.Errorf("failed to marshal session description: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/sdp")
	header.Set("Content-Base", controlURL)
	return s.sendResponse(&Response{
		Code:     http.StatusOK,
		Message:  http.StatusText(http.StatusOK),
		Sequence: seq,
		Header:   header,
		Body:     body,
	})
}

func (s *Session) handleSetup(req *Request) error {
	// the transport is checked before the sequence number, so the 461
	// goes out without a CSeq echo
	var transportValue string
	if req.Header != nil {
		transportValue = req.Header.Get("Transport")
	}
	t, err := transport.Parse(transportValue)
	switch {
	case errors.Is(err, transport.ErrUnsupportedTransport):
		s.log.Error("TCP transport is not supported")
		return s.sendResponse(&Response{
			Code:    transport.UnsupportedTransportCode,
			Message: transport.UnsupportedTransportMessage,
		})
	case err != nil:
		s.log.WithError(err).Warn("malformed transport header")
		seq, _ := req.Sequence()
		return s.sendResponse(&Response{
			Code:     http.StatusBadRequest,
			Message:  http.StatusText(http.StatusBadRequest),
			Sequence: seq,
		})
	}

	seq, err := req.Sequence()
	if err != nil {
		return s.handleInvalid(req)
	}
	if !s.matchesPath(req.Path) {
		return s.sendNotFound(seq)
	}
	s.log.WithFields(log.Fields{
		"rtp_port":  t.RTPPort,
		"rtcp_port": t.RTCPPort,
	}).Info("RTSP SETUP request")

	s.mu.Lock()
	s.rtpPort = t.RTPPort
	s.rtcpPort = t.RTCPPort
	s.mu.Unlock()

	header := http.Header{}
	header.Set("Session", s.sessionHeader())
	header.Set("Transport", t.String())
	return s.sendResponse(&Response{
		Code:     http.StatusOK,
		Message:  http.StatusText(http.StatusOK),
		Sequence: seq,
		Header:   header,
	})
}

func (s *Session) handlePlay(req *Request) error {
	seq, err := req.Sequence()
	if err != nil {
		return s.handleInvalid(req)
	}
	s.log.Info("RTSP PLAY request")
	s.active.Store(true)

	header := http.Header{}
	header.Set("Session", s.sessionHeader())
	// live stream, unbounded range
	header.Set("Range", "npt=0.000-")
	return s.sendResponse(&Response{
		Code:     http.StatusOK,
		Message:  http.StatusText(http.StatusOK),
		Sequence: seq,
		Header:   header,
	})
}

func (s *Session) handlePause(req *Request) error {
	seq, err := req.Sequence()
	if err != nil {
		return s.handleInvalid(req)
	}
	s.log.Info("RTSP PAUSE request")
	s.active.Store(false)

	header := http.Header{}
	header.Set("Session", s.sessionHeader())
	return s.sendResponse(&Response{
		Code:     http.StatusOK,
		Message:  http.StatusText(http.StatusOK),
		Sequence: seq,
		Header:   header,
	})
}

func (s *Session) handleTeardown(req *Request) error {
	seq, err := req.Sequence()
	if err != nil {
		return s.handleInvalid(req)
	}
	s.log.Info("RTSP TEARDOWN request")
	s.Teardown()

	header := http.Header{}
	header.Set("Session", s.sessionHeader())
	return s.sendResponse(&Response{
		Code:     http.StatusOK,
		Message:  http.StatusText(http.StatusOK),
		Sequence: seq,
		Header:   header,
	})
}

// handleInvalid answers 400, echoing the CSeq only when one was
// recoverable from the request.
func (s *Session) handleInvalid(req *Request) error {
	s.log.Info("invalid RTSP request")
	res := &Response{
		Code:    http.StatusBadRequest,
		Message: http.StatusText(http.StatusBadRequest),
	}
	if req != nil {
		if seq, err := req.Sequence(); err == nil {
			res.Sequence = seq
		}
	}
	return s.sendResponse(res)
}

func (s *Session) sendNotFound(seq string) error {
	s.log.Warn("request for unknown stream path")
	return s.sendResponse(&Response{
		Code:     http.StatusNotFound,
		Message:  http.StatusText(http.StatusNotFound),
		Sequence: seq,
	})
}

func (s *Session) sendResponse(res *Response) error {
	if err := res.Write(s.conn); err != nil {
		return fmt.Errorf("failed to send RTSP response: %w", err)
	}
	return nil
}

// SendRTP sends one RTP packet to the client's negotiated RTP port.
// Fire and forget: a failed send is reported but never retried.
func (s *Session) SendRTP(packet *rtp.Packet) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	port := s.rtpPort
	s.mu.Unlock()
	if port == 0 {
		return ErrNoTransport
	}
	b, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal RTP packet: %w", err)
	}
	_, err = s.rtpConn.WriteToUDP(b, &net.UDPAddr{IP: s.clientIP, Port: port})
	return err
}

// SendRTCP sends one RTCP packet to the client's negotiated RTCP port.
func (s *Session) SendRTCP(packet rtcp.Packet) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	port := s.rtcpPort
	s.mu.Unlock()
	if port == 0 {
		return ErrNoTransport
	}
	b, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal RTCP packet: %w", err)
	}
	_, err = s.rtcpConn.WriteToUDP(b, &net.UDPAddr{IP: s.clientIP, Port: port})
	return err
}

// SendFrame fragments and sends one frame. A no-op unless the session
// is playing. Fragments already sent when a later send fails are not
// rolled back.
func (s *Session) SendFrame(frame *mjpeg.Frame) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.active.Load() {
		return nil
	}
	payloads, err := s.payloader.Payload(frame)
	if err != nil {
		return fmt.Errorf("failed to fragment frame: %w", err)
	}
	for _, packet := range s.packetizer.Packetize(payloads) {
		if err := s.SendRTP(packet); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.frames++
	sendReport := s.frames%rtcpFrameInterval == 0
	s.mu.Unlock()
	if sendReport {
		if err := s.SendRTCP(s.packetizer.SenderReport()); err != nil {
			s.log.WithError(err).Debug("failed to send RTCP sender report")
		}
	}
	return nil
}

func (s *Session) sessionHeader() string {
	return strconv.FormatUint(uint64(s.id), 10)
}

func (s *Session) controlURL() string {
	return "rtsp://" + s.serverAddress + "/" + s.rtspPath
}

// matchesPath compares a requested path or absolute RTSP URL against
// the configured stream path.
func (s *Session) matchesPath(requested string) bool {
	p := requested
	if u, err := url.Parse(requested); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.Trim(p, "/") == s.rtspPath
}
