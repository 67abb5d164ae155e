package rtsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pion/rtp"
	log "github.com/sirupsen/logrus"
)

// Client is the consumer counterpart: it issues RTSP requests over one
// control connection and receives the negotiated media stream over UDP.
// Requests are issued synchronously, one response per request.
type Client struct {
	conn net.Conn
	br   *bufio.Reader

	url  string
	cseq int

	session  string
	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn

	log *log.Entry
}

// DialClient connects the control channel. path is the stream path on
// the server.
func DialClient(ctx context.Context, addr, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RTSP server: %w", err)
	}
	return &Client{
		conn: conn,
		br:   bufio.NewReader(conn),
		url:  "rtsp://" + addr + "/" + path,
		log:  log.WithField("server", addr),
	}, nil
}

// Close tears down the control connection and any media sockets.
func (c *Client) Close() error {
	if c.rtpConn != nil {
		c.rtpConn.Close()
	}
	if c.rtcpConn != nil {
		c.rtcpConn.Close()
	}
	return c.conn.Close()
}

// Session returns the session id issued at SETUP.
func (c *Client) Session() string { return c.session }

func (c *Client) Options() (*Response, error) {
	return c.do(MethodOptions, nil)
}

func (c *Client) Describe() (*Response, error) {
	header := http.Header{}
	header.Set("Accept", "application/sdp")
	return c.do(MethodDescribe, header)
}

// Setup opens a local RTP/RTCP port pair, offers it to the server and
// records the issued session id.
func (c *Client) Setup() (*Response, error) {
	rtpConn, rtcpConn, err := listenUDPPair()
	if err != nil {
		return nil, err
	}
	rtpPort := rtpConn.LocalAddr().(*net.UDPAddr).Port

	header := http.Header{}
	header.Set("Transport", fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", rtpPort, rtpPort+1))
	res, err := c.do(MethodSetup, header)
	if err != nil || res.Code != http.StatusOK {
		rtpConn.Close()
		rtcpConn.Close()
		return res, err
	}
	c.rtpConn = rtpConn
	c.rtcpConn = rtcpConn
	c.session = res.Header.Get("Session")
	c.log.WithField("session", c.session).Info("transport negotiated")
	return res, nil
}

func (c *Client) Play() (*Response, error) {
	return c.do(MethodPlay, c.sessionHeader())
}

func (c *Client) Pause() (*Response, error) {
	return c.do(MethodPause, c.sessionHeader())
}

func (c *Client) Teardown() (*Response, error) {
	return c.do(MethodTeardown, c.sessionHeader())
}

// ReadPacket receives one RTP packet from the media socket. Setup must
// have succeeded first.
func (c *Client) ReadPacket() (*rtp.Packet, error) {
	if c.rtpConn == nil {
		return nil, errors.New("rtsp: no transport negotiated")
	}
	buf := make([]byte, 2048)
	n, _, err := c.rtpConn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	packet := &rtp.Packet{}
	if err := packet.Unmarshal(buf[:n]); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RTP packet: %w", err)
	}
	return packet, nil
}

// SetReadDeadline bounds subsequent ReadPacket calls.
func (c *Client) SetReadDeadline(t time.Time) error {
	if c.rtpConn == nil {
		return errors.New("rtsp: no transport negotiated")
	}
	return c.rtpConn.SetReadDeadline(t)
}

func (c *Client) sessionHeader() http.Header {
	header := http.Header{}
	if c.session != "" {
		header.Set("Session", c.session)
	}
	return header
}

func (c *Client) do(method Method, header http.Header) (*Response, error) {
	c.cseq++
	req := &Request{
		Method:  method,
		Path:    c.url,
		Version: "RTSP/1.0",
		Header:  header,
	}
	req.SetSequence(strconv.Itoa(c.cseq))
	if err := req.Write(c.conn); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}
	res, err := ReadResponse(c.br)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}
	return res, nil
}

// listenUDPPair binds two consecutive local UDP ports, RTP on the even
// position of the pair the server echoes back.
func listenUDPPair() (*net.UDPConn, *net.UDPConn, error) {
	for attempt := 0; attempt < 16; attempt++ {
		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open RTP socket: %w", err)
		}
		port := rtpConn.LocalAddr().(*net.UDPAddr).Port
		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port + 1})
		if err == nil {
			return rtpConn, rtcpConn, nil
		}
		rtpConn.Close()
	}
	return nil, nil, errors.New("rtsp: failed to bind a consecutive UDP port pair")
}
