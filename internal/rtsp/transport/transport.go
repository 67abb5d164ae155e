// Package transport parses the RTSP Transport header for UDP unicast
// sessions.
package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnsupportedTransport covers interleaved (TCP) transport
	// requests, which this server rejects with a 461.
	ErrUnsupportedTransport = errors.New("unsupported transport")

	ErrMissingClientPort = errors.New("transport header carries no client_port parameter")
)

const (
	UnsupportedTransportCode    = 461
	UnsupportedTransportMessage = "Unsupported Transport"
)

// Transport is a negotiated UDP unicast transport: the client's RTP and
// RTCP ports as requested in SETUP.
type Transport struct {
	Unicast  bool
	RTPPort  int
	RTCPPort int
}

// Parse reads a Transport header value. Any TCP transport token fails
// with ErrUnsupportedTransport; a missing or malformed client_port pair
// fails with a plain parse error. Parse never writes a response, the
// caller answers the client.
func Parse(value string) (*Transport, error) {
	if value == "" {
		return nil, errors.New("empty transport header")
	}
	if strings.Contains(value, "RTP/AVP/TCP") {
		return nil, ErrUnsupportedTransport
	}

	t := &Transport{}
	for _, part := range strings.Split(value, ";") {
		switch {
		case part == "RTP/AVP", part == "RTP/AVP/UDP":
			continue
		case part == "unicast":
			t.Unicast = true
		case part == "multicast":
			continue
		case strings.HasPrefix(part, "client_port="):
			ports := strings.TrimPrefix(part, "client_port=")
			low, high, ok := strings.Cut(ports, "-")
			if !ok {
				return nil, fmt.Errorf("malformed client_port %q: missing dash", ports)
			}
			rtpPort, err := strconv.Atoi(low)
			if err != nil {
				return nil, fmt.Errorf("malformed client RTP port %q: %w", low, err)
			}
			rtcpPort, err := strconv.Atoi(high)
			if err != nil {
				return nil, fmt.Errorf("malformed client RTCP port %q: %w", high, err)
			}
			t.RTPPort = rtpPort
			t.RTCPPort = rtcpPort
		default:
			// other parameters are not needed for a UDP unicast setup
			continue
		}
	}
	if t.RTPPort == 0 && t.RTCPPort == 0 {
		return nil, ErrMissingClientPort
	}
	return t, nil
}

// String renders the transport for the SETUP response echo.
func (t *Transport) String() string {
	return fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", t.RTPPort, t.RTCPPort)
}
