// Package rtpstream owns the per-stream RTP header state: sequence
// numbering, the media clock and sender statistics.
package rtpstream

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// PayloadTypeJPEG is the static RTP payload type for JPEG video.
const PayloadTypeJPEG = 26

// second offset between the NTP epoch (1900) and the Unix epoch (1970)
const ntpEpochOffset = 2208988800

// Packetizer wraps payload fragments into RTP packets for one stream.
// The sequence number advances by exactly one per packet, wrapping
// modulo 65536, and all packets of one call share a timestamp taken
// from a 90 kHz clock started at construction.
type Packetizer struct {
	mu          sync.Mutex
	ssrc        uint32
	payloadType uint8
	clockRate   uint32
	seq         uint16
	start       time.Time
	packetCount uint32
	octetCount  uint32
}

func NewPacketizer(ssrc uint32, payloadType uint8, clockRate uint32) *Packetizer {
	return &Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		clockRate:   clockRate,
		seq:         uint16(rand.Uint32()),
		start:       time.Now(),
	}
}

// Packetize produces one RTP packet per payload, marking only the last.
func (p *Packetizer) Packetize(payloads [][]byte) []*rtp.Packet {
	if len(payloads) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	timestamp := p.timestamp(time.Now())
	packets := make([]*rtp.Packet, 0, len(payloads))
	for i, payload := range payloads {
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    p.payloadType,
				SequenceNumber: p.seq,
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		})
		p.seq++
		p.packetCount++
		p.octetCount += uint32(len(payload))
	}
	return packets
}

// SenderReport snapshots the stream counters into an RTCP sender report
// carrying the stream's SSRC and both NTP and RTP time on one clock.
func (p *Packetizer) SenderReport() *rtcp.SenderReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	return &rtcp.SenderReport{
		SSRC:        p.ssrc,
		NTPTime:     ntpTime(now),
		RTPTime:     p.timestamp(now),
		PacketCount: p.packetCount,
		OctetCount:  p.octetCount,
	}
}

func (p *Packetizer) timestamp(now time.Time) uint32 {
	elapsed := now.Sub(p.start)
	return uint32(elapsed.Seconds() * float64(p.clockRate))
}

func ntpTime(t time.Time) uint64 {
	seconds := uint64(t.Unix()) + ntpEpochOffset
	fraction := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return seconds<<32 | fraction
}
