package mjpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// dynamicQ marks the quantization tables as carried in-band, in the
// first fragment of each frame.
const dynamicQ = 255

var ErrPayloadSizeTooSmall = errors.New("mjpeg: max payload size leaves no room for fragment data")

// Payloader fragments parsed frames into RTP/JPEG payloads. Every
// produced payload, header included, fits maxPayloadSize. The caller is
// responsible for setting the RTP marker bit on the final fragment.
type Payloader struct {
	maxPayloadSize int
}

func NewPayloader(maxPayloadSize int) (*Payloader, error) {
	// first fragment needs the main header, the quantization table
	// header and at least one scan byte
	if maxPayloadSize <= HeaderSize+4 {
		return nil, ErrPayloadSizeTooSmall
	}
	return &Payloader{maxPayloadSize: maxPayloadSize}, nil
}

// Payload splits the frame's scan into ordered fragments with strictly
// increasing offsets. The first fragment carries the frame's
// quantization tables (Q=255 in-band table convention).
func (p *Payloader) Payload(f *Frame) ([][]byte, error) {
	tables := quantizationTableHeader(f.QuantizationTables())
	if p.maxPayloadSize <= HeaderSize+len(tables) {
		return nil, fmt.Errorf("mjpeg: quantization tables of %d bytes do not fit the payload size %d: %w",
			len(tables), p.maxPayloadSize, ErrPayloadSizeTooSmall)
	}

	scan := f.Scan()
	header := Header{
		Type:   0,
		Q:      dynamicQ,
		Width:  f.Width(),
		Height: f.Height(),
	}

	var payloads [][]byte
	for offset := 0; offset < len(scan) || offset == 0; {
		header.Offset = uint32(offset)
		payload := header.Marshal()
		if offset == 0 {
			payload = append(payload, tables...)
		}
		room := p.maxPayloadSize - len(payload)
		if room > len(scan)-offset {
			room = len(scan) - offset
		}
		payload = append(payload, scan[offset:offset+room]...)
		payloads = append(payloads, payload)
		offset += room
		if room == 0 {
			break
		}
	}
	return payloads, nil
}

// quantizationTableHeader renders the RFC 2435 section 3.1.8 table
// block: MBZ, precision, 16-bit length, then the concatenated tables.
func quantizationTableHeader(tables [][]byte) []byte {
	n := 0
	for _, t := range tables {
		n += len(t)
	}
	out := make([]byte, 4, 4+n)
	binary.BigEndian.PutUint16(out[2:], uint16(n))
	for _, t := range tables {
		out = append(out, t...)
	}
	return out
}
