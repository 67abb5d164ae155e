package mjpeg

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the wire size of the RTP/JPEG main header.
const HeaderSize = 8

var ErrShortHeader = errors.New("mjpeg: payload shorter than the RTP/JPEG header")

// Header is the main RTP/JPEG header prefixed to every fragment of a
// frame: a 24-bit byte offset into the scan, the frame type, the
// quantization table selector and the dimensions in 8-pixel units.
type Header struct {
	TypeSpecific uint8
	Offset       uint32
	Type         uint8
	Q            uint8
	Width        int
	Height       int
}

// Marshal lays the header out big-endian in 8 bytes.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	b[0] = h.TypeSpecific
	b[1] = byte(h.Offset >> 16)
	b[2] = byte(h.Offset >> 8)
	b[3] = byte(h.Offset)
	b[4] = h.Type
	b[5] = h.Q
	b[6] = byte(h.Width / 8)
	b[7] = byte(h.Height / 8)
	return b
}

// UnmarshalHeader reads a main header back from the front of a payload.
func UnmarshalHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		TypeSpecific: b[0],
		Offset:       binary.BigEndian.Uint32(b[:4]) & 0xFFFFFF,
		Type:         b[4],
		Q:            b[5],
		Width:        int(b[6]) * 8,
		Height:       int(b[7]) * 8,
	}, nil
}
