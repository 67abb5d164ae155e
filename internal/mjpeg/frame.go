// Package mjpeg parses baseline JPEG frames and fragments them into
// RTP/JPEG payloads (RFC 2435).
package mjpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ClockRate is the RTP clock rate for video payloads, in Hz.
const ClockRate = 90000

// JPEG marker bytes. Markers are two bytes, 0xFF followed by the code.
const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOF0 = 0xC0
	markerDQT  = 0xDB
	markerDRI  = 0xDD
	markerSOS  = 0xDA
	markerTEM  = 0x01
)

var (
	ErrNotJPEG          = errors.New("mjpeg: data does not start with a JPEG SOI marker")
	ErrTruncated        = errors.New("mjpeg: truncated JPEG data")
	ErrNoFrameHeader    = errors.New("mjpeg: no baseline SOF0 segment found")
	ErrNoScan           = errors.New("mjpeg: no SOS segment found")
	ErrPrecision        = errors.New("mjpeg: 16-bit quantization tables are not supported")
	ErrDimensionInvalid = errors.New("mjpeg: frame dimensions out of the 8..2040 pixel range")
)

// Frame is one complete baseline JPEG image, decomposed into the pieces
// the RTP/JPEG payloader needs: pixel dimensions, quantization tables and
// the entropy-coded scan.
type Frame struct {
	width   int
	height  int
	qtables [][]byte
	scan    []byte
}

// ParseFrame walks the JFIF marker segments of data and extracts the
// frame dimensions (SOF0), the 8-bit quantization tables (DQT) and the
// entropy-coded scan between SOS and EOI. Dimensions whose 8-pixel-unit
// encoding would not fit the payload header are a hard error.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, ErrNotJPEG
	}

	f := &Frame{}
	i := 2
	for i+1 < len(data) {
		if data[i] != 0xFF {
			return nil, fmt.Errorf("mjpeg: expected marker at offset %d, got 0x%02x", i, data[i])
		}
		marker := data[i+1]
		i += 2

		switch {
		case marker == markerTEM || (marker >= 0xD0 && marker <= markerEOI):
			// standalone markers carry no length field
			continue
		case marker == markerSOS:
			return f.finish(data, i)
		}

		if i+1 >= len(data) {
			return nil, ErrTruncated
		}
		length := int(binary.BigEndian.Uint16(data[i:]))
		if length < 2 || i+length > len(data) {
			return nil, ErrTruncated
		}
		segment := data[i+2 : i+length]
		i += length

		switch marker {
		case markerSOF0:
			if err := f.parseFrameHeader(segment); err != nil {
				return nil, err
			}
		case markerDQT:
			if err := f.parseQuantizationTables(segment); err != nil {
				return nil, err
			}
		}
	}
	return nil, ErrNoScan
}

// parseFrameHeader reads the SOF0 segment: precision, height, width.
func (f *Frame) parseFrameHeader(segment []byte) error {
	if len(segment) < 5 {
		return ErrTruncated
	}
	f.height = int(binary.BigEndian.Uint16(segment[1:]))
	f.width = int(binary.BigEndian.Uint16(segment[3:]))
	wu, hu := (f.width+7)/8, (f.height+7)/8
	if wu < 1 || wu > 255 || hu < 1 || hu > 255 {
		return ErrDimensionInvalid
	}
	return nil
}

// parseQuantizationTables reads one DQT segment, which may hold several
// tables, each a precision/id byte followed by 64 coefficients.
func (f *Frame) parseQuantizationTables(segment []byte) error {
	for len(segment) > 0 {
		precision := segment[0] >> 4
		if precision != 0 {
			return ErrPrecision
		}
		if len(segment) < 65 {
			return ErrTruncated
		}
		table := make([]byte, 64)
		copy(table, segment[1:65])
		f.qtables = append(f.qtables, table)
		segment = segment[65:]
	}
	return nil
}

// finish consumes the SOS header at offset i and captures the
// entropy-coded scan up to the EOI marker. Byte stuffing (FF 00) and
// restart markers (FF D0..D7) are part of the scan and kept as-is.
func (f *Frame) finish(data []byte, i int) (*Frame, error) {
	if f.width == 0 && f.height == 0 {
		return nil, ErrNoFrameHeader
	}
	if i+1 >= len(data) {
		return nil, ErrTruncated
	}
	length := int(binary.BigEndian.Uint16(data[i:]))
	if length < 2 || i+length > len(data) {
		return nil, ErrTruncated
	}
	start := i + length
	for j := start; j+1 < len(data); j++ {
		if data[j] == 0xFF && data[j+1] == markerEOI {
			f.scan = data[start:j]
			return f, nil
		}
	}
	return nil, ErrTruncated
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.height }

// Scan returns the entropy-coded bytes between SOS and EOI.
func (f *Frame) Scan() []byte { return f.scan }

// QuantizationTables returns the 64-byte tables in the order they
// appeared in the stream.
func (f *Frame) QuantizationTables() [][]byte { return f.qtables }
