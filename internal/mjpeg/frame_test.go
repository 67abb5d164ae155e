package mjpeg

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildJPEG assembles a minimal baseline JPEG: SOI, one DQT, SOF0 with
// the given dimensions, SOS, the scan bytes and EOI.
func buildJPEG(width, height int, scan []byte) []byte {
	var b bytes.Buffer
	b.Write([]byte{0xFF, 0xD8})

	// DQT, one 8-bit table with coefficients 1..64
	b.Write([]byte{0xFF, 0xDB, 0x00, 0x43, 0x00})
	for i := 1; i <= 64; i++ {
		b.WriteByte(byte(i))
	}

	// SOF0, 8-bit precision, three components
	b.Write([]byte{0xFF, 0xC0, 0x00, 0x11, 0x08})
	binary.Write(&b, binary.BigEndian, uint16(height))
	binary.Write(&b, binary.BigEndian, uint16(width))
	b.Write([]byte{0x03, 0x01, 0x22, 0x00, 0x02, 0x11, 0x01, 0x03, 0x11, 0x01})

	// SOS, three components
	b.Write([]byte{0xFF, 0xDA, 0x00, 0x0C, 0x03, 0x01, 0x00, 0x02, 0x11, 0x03, 0x11, 0x00, 0x3F, 0x00})
	b.Write(scan)
	b.Write([]byte{0xFF, 0xD9})
	return b.Bytes()
}

func TestParseFrame(t *testing.T) {
	scan := []byte{0x12, 0x34, 0x56, 0x78, 0x9A}
	frame, err := ParseFrame(buildJPEG(64, 48, scan))
	require.NoError(t, err)

	assert.Equal(t, 64, frame.Width())
	assert.Equal(t, 48, frame.Height())
	assert.Equal(t, scan, frame.Scan())
	require.Len(t, frame.QuantizationTables(), 1)
	assert.Equal(t, byte(1), frame.QuantizationTables()[0][0])
	assert.Equal(t, byte(64), frame.QuantizationTables()[0][63])
}

func TestParseFrameKeepsStuffedScanBytes(t *testing.T) {
	// FF 00 stuffing and an FF D0 restart marker are scan content
	scan := []byte{0x01, 0xFF, 0x00, 0x02, 0xFF, 0xD0, 0x03}
	frame, err := ParseFrame(buildJPEG(16, 16, scan))
	require.NoError(t, err)
	assert.Equal(t, scan, frame.Scan())
}

func TestParseFrameNotJPEG(t *testing.T) {
	_, err := ParseFrame([]byte{0x00, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrNotJPEG)

	_, err = ParseFrame(nil)
	assert.ErrorIs(t, err, ErrNotJPEG)
}

func TestParseFrameDimensionLimits(t *testing.T) {
	_, err := ParseFrame(buildJPEG(4000, 48, []byte{0x01}))
	assert.ErrorIs(t, err, ErrDimensionInvalid)

	_, err = ParseFrame(buildJPEG(64, 2048, []byte{0x01}))
	assert.ErrorIs(t, err, ErrDimensionInvalid)

	_, err = ParseFrame(buildJPEG(0, 48, []byte{0x01}))
	assert.ErrorIs(t, err, ErrDimensionInvalid)

	// 2040 pixels is exactly 255 blocks and still representable
	_, err = ParseFrame(buildJPEG(2040, 2040, []byte{0x01}))
	assert.NoError(t, err)
}

func TestParseFrame16BitQuantizationTable(t *testing.T) {
	data := buildJPEG(64, 48, []byte{0x01})
	// flip the precision nibble of the DQT table header
	i := bytes.Index(data, []byte{0xFF, 0xDB})
	require.GreaterOrEqual(t, i, 0)
	data[i+4] = 0x10
	_, err := ParseFrame(data)
	assert.ErrorIs(t, err, ErrPrecision)
}

func TestParseFrameMissingSegments(t *testing.T) {
	// SOI + DQT only, never reaches a scan
	data := buildJPEG(64, 48, []byte{0x01})
	sos := bytes.Index(data, []byte{0xFF, 0xDA})
	_, err := ParseFrame(data[:sos])
	assert.ErrorIs(t, err, ErrNoScan)

	// scan without a preceding SOF0
	var b bytes.Buffer
	b.Write([]byte{0xFF, 0xD8})
	b.Write(data[sos:])
	_, err = ParseFrame(b.Bytes())
	assert.ErrorIs(t, err, ErrNoFrameHeader)

	// EOI stripped
	_, err = ParseFrame(data[:len(data)-2])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestHeaderRoundTrip(t *testing.T) {
	in := Header{
		Offset: 0x012345,
		Type:   0,
		Q:      255,
		Width:  640,
		Height: 480,
	}
	b := in.Marshal()
	require.Len(t, b, HeaderSize)

	out, err := UnmarshalHeader(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = UnmarshalHeader(b[:4])
	assert.ErrorIs(t, err, ErrShortHeader)
}
