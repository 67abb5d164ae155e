package mjpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPayloaderRejectsTinySize(t *testing.T) {
	_, err := NewPayloader(HeaderSize)
	assert.ErrorIs(t, err, ErrPayloadSizeTooSmall)
}

func TestPayloadSingleFragment(t *testing.T) {
	frame, err := ParseFrame(buildJPEG(64, 48, []byte{0x01, 0x02, 0x03}))
	require.NoError(t, err)

	p, err := NewPayloader(1400)
	require.NoError(t, err)
	payloads, err := p.Payload(frame)
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	header, err := UnmarshalHeader(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(0), header.Offset)
	assert.Equal(t, uint8(0), header.Type)
	assert.Equal(t, uint8(255), header.Q)
	assert.Equal(t, 64, header.Width)
	assert.Equal(t, 48, header.Height)

	// first fragment: main header, table block (4 + 64), then the scan
	tables := payloads[0][HeaderSize : HeaderSize+4+64]
	assert.Equal(t, []byte{0, 0, 0, 64}, tables[:4])
	assert.Equal(t, frame.QuantizationTables()[0], tables[4:])
	assert.Equal(t, frame.Scan(), payloads[0][HeaderSize+4+64:])
}

func TestPayloadFragmentation(t *testing.T) {
	scan := make([]byte, 500)
	for i := range scan {
		scan[i] = byte(i)
	}
	frame, err := ParseFrame(buildJPEG(160, 120, scan))
	require.NoError(t, err)

	const maxSize = 200
	p, err := NewPayloader(maxSize)
	require.NoError(t, err)
	payloads, err := p.Payload(frame)
	require.NoError(t, err)

	// first fragment carries the 68-byte table block, the rest carry
	// maxSize-8 scan bytes each
	firstRoom := maxSize - HeaderSize - 68
	rest := len(scan) - firstRoom
	perFragment := maxSize - HeaderSize
	want := 1 + (rest+perFragment-1)/perFragment
	require.Len(t, payloads, want)

	var reassembled []byte
	lastOffset := -1
	for i, payload := range payloads {
		assert.LessOrEqual(t, len(payload), maxSize)
		header, err := UnmarshalHeader(payload)
		require.NoError(t, err)
		assert.Greater(t, int(header.Offset), lastOffset, "offsets must increase")
		lastOffset = int(header.Offset)

		data := payload[HeaderSize:]
		if i == 0 {
			data = data[4+64:]
		}
		reassembled = append(reassembled, data...)
	}
	assert.Equal(t, scan, reassembled)
}

func TestPayloadTablesMustFit(t *testing.T) {
	frame, err := ParseFrame(buildJPEG(64, 48, []byte{0x01}))
	require.NoError(t, err)

	p, err := NewPayloader(40)
	require.NoError(t, err)
	_, err = p.Payload(frame)
	assert.ErrorIs(t, err, ErrPayloadSizeTooSmall)
}
