package kms

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flipEvent(userData uint64, sec, usec, seq, crtc uint32) []byte {
	b := make([]byte, eventVblankLen)
	binary.NativeEndian.PutUint32(b[0:], EventFlipComplete)
	binary.NativeEndian.PutUint32(b[4:], eventVblankLen)
	binary.NativeEndian.PutUint64(b[8:], userData)
	binary.NativeEndian.PutUint32(b[16:], sec)
	binary.NativeEndian.PutUint32(b[20:], usec)
	binary.NativeEndian.PutUint32(b[24:], seq)
	binary.NativeEndian.PutUint32(b[28:], crtc)
	return b
}

func TestDecodeEvents(t *testing.T) {
	var buf []byte
	buf = append(buf, flipEvent(41, 10, 500, 7, 60)...)

	// an event type we do not care about, 12 bytes long
	other := make([]byte, 12)
	binary.NativeEndian.PutUint32(other[0:], 0x80000000)
	binary.NativeEndian.PutUint32(other[4:], 12)
	buf = append(buf, other...)

	buf = append(buf, flipEvent(42, 11, 0, 8, 61)...)

	events, err := DecodeEvents(buf)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, uint64(41), events[0].UserData)
	assert.Equal(t, uint32(60), events[0].CrtcID)
	assert.Equal(t, uint32(7), events[0].Sequence)
	assert.Equal(t, 10*time.Second+500*time.Microsecond, events[0].Timestamp())

	assert.Equal(t, uint64(42), events[1].UserData)
	assert.Equal(t, uint32(61), events[1].CrtcID)
}

func TestDecodeEventsTruncated(t *testing.T) {
	buf := flipEvent(1, 0, 0, 0, 0)

	events, err := DecodeEvents(buf[:20])
	assert.ErrorIs(t, err, ErrShortEvent)
	assert.Empty(t, events)

	events, err = DecodeEvents(append(buf, 0x02, 0x00))
	assert.ErrorIs(t, err, ErrShortEvent)
	assert.Len(t, events, 1)
}

func TestDecodeEventsEmpty(t *testing.T) {
	events, err := DecodeEvents(nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}
