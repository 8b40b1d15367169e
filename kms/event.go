package kms

import (
	"encoding/binary"
	"errors"
	"time"
)

// DRM event types.
const (
	EventVblank       = 0x01
	EventFlipComplete = 0x02
	EventCrtcSequence = 0x03
)

const (
	eventHeaderLen = 8
	// struct drm_event_vblank
	eventVblankLen = 32
)

var ErrShortEvent = errors.New("kms: truncated drm event")

// Event is a decoded struct drm_event_vblank. Page flip completions of both
// the legacy and the atomic interface use this layout; CrtcID is only filled
// by kernels that support page_flip_handler2.
type Event struct {
	Type     uint32
	UserData uint64
	Sec      uint32
	Usec     uint32
	Sequence uint32
	CrtcID   uint32
}

// Timestamp of the vblank the flip landed on, on the clock reported by
// CapTimestampMonotonic.
func (e Event) Timestamp() time.Duration {
	return time.Duration(e.Sec)*time.Second + time.Duration(e.Usec)*time.Microsecond
}

// DecodeEvents splits a read from the device into events. Unknown event types
// are skipped.
func DecodeEvents(b []byte) ([]Event, error) {
	var events []Event

	for len(b) > 0 {
		if len(b) < eventHeaderLen {
			return events, ErrShortEvent
		}
		typ := binary.NativeEndian.Uint32(b[0:4])
		length := binary.NativeEndian.Uint32(b[4:8])
		if length < eventHeaderLen || int(length) > len(b) {
			return events, ErrShortEvent
		}

		if (typ == EventFlipComplete || typ == EventVblank) && length >= eventVblankLen {
			events = append(events, Event{
				Type:     typ,
				UserData: binary.NativeEndian.Uint64(b[8:16]),
				Sec:      binary.NativeEndian.Uint32(b[16:20]),
				Usec:     binary.NativeEndian.Uint32(b[20:24]),
				Sequence: binary.NativeEndian.Uint32(b[24:28]),
				CrtcID:   binary.NativeEndian.Uint32(b[28:32]),
			})
		}

		b = b[length:]
	}

	return events, nil
}
