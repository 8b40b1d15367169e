package drm

import (
	"image"
	"time"

	"kmsbackend/kms"
)

// protocol is the mode-setting interface in use. It is picked once when the
// device is opened, every call site goes through it.
type protocol interface {
	atomic() bool
	// program sets up a new connector/CRTC pairing; current is the CRTC's
	// state as found on the device.
	program(o *Output, current *kms.Crtc) error
	present(o *Output, buf Buffer) error
	// decode maps a completion event to the output it belongs to.
	decode(ev kms.Event) Completion
	setDpms(o *Output, mode DpmsMode) error
	// blank shows a black frame, or arranges for the next present to
	// restore the CRTC.
	blank(o *Output) error
	teardown(o *Output)
}

// Completion is a decoded page flip event.
type Completion struct {
	// Output is the connector id of the output whose flip completed.
	Output    uint32
	Timestamp time.Duration
	Sequence  uint32
}

// blankBuffer returns a black framebuffer of the given size for crtc,
// reusing the previous one when the size did not change.
func (b *Backend) blankBuffer(crtc *Crtc, size image.Point) (*kms.DumbBuffer, error) {
	if crtc.blank != nil && int(crtc.blank.Width) == size.X && int(crtc.blank.Height) == size.Y {
		return crtc.blank, nil
	}
	b.destroyBlank(crtc)

	buf, err := b.card.CreateDumbBuffer(uint32(size.X), uint32(size.Y))
	if err != nil {
		return nil, err
	}
	crtc.blank = buf
	return buf, nil
}

func (b *Backend) destroyBlank(crtc *Crtc) {
	if crtc.blank == nil {
		return
	}
	if err := b.card.DestroyDumbBuffer(crtc.blank); err != nil {
		b.log.Error.Printf("destroying blank buffer of CRTC %d: %v", crtc.id, err)
	}
	crtc.blank = nil
}
