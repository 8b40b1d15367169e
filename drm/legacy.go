package drm

import (
	"fmt"

	"kmsbackend/kms"
)

// legacyProtocol drives the device with SetCrtc and per-CRTC page flips.
// Flip events carry the connector id as user data.
type legacyProtocol struct {
	b *Backend
}

func (p *legacyProtocol) atomic() bool { return false }

func (p *legacyProtocol) program(o *Output, _ *kms.Crtc) error {
	return p.blank(o)
}

func (p *legacyProtocol) blank(o *Output) error {
	crtc := p.b.cat.Crtc(o.crtc)
	if crtc == nil {
		return fmt.Errorf("CRTC %d is gone", o.crtc)
	}

	buf, err := p.b.blankBuffer(crtc, o.mode.Size())
	if err != nil {
		return fmt.Errorf("blank buffer: %w", err)
	}

	mode := o.mode
	if err := p.b.card.SetCrtc(o.crtc, buf.FbID, 0, 0, []uint32{o.connector}, &mode); err != nil {
		p.b.destroyBlank(crtc)
		return err
	}
	o.modesetRequested = false
	return nil
}

func (p *legacyProtocol) present(o *Output, buf Buffer) error {
	if o.modesetRequested {
		mode := o.mode
		if err := p.b.card.SetCrtc(o.crtc, buf.FramebufferID(), 0, 0, []uint32{o.connector}, &mode); err != nil {
			return err
		}
		o.modesetRequested = false
	}
	return p.b.card.PageFlip(o.crtc, buf.FramebufferID(), kms.PageFlipEvent, uint64(o.connector))
}

func (p *legacyProtocol) decode(ev kms.Event) Completion {
	return Completion{
		Output:    uint32(ev.UserData),
		Timestamp: ev.Timestamp(),
		Sequence:  ev.Sequence,
	}
}

func (p *legacyProtocol) setDpms(o *Output, mode DpmsMode) error {
	con := p.b.cat.Connector(o.connector)
	if con == nil {
		return fmt.Errorf("connector %d is gone", o.connector)
	}
	prop, ok := con.prop("DPMS")
	if !ok {
		return fmt.Errorf("connector %s has no DPMS property", con.name)
	}
	return p.b.card.SetConnectorProperty(o.connector, prop.id, uint64(mode))
}

func (p *legacyProtocol) teardown(o *Output) {
	if err := p.b.card.SetCrtc(o.crtc, 0, 0, 0, nil, nil); err != nil {
		p.b.log.Error.Printf("disabling CRTC %d: %v", o.crtc, err)
	}
	if crtc := p.b.cat.Crtc(o.crtc); crtc != nil {
		p.b.destroyBlank(crtc)
	}
}
