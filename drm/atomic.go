package drm

import (
	"fmt"

	"kmsbackend/kms"
)

// atomicProtocol drives connector, CRTC and primary plane through atomic
// commits. Completions are matched by the CRTC id of the event.
type atomicProtocol struct {
	b *Backend
}

func (p *atomicProtocol) atomic() bool { return true }

func (p *atomicProtocol) program(o *Output, _ *kms.Crtc) error {
	crtc := p.b.cat.Crtc(o.crtc)
	if crtc == nil {
		return fmt.Errorf("CRTC %d is gone", o.crtc)
	}
	plane := p.b.cat.freePrimaryPlane(crtc)
	if plane == nil {
		return fmt.Errorf("no primary plane for CRTC %d", crtc.id)
	}

	blank, err := p.b.blankBuffer(crtc, o.mode.Size())
	if err != nil {
		return fmt.Errorf("blank buffer: %w", err)
	}

	blob, err := p.b.card.CreateModeBlob(o.mode)
	if err != nil {
		p.b.destroyBlank(crtc)
		return err
	}

	o.primary = plane.id
	o.modeBlob = blob

	req, err := p.request(o, blank.FbID, true)
	if err == nil {
		err = p.b.card.Atomic(kms.AtomicTestOnly|kms.AtomicAllowModeset, req, 0)
	}
	if err != nil {
		p.destroyModeBlob(o)
		p.b.destroyBlank(crtc)
		o.primary = 0
		return fmt.Errorf("test commit: %w", err)
	}

	// the real mode set happens with the first frame
	o.modesetRequested = true
	return nil
}

// request fills in the state needed to show fbID on o. With modeset the
// connector routing and the mode are included.
func (p *atomicProtocol) request(o *Output, fbID uint32, modeset bool) (*kms.AtomicRequest, error) {
	con := p.b.cat.Connector(o.connector)
	crtc := p.b.cat.Crtc(o.crtc)
	plane := p.b.cat.Plane(o.primary)
	if con == nil || crtc == nil || plane == nil {
		return nil, fmt.Errorf("output %s lost its connector, CRTC or plane", o.name)
	}

	req := &kms.AtomicRequest{}
	if modeset {
		con.setAtomic(req, "CRTC_ID", uint64(crtc.id))
		crtc.setAtomic(req, "MODE_ID", uint64(o.modeBlob))
		crtc.setAtomic(req, "ACTIVE", 1)
	}

	size := o.mode.Size()
	plane.setAtomic(req, "FB_ID", uint64(fbID))
	plane.setAtomic(req, "CRTC_ID", uint64(crtc.id))
	// source coordinates are 16.16 fixed point
	plane.setAtomic(req, "SRC_X", 0)
	plane.setAtomic(req, "SRC_Y", 0)
	plane.setAtomic(req, "SRC_W", uint64(size.X)<<16)
	plane.setAtomic(req, "SRC_H", uint64(size.Y)<<16)
	plane.setAtomic(req, "CRTC_X", 0)
	plane.setAtomic(req, "CRTC_Y", 0)
	plane.setAtomic(req, "CRTC_W", uint64(size.X))
	plane.setAtomic(req, "CRTC_H", uint64(size.Y))

	return req, nil
}

func (p *atomicProtocol) present(o *Output, buf Buffer) error {
	req, err := p.request(o, buf.FramebufferID(), o.modesetRequested)
	if err != nil {
		return err
	}

	flags := uint32(kms.PageFlipEvent | kms.AtomicNonblock)
	if o.modesetRequested {
		flags |= kms.AtomicAllowModeset
	}
	if err := p.b.card.Atomic(flags, req, uint64(o.connector)); err != nil {
		return err
	}
	o.modesetRequested = false
	return nil
}

func (p *atomicProtocol) decode(ev kms.Event) Completion {
	c := Completion{
		Output:    uint32(ev.UserData),
		Timestamp: ev.Timestamp(),
		Sequence:  ev.Sequence,
	}
	// the CRTC may drive another output by now
	if _, ok := p.b.retired[c.Output]; ok {
		return c
	}
	if o := p.b.cat.outputForCrtc(ev.CrtcID); o != nil {
		c.Output = o.connector
	}
	return c
}

func (p *atomicProtocol) setDpms(o *Output, mode DpmsMode) error {
	crtc := p.b.cat.Crtc(o.crtc)
	if crtc == nil {
		return fmt.Errorf("CRTC %d is gone", o.crtc)
	}

	var active uint64
	if mode == DpmsOn {
		active = 1
	}

	req := &kms.AtomicRequest{}
	crtc.setAtomic(req, "ACTIVE", active)
	return p.b.card.Atomic(kms.AtomicAllowModeset, req, 0)
}

// blank only marks the output: the next present commits a full mode set.
// The mode blob is created again if the device was reopened.
func (p *atomicProtocol) blank(o *Output) error {
	if o.modeBlob == 0 {
		blob, err := p.b.card.CreateModeBlob(o.mode)
		if err != nil {
			return err
		}
		o.modeBlob = blob
	}
	o.modesetRequested = true
	return nil
}

func (p *atomicProtocol) teardown(o *Output) {
	req := &kms.AtomicRequest{}
	if con := p.b.cat.Connector(o.connector); con != nil {
		con.setAtomic(req, "CRTC_ID", 0)
	}
	crtc := p.b.cat.Crtc(o.crtc)
	if crtc != nil {
		crtc.setAtomic(req, "ACTIVE", 0)
		crtc.setAtomic(req, "MODE_ID", 0)
	}
	if plane := p.b.cat.Plane(o.primary); plane != nil {
		plane.setAtomic(req, "FB_ID", 0)
		plane.setAtomic(req, "CRTC_ID", 0)
	}

	if err := p.b.card.Atomic(kms.AtomicAllowModeset, req, 0); err != nil {
		p.b.log.Error.Printf("disabling output %s: %v", o.name, err)
	}

	p.destroyModeBlob(o)
	if crtc != nil {
		p.b.destroyBlank(crtc)
	}
}

func (p *atomicProtocol) destroyModeBlob(o *Output) {
	if o.modeBlob == 0 {
		return
	}
	if err := p.b.card.DestroyBlob(o.modeBlob); err != nil {
		p.b.log.Error.Printf("destroying mode blob %d: %v", o.modeBlob, err)
	}
	o.modeBlob = 0
}
