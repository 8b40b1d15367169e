package drm

import "kmsbackend/kms"

// Reconcile re-reads the connectors and brings the outputs in line: outputs
// of disconnected connectors are torn down, newly connected connectors get a
// free CRTC. It runs at startup and on every hotplug event of the device.
func (b *Backend) Reconcile() {
	if b.card == nil {
		return
	}

	if _, err := b.enumerate(b.proto.atomic()); err != nil {
		b.log.Error.Printf("reconcile: %v", err)
		return
	}

	var kept []*Output
	var pending []*Connector

	for _, con := range b.cat.Connectors() {
		if !con.connected {
			continue
		}
		if o := b.cat.findOutput(con.id); o != nil {
			kept = append(kept, o)
		} else {
			pending = append(pending, con)
		}
	}

	for _, o := range b.cat.Outputs() {
		if indexOf(kept, o) >= 0 {
			continue
		}
		b.cat.removeOutput(o)
		b.compositor.OutputRemoved(o)
		b.teardown(o)
		b.log.Info.Printf("output %s removed", o.name)
	}

	for _, con := range pending {
		if len(con.modes) == 0 {
			// not ready yet, the next hotplug event will bring the modes
			b.log.Debug.Printf("connector %s has no modes", con.name)
			continue
		}

		o := b.createOutput(con)
		if o == nil {
			continue
		}
		b.cat.outputs = append(b.cat.outputs, o)
		b.compositor.OutputAdded(o)
	}

	sortOutputs(b.cat.outputs)
	b.cat.enabled = append([]*Output(nil), b.cat.outputs...)

	b.readOutputsConfiguration()
	b.updateOutputsEnabled()

	if len(b.cat.outputs) > 0 {
		b.compositor.OutputsQueried()
	}
}

// createOutput pairs con with the first free CRTC one of its encoders can
// drive and programs it. Candidates that fail to program are skipped.
func (b *Backend) createOutput(con *Connector) *Output {
	for _, encID := range con.encoders {
		enc, err := b.card.Encoder(encID)
		if err != nil {
			b.log.Debug.Printf("encoder %d: %v", encID, err)
			continue
		}

		for _, crtc := range b.cat.crtcs {
			if !crtc.compatible(enc.PossibleCrtcs) || crtc.output != 0 {
				continue
			}

			current, err := b.card.Crtc(crtc.id)
			if err != nil {
				b.log.Debug.Printf("CRTC %d: %v", crtc.id, err)
				continue
			}

			mode := initialMode(current, con.modes)
			o := newOutput(con, crtc, mode, current.GammaSize, b.log)
			b.log.Debug.Printf("for new output %s use mode %s", o.name, mode)

			if err := b.proto.program(o, current); err != nil {
				b.log.Info.Printf("failed to create output for connector %d on CRTC %d: %v", con.id, crtc.id, err)
				continue
			}
			b.cat.claim(o)

			b.initOutputCursor(o)

			b.log.Info.Printf("found new output %s with uuid %s", o.name, o.uuid)
			return o
		}
	}
	return nil
}

// teardown releases the hardware state of an output that is going away.
func (b *Backend) teardown(o *Output) {
	if o.cursorVisible {
		o.hideCursor(b.card)
	}
	b.proto.teardown(o)
	if o.pending != nil && b.card != nil {
		// released when the kernel reports the flip done
		b.retired[o.connector] = o.pending
		o.pending = nil
	}
	o.dropBuffers(b.opts.OwnsBuffers)
	b.cat.release(o)
}

// initialMode prefers the mode the CRTC already runs so taking over from the
// console needs no mode change. Right after a VT switch the CRTC's copy of
// the mode lacks vrefresh, type and name, so only timings are compared.
func initialMode(current *kms.Crtc, modes []kms.ModeInfo) kms.ModeInfo {
	if current.ModeValid {
		for _, m := range modes {
			if current.Mode.SameTimings(m) {
				return m
			}
		}
	}
	return modes[0]
}
