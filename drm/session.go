package drm

import "kmsbackend/kms"

// Activate follows the session's active state, e.g. across VT switches.
func (b *Backend) Activate(active bool) {
	if active {
		b.log.Debug.Println("activating session")
		b.reactivate()
	} else {
		b.log.Debug.Println("deactivating session")
		b.deactivate()
	}
}

// Active reports whether the backend may present.
func (b *Backend) Active() bool { return b.active }

func (b *Backend) reactivate() {
	if b.active {
		return
	}

	if b.card == nil {
		if err := b.reopen(); err != nil {
			b.log.Error.Printf("reopening %s: %v", b.opts.DeviceNode, err)
			return
		}
	}

	b.active = true

	for _, o := range b.cat.outputs {
		o.retirePending(b.opts.OwnsBuffers)
	}
	b.releaseRetired()

	if !b.cursor.software {
		for _, o := range b.cat.outputs {
			// state was lost while another session owned the device
			if err := b.proto.blank(o); err != nil {
				b.log.Error.Printf("blanking %s: %v", o.name, err)
			}
			if b.cursor.enabled && b.cursor.handle != 0 {
				if !o.showCursor(b.card, b.cursor.handle, b.cursorSize) {
					b.setSoftwareCursor(true)
					continue
				}
			}
			o.moveCursor(b.card, b.cursor.pos, b.cursor.hotspot)
		}
	}

	// restart the compositor
	b.pending = 0
	b.compositor.SwapComplete()
	b.compositor.RepaintFull()
}

func (b *Backend) deactivate() {
	if !b.active {
		return
	}

	// block the compositor
	if b.pending == 0 {
		b.compositor.SwapAboutToBegin()
	}

	if b.card != nil {
		for _, o := range b.cat.outputs {
			o.hideCursor(b.card)
		}
	}

	b.pending = 0
	b.active = false
}

// DeviceRevoked drops the device after the session lost it for good, for
// instance because the GPU went away. Activating again acquires it anew.
func (b *Backend) DeviceRevoked() {
	b.deactivate()
	b.closeDevice()
}

// reopen acquires the device again after it was revoked, restores the
// protocol chosen at startup and programs the surviving outputs anew.
func (b *Backend) reopen() error {
	if err := b.open(); err != nil {
		return err
	}
	if b.proto.atomic() {
		if err := b.card.SetClientCap(kms.ClientCapAtomic, 1); err != nil {
			b.closeDevice()
			return err
		}
	}

	kept := b.cat.Outputs()
	b.Reconcile()

	for _, o := range kept {
		if indexOf(b.cat.outputs, o) < 0 {
			continue
		}
		if err := b.proto.blank(o); err != nil {
			b.log.Error.Printf("restoring %s: %v", o.name, err)
		}
	}
	return nil
}
