package drm

import "fmt"

// SetDpms changes the power state of o. Turning any output off arms the
// DPMS filter, see DpmsFilterActive.
func (b *Backend) SetDpms(o *Output, mode DpmsMode) error {
	if o.dpms == mode {
		return nil
	}
	if !b.active || b.card == nil {
		return ErrSessionInactive
	}

	if err := b.proto.setDpms(o, mode); err != nil {
		return fmt.Errorf("dpms %s on %s: %w", mode, o.name, err)
	}
	o.dpms = mode
	b.log.Debug.Printf("dpms %s on %s", mode, o.name)

	if mode == DpmsOn {
		b.checkOutputsAreOn()
		b.compositor.RepaintFull()
	} else {
		b.createDpmsFilter()
	}
	b.updateOutputsEnabled()
	return nil
}

// TurnOutputsOn powers all enabled outputs on, typically on user input while
// the DPMS filter is active.
func (b *Backend) TurnOutputsOn() {
	b.dpmsFilter = false
	for _, o := range b.cat.EnabledOutputs() {
		if err := b.SetDpms(o, DpmsOn); err != nil {
			b.log.Error.Printf("turning %s on: %v", o.name, err)
		}
	}
}

// DpmsFilterActive reports whether an enabled output is powered off, in
// which case input should wake the outputs instead of reaching clients.
func (b *Backend) DpmsFilterActive() bool { return b.dpmsFilter }

func (b *Backend) createDpmsFilter() {
	if b.dpmsFilter {
		// already another output is off
		return
	}
	b.dpmsFilter = true
}

func (b *Backend) checkOutputsAreOn() {
	if !b.dpmsFilter {
		return
	}
	for _, o := range b.cat.enabled {
		if !o.DpmsOn() {
			return
		}
	}
	b.dpmsFilter = false
}

// OutputsEnabled reports whether any enabled output is powered on.
func (b *Backend) OutputsEnabled() bool { return b.outputsEnabled }

func (b *Backend) updateOutputsEnabled() {
	enabled := false
	for _, o := range b.cat.enabled {
		enabled = enabled || o.DpmsOn()
	}
	if enabled == b.outputsEnabled {
		return
	}
	b.outputsEnabled = enabled
	b.compositor.OutputsEnabledChanged(enabled)
}

// EnableOutput adds o to or removes it from the outputs the compositor
// renders to.
func (b *Backend) EnableOutput(o *Output, enable bool) {
	if indexOf(b.cat.outputs, o) < 0 || b.cat.isEnabled(o) == enable {
		return
	}

	if enable {
		b.cat.enabled = append(b.cat.enabled, o)
		sortOutputs(b.cat.enabled)
		b.compositor.OutputAdded(o)
	} else {
		b.cat.removeEnabled(o)
		b.compositor.OutputRemoved(o)
	}

	b.updateOutputsEnabled()
	b.checkOutputsAreOn()
	b.compositor.OutputsQueried()
}
