package drm

import "sort"

// Catalogue owns the device objects and the outputs built from them. Objects
// refer to each other by id only.
type Catalogue struct {
	connectors map[uint32]*Connector
	// crtcs in resource order
	crtcs         []*Crtc
	planes        []*Plane
	overlayPlanes []*Plane

	// outputs sorted by connector id; enabled is a subset of outputs
	outputs []*Output
	enabled []*Output
}

func newCatalogue() Catalogue {
	return Catalogue{connectors: map[uint32]*Connector{}}
}

// Outputs lists all outputs ordered by connector id.
func (c *Catalogue) Outputs() []*Output {
	return append([]*Output(nil), c.outputs...)
}

// EnabledOutputs lists the outputs the compositor renders to.
func (c *Catalogue) EnabledOutputs() []*Output {
	return append([]*Output(nil), c.enabled...)
}

func (c *Catalogue) Connector(id uint32) *Connector { return c.connectors[id] }

func (c *Catalogue) Crtc(id uint32) *Crtc {
	for _, crtc := range c.crtcs {
		if crtc.id == id {
			return crtc
		}
	}
	return nil
}

func (c *Catalogue) Plane(id uint32) *Plane {
	for _, p := range c.planes {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (c *Catalogue) Planes() []*Plane { return append([]*Plane(nil), c.planes...) }
func (c *Catalogue) OverlayPlanes() []*Plane { return append([]*Plane(nil), c.overlayPlanes...) }

// Connectors lists connectors ordered by id.
func (c *Catalogue) Connectors() []*Connector {
	list := make([]*Connector, 0, len(c.connectors))
	for _, con := range c.connectors {
		list = append(list, con)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

func (c *Catalogue) Crtcs() []*Crtc { return append([]*Crtc(nil), c.crtcs...) }

// findOutput looks an output up by its connector id.
func (c *Catalogue) findOutput(connector uint32) *Output {
	for _, o := range c.outputs {
		if o.connector == connector {
			return o
		}
	}
	return nil
}

func (c *Catalogue) outputForCrtc(crtcID uint32) *Output {
	if crtc := c.Crtc(crtcID); crtc != nil && crtc.output != 0 {
		return c.findOutput(crtc.output)
	}
	return nil
}

func (c *Catalogue) isEnabled(o *Output) bool {
	return indexOf(c.enabled, o) >= 0
}

func (c *Catalogue) removeEnabled(o *Output) {
	if i := indexOf(c.enabled, o); i >= 0 {
		c.enabled = append(c.enabled[:i], c.enabled[i+1:]...)
	}
}

func (c *Catalogue) removeOutput(o *Output) {
	if i := indexOf(c.outputs, o); i >= 0 {
		c.outputs = append(c.outputs[:i], c.outputs[i+1:]...)
	}
	c.removeEnabled(o)
}

// claim marks the CRTC (and plane) as driven by o.
func (c *Catalogue) claim(o *Output) {
	if crtc := c.Crtc(o.crtc); crtc != nil {
		crtc.output = o.connector
	}
	if p := c.Plane(o.primary); p != nil {
		p.output = o.connector
	}
}

// release undoes claim.
func (c *Catalogue) release(o *Output) {
	if crtc := c.Crtc(o.crtc); crtc != nil && crtc.output == o.connector {
		crtc.output = 0
	}
	if p := c.Plane(o.primary); p != nil && p.output == o.connector {
		p.output = 0
	}
}

// freePrimaryPlane finds an unused primary plane that can scan out on crtc.
func (c *Catalogue) freePrimaryPlane(crtc *Crtc) *Plane {
	for _, p := range c.planes {
		if p.typ == PlanePrimary && p.output == 0 && crtc.compatible(p.possibleCrtcs) {
			return p
		}
	}
	return nil
}

func sortOutputs(outputs []*Output) {
	sort.Slice(outputs, func(i, j int) bool {
		return outputs[i].connector < outputs[j].connector
	})
}

func indexOf(outputs []*Output, o *Output) int {
	for i, candidate := range outputs {
		if candidate == o {
			return i
		}
	}
	return -1
}
