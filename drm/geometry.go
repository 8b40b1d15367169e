package drm

import "image"

func (b *Backend) configurationKey() string {
	uuids := make([]string, 0, len(b.cat.outputs))
	for _, o := range b.cat.outputs {
		uuids = append(uuids, o.uuid)
	}
	return ConfigurationKey(uuids)
}

// readOutputsConfiguration applies stored geometry. Outputs without an
// entry are placed left to right.
func (b *Backend) readOutputsConfiguration() {
	if len(b.cat.outputs) == 0 {
		return
	}
	key := b.configurationKey()

	x := 0
	for _, o := range b.cat.outputs {
		b.log.Debug.Printf("reading output configuration for [%s] [%s]", key, o.uuid)

		geo := image.Rectangle{Min: image.Pt(x, 0), Max: image.Pt(x, 0).Add(o.mode.Size())}
		if b.store != nil {
			if stored, ok := b.store.Geometry(key, o.uuid); ok {
				geo = stored
			}
		}
		o.forceGeometry(geo)

		x += geo.Dx()
	}
}

// WriteOutputsConfiguration stores the geometry of every output under the
// key of the current set of outputs.
func (b *Backend) WriteOutputsConfiguration() error {
	if len(b.cat.outputs) == 0 || b.store == nil {
		return nil
	}
	key := b.configurationKey()

	for _, o := range b.cat.outputs {
		b.log.Debug.Printf("writing output configuration for [%s] [%s]", key, o.uuid)
		b.store.SetGeometry(key, o.uuid, o.geometry)
	}

	return b.store.Flush()
}

// SetOutputGeometry moves o in the global compositor space. The change is
// persisted by the next WriteOutputsConfiguration.
func (b *Backend) SetOutputGeometry(o *Output, r image.Rectangle) {
	o.forceGeometry(r)
	b.moveCursor()
}
