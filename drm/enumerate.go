package drm

import (
	"errors"
	"fmt"

	"kmsbackend/kms"
)

// negotiateAtomic enables atomic mode setting and builds the plane list.
// Any failure leaves the device in legacy mode without planes.
func (b *Backend) negotiateAtomic() bool {
	if b.opts.NoAtomic {
		b.log.Info.Println("atomic mode setting disabled by environment")
		return false
	}

	// implies universal planes
	if err := b.card.SetClientCap(kms.ClientCapAtomic, 1); err != nil {
		b.log.Info.Printf("enabling atomic mode setting failed, using legacy mode: %v", err)
		return false
	}

	if err := b.enumeratePlanes(); err != nil {
		b.log.Info.Printf("%v, falling back to legacy mode", err)
		b.dropAtomic()
		return false
	}

	b.log.Debug.Println("using atomic mode setting")
	return true
}

// dropAtomic forgets planes and tells the kernel we stopped using atomic.
func (b *Backend) dropAtomic() {
	b.cat.planes = nil
	b.cat.overlayPlanes = nil
	if err := b.card.SetClientCap(kms.ClientCapAtomic, 0); err != nil {
		b.log.Debug.Printf("clearing atomic client cap: %v", err)
	}
}

func (b *Backend) enumeratePlanes() error {
	ids, err := b.card.PlaneResources()
	if err != nil {
		return fmt.Errorf("get plane resources: %w", err)
	}

	var planes, overlays []*Plane
	for _, id := range ids {
		k, err := b.card.Plane(id)
		if err != nil {
			return fmt.Errorf("get plane %d: %w", id, err)
		}

		p := &Plane{
			object:        newObject(id, kms.ObjectPlane),
			possibleCrtcs: k.PossibleCrtcs,
		}
		if err := p.initProperties(b.card, planeProperties, planeProperties); err != nil {
			return err
		}
		p.typ = PlaneType(p.propValue("type"))

		planes = append(planes, p)
		if p.typ == PlaneOverlay {
			overlays = append(overlays, p)
		}
	}

	if len(planes) == 0 {
		return errors.New("no usable planes")
	}

	b.log.Debug.Printf("number of planes: %d", len(planes))
	b.cat.planes = planes
	b.cat.overlayPlanes = overlays
	return nil
}

// enumerate syncs connectors and CRTCs with the device and queries every
// connector. With atomic set, objects lacking the properties atomic commits
// need are left out; the number of those is returned.
func (b *Backend) enumerate(atomic bool) (int, error) {
	res, err := b.card.Resources()
	if err != nil {
		return 0, fmt.Errorf("get resources: %w", err)
	}

	rejected := 0

	seen := map[uint32]bool{}
	for _, id := range res.Connectors {
		seen[id] = true

		con, known := b.cat.connectors[id]
		if !known {
			con = &Connector{object: newObject(id, kms.ObjectConnector)}
			if err := b.initObject(&con.object, connectorProperties, []string{"CRTC_ID"}, atomic); err != nil {
				b.log.Info.Printf("rejecting connector %d: %v", id, err)
				rejected++
				continue
			}
			b.cat.connectors[id] = con
		}

		k, err := b.card.Connector(id)
		if err != nil {
			b.log.Info.Printf("reading connector %d: %v", id, err)
			con.connected = false
			continue
		}
		con.update(b.card, k)
	}

	for id := range b.cat.connectors {
		if !seen[id] {
			delete(b.cat.connectors, id)
		}
	}

	for i, id := range res.Crtcs {
		if b.cat.Crtc(id) != nil {
			continue
		}
		crtc := &Crtc{object: newObject(id, kms.ObjectCrtc), index: i}
		if err := b.initObject(&crtc.object, crtcProperties, crtcProperties, atomic); err != nil {
			b.log.Info.Printf("rejecting CRTC %d: %v", id, err)
			rejected++
			continue
		}
		b.cat.crtcs = append(b.cat.crtcs, crtc)
	}

	return rejected, nil
}

// initObject fetches the property table. Only atomic mode needs it to be
// complete; in legacy mode the properties that exist are kept and errors
// are ignored.
func (b *Backend) initObject(o *object, names, required []string, atomic bool) error {
	if atomic {
		return o.initProperties(b.card, names, required)
	}
	if err := o.initProperties(b.card, names, nil); err != nil {
		b.log.Debug.Printf("properties of %s %d: %v", o.kind, o.id, err)
	}
	return nil
}
