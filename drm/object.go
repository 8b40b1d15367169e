package drm

import (
	"fmt"
	"image"

	"kmsbackend/kms"
)

type property struct {
	id    uint32
	value uint64
	enums []kms.PropertyEnum
}

// object is the common part of connectors, CRTCs and planes: an id and the
// properties the backend cares about, fetched once.
type object struct {
	id    uint32
	kind  kms.ObjectType
	props map[string]*property
}

func newObject(id uint32, kind kms.ObjectType) object {
	return object{id: id, kind: kind, props: map[string]*property{}}
}

func (o *object) ID() uint32 { return o.id }

// initProperties fetches the object's property table and keeps the entries
// listed in names. Every name in required must be present.
func (o *object) initProperties(card Card, names []string, required []string) error {
	ids, values, err := card.ObjectProperties(o.id, o.kind)
	if err != nil {
		return err
	}

	wanted := map[string]bool{}
	for _, name := range names {
		wanted[name] = true
	}

	props := map[string]*property{}
	for i, pid := range ids {
		p, err := card.Property(pid)
		if err != nil {
			continue
		}
		if !wanted[p.Name] {
			continue
		}
		props[p.Name] = &property{id: pid, value: values[i], enums: p.Enums}
	}

	for _, name := range required {
		if _, ok := props[name]; !ok {
			return fmt.Errorf("%s %d lacks property %s", o.kind, o.id, name)
		}
	}

	o.props = props
	return nil
}

func (o *object) prop(name string) (*property, bool) {
	p, ok := o.props[name]
	return p, ok
}

func (o *object) propValue(name string) uint64 {
	if p, ok := o.props[name]; ok {
		return p.value
	}
	return 0
}

// setAtomic queues name = value on req and reports whether the object has
// the property at all.
func (o *object) setAtomic(req *kms.AtomicRequest, name string, value uint64) bool {
	p, ok := o.props[name]
	if !ok {
		return false
	}
	req.Add(o.id, p.id, value)
	return true
}

var (
	connectorProperties = []string{"CRTC_ID", "DPMS", "EDID"}
	crtcProperties      = []string{"MODE_ID", "ACTIVE"}
	planeProperties     = []string{
		"type", "FB_ID", "CRTC_ID",
		"SRC_X", "SRC_Y", "SRC_W", "SRC_H",
		"CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H",
	}
)

type Connector struct {
	object

	name       string
	connected  bool
	encoders   []uint32
	modes      []kms.ModeInfo
	physical   image.Point
	identity   string
	edidPropID uint32
}

func (c *Connector) Name() string { return c.name }
func (c *Connector) Connected() bool { return c.connected }
func (c *Connector) Modes() []kms.ModeInfo { return c.modes }
func (c *Connector) Encoders() []uint32 { return c.encoders }
func (c *Connector) PhysicalSize() image.Point { return c.physical }

// update refreshes the connector from a fresh GETCONNECTOR, which also
// queries it.
func (c *Connector) update(card Card, k *kms.Connector) {
	c.name = k.Name()
	c.connected = k.Connection == kms.Connected
	c.encoders = k.Encoders
	c.modes = k.Modes
	c.physical = image.Pt(int(k.MmWidth), int(k.MmHeight))

	if p, ok := c.prop("EDID"); ok {
		c.edidPropID = p.id
	}

	c.identity = ""
	if c.edidPropID == 0 {
		return
	}
	for i, pid := range k.Props {
		if pid != c.edidPropID || k.PropValues[i] == 0 {
			continue
		}
		if blob, err := card.Blob(uint32(k.PropValues[i])); err == nil {
			c.identity = MonitorIdentity(blob)
		}
	}
}

type Crtc struct {
	object

	// index is the CRTC's position in the resources, the bit used by
	// encoders' possible_crtcs masks
	index int
	// output is the connector id of the driving output, 0 when free
	output uint32
	blank  *kms.DumbBuffer
}

func (c *Crtc) Index() int { return c.index }

func (c *Crtc) compatible(possible uint32) bool {
	return possible&(1<<uint(c.index)) != 0
}

type PlaneType int

// Values of the "type" plane property.
const (
	PlaneOverlay PlaneType = 0
	PlanePrimary PlaneType = 1
	PlaneCursor  PlaneType = 2
)

func (t PlaneType) String() string {
	switch t {
	case PlaneOverlay:
		return "overlay"
	case PlanePrimary:
		return "primary"
	case PlaneCursor:
		return "cursor"
	default:
		return fmt.Sprintf("PlaneType(%d)", int(t))
	}
}

type Plane struct {
	object

	typ           PlaneType
	possibleCrtcs uint32
	// output is the connector id of the output using the plane, 0 when free
	output uint32
}

func (p *Plane) Type() PlaneType { return p.typ }
