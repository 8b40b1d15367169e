package drm

import (
	"image"
	"time"

	"github.com/function61/gokit/log/logex"

	"kmsbackend/kms"
)

// DpmsMode values match DRM_MODE_DPMS_*.
type DpmsMode int

const (
	DpmsOn      DpmsMode = 0
	DpmsStandby DpmsMode = 1
	DpmsSuspend DpmsMode = 2
	DpmsOff     DpmsMode = 3
)

func (m DpmsMode) String() string {
	switch m {
	case DpmsOn:
		return "on"
	case DpmsStandby:
		return "standby"
	case DpmsSuspend:
		return "suspend"
	case DpmsOff:
		return "off"
	default:
		return "unknown"
	}
}

// Output is one logical display: a connected connector driven by a CRTC.
// Connector, CRTC and planes are referenced by id and resolved through the
// catalogue.
type Output struct {
	connector uint32
	crtc      uint32
	// primary plane, atomic mode only
	primary uint32

	name      string
	uuid      string
	monitor   string
	physical  image.Point
	mode      kms.ModeInfo
	modes     []kms.ModeInfo
	geometry  image.Rectangle
	dpms      DpmsMode
	gammaSize int

	cursorVisible bool

	// modeBlob is the MODE_ID blob of the last atomic mode set
	modeBlob         uint32
	modesetRequested bool

	current Buffer
	pending Buffer

	lastPresented time.Duration
	sequence      uint32
	frames        uint64

	log *logex.Leveled
}

func newOutput(con *Connector, crtc *Crtc, mode kms.ModeInfo, gammaSize uint32, log *logex.Leveled) *Output {
	return &Output{
		connector: con.id,
		crtc:      crtc.id,
		name:      con.name,
		uuid:      outputUUID(con.name, con.identity),
		monitor:   con.identity,
		physical:  con.physical,
		mode:      mode,
		modes:     con.modes,
		geometry:  image.Rectangle{Max: mode.Size()},
		dpms:      DpmsOn,
		gammaSize: int(gammaSize),
		log:       log,
	}
}

// ID is the connector id; unique among outputs.
func (o *Output) ID() uint32 { return o.connector }

func (o *Output) ConnectorID() uint32 { return o.connector }
func (o *Output) CrtcID() uint32 { return o.crtc }
func (o *Output) Name() string { return o.name }

// UUID identifies the output in persisted configuration.
func (o *Output) UUID() string { return o.uuid }

// Monitor is the EDID based identity, empty if the monitor has no EDID.
func (o *Output) Monitor() string { return o.monitor }

func (o *Output) Mode() kms.ModeInfo { return o.mode }
func (o *Output) Modes() []kms.ModeInfo { return o.modes }
func (o *Output) PhysicalSize() image.Point { return o.physical }
func (o *Output) Geometry() image.Rectangle { return o.geometry }
func (o *Output) Dpms() DpmsMode { return o.dpms }
func (o *Output) DpmsOn() bool { return o.dpms == DpmsOn }
func (o *Output) GammaRampSize() int { return o.gammaSize }
func (o *Output) CursorVisible() bool { return o.cursorVisible }

// PageFlipPending reports whether a presented buffer still waits for its
// completion event.
func (o *Output) PageFlipPending() bool { return o.pending != nil }

// LastPresented is the vblank timestamp of the last completed flip.
func (o *Output) LastPresented() time.Duration { return o.lastPresented }

// Sequence is the vblank counter of the last completed flip.
func (o *Output) Sequence() uint32 { return o.sequence }

// Frames counts completed flips.
func (o *Output) Frames() uint64 { return o.frames }

// forceGeometry sets the position and size in the global compositor space.
func (o *Output) forceGeometry(r image.Rectangle) {
	o.geometry = r
}

// pageFlipped retires the pending buffer. The buffer it replaces on screen
// is released if the backend owns buffers.
func (o *Output) pageFlipped(c Completion, release bool) {
	o.lastPresented = c.Timestamp
	o.sequence = c.Sequence
	o.frames++
	o.retirePending(release)
}

// retirePending makes the pending buffer the current one. Also used for
// flips whose completion will not be waited for.
func (o *Output) retirePending(release bool) {
	if o.pending == nil {
		return
	}
	if release && o.current != nil && o.current != o.pending {
		o.current.Release()
	}
	o.current = o.pending
	o.pending = nil
}

// dropBuffers forgets the buffers of a torn down output.
func (o *Output) dropBuffers(release bool) {
	if release {
		if o.pending != nil {
			o.pending.Release()
		}
		if o.current != nil && o.current != o.pending {
			o.current.Release()
		}
	}
	o.pending = nil
	o.current = nil
}

func (o *Output) showCursor(card Card, handle uint32, size image.Point) bool {
	if err := card.SetCursor(o.crtc, handle, uint32(size.X), uint32(size.Y)); err != nil {
		o.log.Debug.Printf("showCursor %s: %v", o.name, err)
		return false
	}
	o.cursorVisible = true
	return true
}

func (o *Output) hideCursor(card Card) {
	if err := card.SetCursor(o.crtc, 0, 0, 0); err != nil {
		o.log.Debug.Printf("hideCursor %s: %v", o.name, err)
		return
	}
	o.cursorVisible = false
}

// moveCursor places the cursor hotspot at pos, given in global coordinates.
func (o *Output) moveCursor(card Card, pos, hotspot image.Point) {
	p := pos.Sub(o.geometry.Min).Sub(hotspot)
	if err := card.MoveCursor(o.crtc, int32(p.X), int32(p.Y)); err != nil {
		o.log.Debug.Printf("moveCursor %s: %v", o.name, err)
	}
}
