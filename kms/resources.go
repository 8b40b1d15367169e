package kms

import (
	"fmt"
	"runtime"
	"unsafe"
)

// Resources lists the mode objects of a card.
type Resources struct {
	Fbs        []uint32
	Crtcs      []uint32
	Connectors []uint32
	Encoders   []uint32

	MinWidth, MaxWidth   uint32
	MinHeight, MaxHeight uint32
}

// Connector is the state of one connector as reported by the kernel.
type Connector struct {
	ID         uint32
	EncoderID  uint32
	Type       uint32
	TypeID     uint32
	Connection uint32

	MmWidth, MmHeight uint32
	Subpixel          uint32

	Modes    []ModeInfo
	Encoders []uint32

	Props      []uint32
	PropValues []uint64
}

// Name follows the kernel's naming, e.g. "HDMI-A-1".
func (c *Connector) Name() string {
	return ConnectorName(c.Type, c.TypeID)
}

type Encoder struct {
	ID             uint32
	Type           uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

type Crtc struct {
	ID        uint32
	FbID      uint32
	X, Y      uint32
	GammaSize uint32
	ModeValid bool
	Mode      ModeInfo
}

type Plane struct {
	ID            uint32
	CrtcID        uint32
	FbID          uint32
	PossibleCrtcs uint32
	GammaSize     uint32
	Formats       []uint32
}

// Resources runs DRM_IOCTL_MODE_GETRESOURCES, growing the id arrays until the
// kernel's counts fit (connectors can appear in between the two calls).
func (c *Card) Resources() (*Resources, error) {
	var fbs, crtcs, connectors, encoders []uint32

	for {
		req := sysCardRes{
			FbIDPtr:         ptrOf(fbs),
			CrtcIDPtr:       ptrOf(crtcs),
			ConnectorIDPtr:  ptrOf(connectors),
			EncoderIDPtr:    ptrOf(encoders),
			CountFbs:        uint32(len(fbs)),
			CountCrtcs:      uint32(len(crtcs)),
			CountConnectors: uint32(len(connectors)),
			CountEncoders:   uint32(len(encoders)),
		}
		err := c.ioctl(ioctlModeGetResources, unsafe.Pointer(&req))
		runtime.KeepAlive(fbs)
		runtime.KeepAlive(crtcs)
		runtime.KeepAlive(connectors)
		runtime.KeepAlive(encoders)
		if err != nil {
			return nil, &Error{Op: "MODE_GETRESOURCES", Err: err}
		}

		if int(req.CountFbs) <= len(fbs) && int(req.CountCrtcs) <= len(crtcs) &&
			int(req.CountConnectors) <= len(connectors) && int(req.CountEncoders) <= len(encoders) {
			return &Resources{
				Fbs:        fbs[:req.CountFbs],
				Crtcs:      crtcs[:req.CountCrtcs],
				Connectors: connectors[:req.CountConnectors],
				Encoders:   encoders[:req.CountEncoders],
				MinWidth:   req.MinWidth,
				MaxWidth:   req.MaxWidth,
				MinHeight:  req.MinHeight,
				MaxHeight:  req.MaxHeight,
			}, nil
		}

		fbs = make([]uint32, req.CountFbs)
		crtcs = make([]uint32, req.CountCrtcs)
		connectors = make([]uint32, req.CountConnectors)
		encoders = make([]uint32, req.CountEncoders)
	}
}

// Connector runs DRM_IOCTL_MODE_GETCONNECTOR. The first call is made with no
// mode storage, which makes the kernel re-detect the connector.
func (c *Card) Connector(id uint32) (*Connector, error) {
	var (
		modes      []ModeInfo
		encoders   []uint32
		props      []uint32
		propValues []uint64
	)

	for {
		req := sysGetConnector{
			ConnectorID:   id,
			ModesPtr:      ptrOf(modes),
			EncodersPtr:   ptrOf(encoders),
			PropsPtr:      ptrOf(props),
			PropValuesPtr: ptrOf(propValues),
			CountModes:    uint32(len(modes)),
			CountEncoders: uint32(len(encoders)),
			CountProps:    uint32(len(props)),
		}
		err := c.ioctl(ioctlModeGetConnector, unsafe.Pointer(&req))
		runtime.KeepAlive(modes)
		runtime.KeepAlive(encoders)
		runtime.KeepAlive(props)
		runtime.KeepAlive(propValues)
		if err != nil {
			return nil, &Error{Op: "MODE_GETCONNECTOR", ID: id, Err: err}
		}

		if int(req.CountModes) <= len(modes) && int(req.CountEncoders) <= len(encoders) &&
			int(req.CountProps) <= len(props) {
			return &Connector{
				ID:         req.ConnectorID,
				EncoderID:  req.EncoderID,
				Type:       req.ConnectorType,
				TypeID:     req.ConnectorTypeID,
				Connection: req.Connection,
				MmWidth:    req.MmWidth,
				MmHeight:   req.MmHeight,
				Subpixel:   req.Subpixel,
				Modes:      modes[:req.CountModes],
				Encoders:   encoders[:req.CountEncoders],
				Props:      props[:req.CountProps],
				PropValues: propValues[:req.CountProps],
			}, nil
		}

		modes = make([]ModeInfo, req.CountModes)
		encoders = make([]uint32, req.CountEncoders)
		props = make([]uint32, req.CountProps)
		propValues = make([]uint64, req.CountProps)
	}
}

func (c *Card) Encoder(id uint32) (*Encoder, error) {
	req := sysGetEncoder{EncoderID: id}
	if err := c.ioctl(ioctlModeGetEncoder, unsafe.Pointer(&req)); err != nil {
		return nil, &Error{Op: "MODE_GETENCODER", ID: id, Err: err}
	}
	return &Encoder{
		ID:             req.EncoderID,
		Type:           req.EncoderType,
		CrtcID:         req.CrtcID,
		PossibleCrtcs:  req.PossibleCrtcs,
		PossibleClones: req.PossibleClones,
	}, nil
}

func (c *Card) Crtc(id uint32) (*Crtc, error) {
	req := sysCrtc{CrtcID: id}
	if err := c.ioctl(ioctlModeGetCrtc, unsafe.Pointer(&req)); err != nil {
		return nil, &Error{Op: "MODE_GETCRTC", ID: id, Err: err}
	}
	return &Crtc{
		ID:        req.CrtcID,
		FbID:      req.FbID,
		X:         req.X,
		Y:         req.Y,
		GammaSize: req.GammaSize,
		ModeValid: req.ModeValid != 0,
		Mode:      req.Mode,
	}, nil
}

// SetCrtc is the legacy mode set. A nil mode together with fbID 0 disables
// the CRTC.
func (c *Card) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *ModeInfo) error {
	req := sysCrtc{
		SetConnectorsPtr: ptrOf(connectors),
		CountConnectors:  uint32(len(connectors)),
		CrtcID:           crtcID,
		FbID:             fbID,
		X:                x,
		Y:                y,
	}
	if mode != nil {
		req.Mode = *mode
		req.ModeValid = 1
	}
	err := c.ioctl(ioctlModeSetCrtc, unsafe.Pointer(&req))
	runtime.KeepAlive(connectors)
	if err != nil {
		return &Error{Op: "MODE_SETCRTC", ID: crtcID, Err: err}
	}
	return nil
}

// PageFlip queues a legacy flip of crtcID to fbID. With PageFlipEvent set the
// kernel reports completion with userData echoed back.
func (c *Card) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	req := sysPageFlip{
		CrtcID:   crtcID,
		FbID:     fbID,
		Flags:    flags,
		UserData: userData,
	}
	if err := c.ioctl(ioctlModePageFlip, unsafe.Pointer(&req)); err != nil {
		return &Error{Op: "MODE_PAGE_FLIP", ID: crtcID, Err: err}
	}
	return nil
}

// SetCursor sets the cursor buffer of a CRTC; handle 0 hides the cursor.
func (c *Card) SetCursor(crtcID, handle, width, height uint32) error {
	req := sysCursor{
		Flags:  cursorBO,
		CrtcID: crtcID,
		Width:  width,
		Height: height,
		Handle: handle,
	}
	if err := c.ioctl(ioctlModeCursor, unsafe.Pointer(&req)); err != nil {
		return &Error{Op: "MODE_CURSOR", ID: crtcID, Err: err}
	}
	return nil
}

func (c *Card) MoveCursor(crtcID uint32, x, y int32) error {
	req := sysCursor{
		Flags:  cursorMove,
		CrtcID: crtcID,
		X:      x,
		Y:      y,
	}
	if err := c.ioctl(ioctlModeCursor, unsafe.Pointer(&req)); err != nil {
		return &Error{Op: "MODE_CURSOR", ID: crtcID, Err: err}
	}
	return nil
}

// PlaneResources lists plane ids. Primary and cursor planes are only listed
// once ClientCapUniversalPlanes is enabled.
func (c *Card) PlaneResources() ([]uint32, error) {
	var planes []uint32

	for {
		req := sysGetPlaneRes{
			PlaneIDPtr:  ptrOf(planes),
			CountPlanes: uint32(len(planes)),
		}
		err := c.ioctl(ioctlModeGetPlaneResources, unsafe.Pointer(&req))
		runtime.KeepAlive(planes)
		if err != nil {
			return nil, &Error{Op: "MODE_GETPLANERESOURCES", Err: err}
		}
		if int(req.CountPlanes) <= len(planes) {
			return planes[:req.CountPlanes], nil
		}
		planes = make([]uint32, req.CountPlanes)
	}
}

func (c *Card) Plane(id uint32) (*Plane, error) {
	var formats []uint32

	for {
		req := sysGetPlane{
			PlaneID:          id,
			FormatTypePtr:    ptrOf(formats),
			CountFormatTypes: uint32(len(formats)),
		}
		err := c.ioctl(ioctlModeGetPlane, unsafe.Pointer(&req))
		runtime.KeepAlive(formats)
		if err != nil {
			return nil, &Error{Op: "MODE_GETPLANE", ID: id, Err: err}
		}
		if int(req.CountFormatTypes) <= len(formats) {
			return &Plane{
				ID:            req.PlaneID,
				CrtcID:        req.CrtcID,
				FbID:          req.FbID,
				PossibleCrtcs: req.PossibleCrtcs,
				GammaSize:     req.GammaSize,
				Formats:       formats[:req.CountFormatTypes],
			}, nil
		}
		formats = make([]uint32, req.CountFormatTypes)
	}
}

var connectorTypeNames = []string{
	"Unknown",
	"VGA",
	"DVI-I",
	"DVI-D",
	"DVI-A",
	"Composite",
	"SVIDEO",
	"LVDS",
	"Component",
	"DIN",
	"DP",
	"HDMI-A",
	"HDMI-B",
	"TV",
	"eDP",
	"Virtual",
	"DSI",
	"DPI",
	"Writeback",
	"SPI",
	"USB",
}

// ConnectorName formats a connector type and per-type index like the kernel.
func ConnectorName(typ, typeID uint32) string {
	name := "Unknown"
	if int(typ) < len(connectorTypeNames) {
		name = connectorTypeNames[typ]
	}
	return fmt.Sprintf("%s-%d", name, typeID)
}
