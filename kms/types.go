package kms

import "fmt"

// Kernel structures from include/uapi/drm/drm_mode.h. Field order and sizes
// must match the kernel exactly.

type sysCap struct {
	Capability uint64
	Value      uint64
}

type sysCardRes struct {
	FbIDPtr         uint64
	CrtcIDPtr       uint64
	ConnectorIDPtr  uint64
	EncoderIDPtr    uint64
	CountFbs        uint32
	CountCrtcs      uint32
	CountConnectors uint32
	CountEncoders   uint32
	MinWidth        uint32
	MaxWidth        uint32
	MinHeight       uint32
	MaxHeight       uint32
}

type sysGetConnector struct {
	EncodersPtr     uint64
	ModesPtr        uint64
	PropsPtr        uint64
	PropValuesPtr   uint64
	CountModes      uint32
	CountProps      uint32
	CountEncoders   uint32
	EncoderID       uint32
	ConnectorID     uint32
	ConnectorType   uint32
	ConnectorTypeID uint32
	Connection      uint32
	MmWidth         uint32
	MmHeight        uint32
	Subpixel        uint32
	Pad             uint32
}

type sysGetEncoder struct {
	EncoderID      uint32
	EncoderType    uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

type sysCrtc struct {
	SetConnectorsPtr uint64
	CountConnectors  uint32
	CrtcID           uint32
	FbID             uint32
	X                uint32
	Y                uint32
	GammaSize        uint32
	ModeValid        uint32
	Mode             ModeInfo
}

type sysCursor struct {
	Flags  uint32
	CrtcID uint32
	X      int32
	Y      int32
	Width  uint32
	Height uint32
	Handle uint32
}

type sysPageFlip struct {
	CrtcID   uint32
	FbID     uint32
	Flags    uint32
	Reserved uint32
	UserData uint64
}

type sysGetPlaneRes struct {
	PlaneIDPtr  uint64
	CountPlanes uint32
}

type sysGetPlane struct {
	PlaneID          uint32
	CrtcID           uint32
	FbID             uint32
	PossibleCrtcs    uint32
	GammaSize        uint32
	CountFormatTypes uint32
	FormatTypePtr    uint64
}

type sysGetProperty struct {
	ValuesPtr      uint64
	EnumBlobPtr    uint64
	PropID         uint32
	Flags          uint32
	Name           [propNameLen]byte
	CountValues    uint32
	CountEnumBlobs uint32
}

type sysPropertyEnum struct {
	Value uint64
	Name  [propNameLen]byte
}

type sysConnectorSetProperty struct {
	Value       uint64
	PropID      uint32
	ConnectorID uint32
}

type sysObjGetProperties struct {
	PropsPtr      uint64
	PropValuesPtr uint64
	CountProps    uint32
	ObjID         uint32
	ObjType       uint32
}

type sysGetBlob struct {
	BlobID uint32
	Length uint32
	Data   uint64
}

type sysCreateBlob struct {
	Data   uint64
	Length uint32
	BlobID uint32
}

type sysDestroyBlob struct {
	BlobID uint32
}

type sysAtomic struct {
	Flags         uint32
	CountObjs     uint32
	ObjsPtr       uint64
	CountPropsPtr uint64
	PropsPtr      uint64
	PropValuesPtr uint64
	Reserved      uint64
	UserData      uint64
}

const propNameLen = 32

// Client capabilities.
const (
	ClientCapStereo3D        = 1
	ClientCapUniversalPlanes = 2
	ClientCapAtomic          = 3
)

// Device capabilities.
const (
	CapDumbBuffer         = 0x1
	CapTimestampMonotonic = 0x6
	CapAsyncPageFlip      = 0x7
	CapCursorWidth        = 0x8
	CapCursorHeight       = 0x9
)

// ObjectType is the DRM_MODE_OBJECT_* tag of a mode object.
type ObjectType uint32

const (
	ObjectCrtc      ObjectType = 0xcccccccc
	ObjectConnector ObjectType = 0xc0c0c0c0
	ObjectEncoder   ObjectType = 0xe0e0e0e0
	ObjectProperty  ObjectType = 0xb0b0b0b0
	ObjectFB        ObjectType = 0xfbfbfbfb
	ObjectBlob      ObjectType = 0xbbbbbbbb
	ObjectPlane     ObjectType = 0xeeeeeeee
)

func (t ObjectType) String() string {
	switch t {
	case ObjectCrtc:
		return "crtc"
	case ObjectConnector:
		return "connector"
	case ObjectEncoder:
		return "encoder"
	case ObjectPlane:
		return "plane"
	default:
		return fmt.Sprintf("object(%#x)", uint32(t))
	}
}

// Page flip and atomic commit flags.
const (
	PageFlipEvent      = 0x01
	PageFlipAsync      = 0x02
	AtomicTestOnly     = 0x0100
	AtomicNonblock     = 0x0200
	AtomicAllowModeset = 0x0400
)

const (
	cursorBO   = 0x01
	cursorMove = 0x02
)

// Connection states reported for a connector.
const (
	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3
)

// Property flags.
const (
	PropRange     = 1 << 1
	PropImmutable = 1 << 2
	PropEnum      = 1 << 3
	PropBlob      = 1 << 4
	PropBitmask   = 1 << 5
	PropAtomic    = 0x80000000
)

// Error reports a failed ioctl together with the object it addressed.
type Error struct {
	Op  string
	ID  uint32
	Err error
}

func (e *Error) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s(%d): %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
