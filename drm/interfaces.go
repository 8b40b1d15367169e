package drm

import (
	"image"

	"kmsbackend/kms"
)

// Card is the subset of *kms.Card the backend drives.
type Card interface {
	Close() error
	Cap(capability uint64) (uint64, error)
	SetClientCap(capability, value uint64) error
	ReadEvents() ([]kms.Event, error)

	Resources() (*kms.Resources, error)
	Connector(id uint32) (*kms.Connector, error)
	Encoder(id uint32) (*kms.Encoder, error)
	Crtc(id uint32) (*kms.Crtc, error)
	PlaneResources() ([]uint32, error)
	Plane(id uint32) (*kms.Plane, error)

	ObjectProperties(id uint32, typ kms.ObjectType) ([]uint32, []uint64, error)
	Property(id uint32) (*kms.Property, error)
	Blob(id uint32) ([]byte, error)
	CreateModeBlob(mode kms.ModeInfo) (uint32, error)
	DestroyBlob(id uint32) error

	CreateDumbBuffer(width, height uint32) (*kms.DumbBuffer, error)
	DestroyDumbBuffer(b *kms.DumbBuffer) error

	SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *kms.ModeInfo) error
	PageFlip(crtcID, fbID, flags uint32, userData uint64) error
	Atomic(flags uint32, req *kms.AtomicRequest, userData uint64) error
	SetConnectorProperty(connectorID, propID uint32, value uint64) error
	SetCursor(crtcID, handle, width, height uint32) error
	MoveCursor(crtcID uint32, x, y int32) error
}

// Buffer is a scanout buffer produced by the compositor's allocator.
type Buffer interface {
	FramebufferID() uint32
	Size() image.Point
	// Release gives the buffer back to its allocator.
	Release()
}

// Compositor receives the backend's notifications. All calls happen on the
// goroutine running Backend.Run.
type Compositor interface {
	OutputAdded(o *Output)
	OutputRemoved(o *Output)
	// OutputsQueried fires once per reconciliation that ends with outputs,
	// after all added/removed notifications.
	OutputsQueried()
	SwapAboutToBegin()
	SwapComplete()
	RepaintFull()
	OutputsEnabledChanged(enabled bool)
	SoftwareCursorChanged(enabled bool)
}

// DeviceAcquirer hands out descriptors for device nodes, e.g. through logind.
type DeviceAcquirer interface {
	Acquire(path string) (int, error)
	Release(fd int) error
}

// GeometryStore persists output rectangles under a setup key.
type GeometryStore interface {
	Geometry(key, output string) (image.Rectangle, bool)
	SetGeometry(key, output string, r image.Rectangle)
	Flush() error
}
