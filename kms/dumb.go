package kms

import "unsafe"

type sysCreateDumb struct {
	Height uint32
	Width  uint32
	Bpp    uint32
	Flags  uint32
	Handle uint32
	Pitch  uint32
	Size   uint64
}

type sysFBCmd struct {
	FbID   uint32
	Width  uint32
	Height uint32
	Pitch  uint32
	Bpp    uint32
	Depth  uint32
	Handle uint32
}

type sysDestroyDumb struct {
	Handle uint32
}

var (
	ioctlModeAddFB       = iowr(0xae, unsafe.Sizeof(sysFBCmd{}))
	ioctlModeRmFB        = iowr(0xaf, unsafe.Sizeof(uint32(0)))
	ioctlModeCreateDumb  = iowr(0xb2, unsafe.Sizeof(sysCreateDumb{}))
	ioctlModeDestroyDumb = iowr(0xb4, unsafe.Sizeof(sysDestroyDumb{}))
)

// DumbBuffer is a kernel allocated XRGB8888 scanout buffer with a
// framebuffer attached. The kernel hands it out zeroed, which makes it a
// black frame without ever being mapped.
type DumbBuffer struct {
	Handle uint32
	Pitch  uint32
	Size   uint64
	Width  uint32
	Height uint32
	FbID   uint32
}

func (c *Card) CreateDumbBuffer(width, height uint32) (*DumbBuffer, error) {
	create := sysCreateDumb{Width: width, Height: height, Bpp: 32}
	if err := c.ioctl(ioctlModeCreateDumb, unsafe.Pointer(&create)); err != nil {
		return nil, &Error{Op: "MODE_CREATE_DUMB", Err: err}
	}

	fb := sysFBCmd{
		Width:  width,
		Height: height,
		Pitch:  create.Pitch,
		Bpp:    32,
		Depth:  24,
		Handle: create.Handle,
	}
	if err := c.ioctl(ioctlModeAddFB, unsafe.Pointer(&fb)); err != nil {
		destroy := sysDestroyDumb{Handle: create.Handle}
		_ = c.ioctl(ioctlModeDestroyDumb, unsafe.Pointer(&destroy))
		return nil, &Error{Op: "MODE_ADDFB", Err: err}
	}

	return &DumbBuffer{
		Handle: create.Handle,
		Pitch:  create.Pitch,
		Size:   create.Size,
		Width:  width,
		Height: height,
		FbID:   fb.FbID,
	}, nil
}

func (c *Card) DestroyDumbBuffer(b *DumbBuffer) error {
	fbID := b.FbID
	if err := c.ioctl(ioctlModeRmFB, unsafe.Pointer(&fbID)); err != nil {
		return &Error{Op: "MODE_RMFB", ID: b.FbID, Err: err}
	}
	destroy := sysDestroyDumb{Handle: b.Handle}
	if err := c.ioctl(ioctlModeDestroyDumb, unsafe.Pointer(&destroy)); err != nil {
		return &Error{Op: "MODE_DESTROY_DUMB", ID: b.Handle, Err: err}
	}
	return nil
}
