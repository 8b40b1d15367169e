package kms

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Card is an open DRM device node.
//
// The descriptor is kept non-blocking so that reading completion events parks
// the reading goroutine in the runtime poller and Close wakes it up.
type Card struct {
	file *os.File
	fd   uintptr
}

// Open opens a DRM node such as /dev/dri/card0.
func Open(path string) (*Card, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewCard(fd, path)
}

// NewCard wraps a descriptor that was handed over by someone else, for
// instance by logind's TakeDevice. The Card takes ownership of fd.
func NewCard(fd int, name string) (*Card, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblock on %s: %w", name, err)
	}
	return &Card{
		file: os.NewFile(uintptr(fd), name),
		fd:   uintptr(fd),
	}, nil
}

// Name is the path or label the card was opened with.
func (c *Card) Name() string { return c.file.Name() }

// Close closes the device; a pending ReadEvents returns os.ErrClosed.
func (c *Card) Close() error { return c.file.Close() }

func (c *Card) ioctl(req uintptr, arg unsafe.Pointer) error {
	err := ioctl(c.fd, req, arg)
	runtime.KeepAlive(c.file)
	return err
}

// Cap queries a device capability (DRM_CAP_*).
func (c *Card) Cap(capability uint64) (uint64, error) {
	req := sysCap{Capability: capability}
	if err := c.ioctl(ioctlGetCap, unsafe.Pointer(&req)); err != nil {
		return 0, &Error{Op: "GET_CAP", ID: uint32(capability), Err: err}
	}
	return req.Value, nil
}

// SetClientCap enables a client capability (DRM_CLIENT_CAP_*).
func (c *Card) SetClientCap(capability, value uint64) error {
	req := sysCap{Capability: capability, Value: value}
	if err := c.ioctl(ioctlSetClientCap, unsafe.Pointer(&req)); err != nil {
		return &Error{Op: "SET_CLIENT_CAP", ID: uint32(capability), Err: err}
	}
	return nil
}

// ReadEvents blocks until the kernel has completion events queued and returns
// all of them.
func (c *Card) ReadEvents() ([]Event, error) {
	buf := make([]byte, 1024)
	n, err := c.file.Read(buf)
	if err != nil {
		return nil, err
	}
	return DecodeEvents(buf[:n])
}
