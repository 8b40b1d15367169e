package kms

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux ioctl request encoding, see asm-generic/ioctl.h:
//
//	_IO(type, nr)         = (type << 8) | nr
//	_IOW(type, nr, size)  = (1 << 30) | (size << 16) | (type << 8) | nr
//	_IOWR(type, nr, size) = (3 << 30) | (size << 16) | (type << 8) | nr
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	ioctlBase = 'd'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | ioctlBase<<8 | nr
}

func io(nr uintptr) uintptr { return ioc(iocNone, nr, 0) }

func iow(nr, size uintptr) uintptr { return ioc(iocWrite, nr, size) }

func iowr(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }

var (
	ioctlSetMaster  = io(0x1e)
	ioctlDropMaster = io(0x1f)

	// DRM_IOWR(0x0C, struct drm_get_cap)
	ioctlGetCap = iowr(0x0c, unsafe.Sizeof(sysCap{}))
	// DRM_IOW(0x0D, struct drm_set_client_cap)
	ioctlSetClientCap = iow(0x0d, unsafe.Sizeof(sysCap{}))

	ioctlModeGetResources      = iowr(0xa0, unsafe.Sizeof(sysCardRes{}))
	ioctlModeGetCrtc           = iowr(0xa1, unsafe.Sizeof(sysCrtc{}))
	ioctlModeSetCrtc           = iowr(0xa2, unsafe.Sizeof(sysCrtc{}))
	ioctlModeCursor            = iowr(0xa3, unsafe.Sizeof(sysCursor{}))
	ioctlModeGetEncoder        = iowr(0xa6, unsafe.Sizeof(sysGetEncoder{}))
	ioctlModeGetConnector      = iowr(0xa7, unsafe.Sizeof(sysGetConnector{}))
	ioctlModeGetProperty       = iowr(0xaa, unsafe.Sizeof(sysGetProperty{}))
	ioctlModeSetProperty       = iowr(0xab, unsafe.Sizeof(sysConnectorSetProperty{}))
	ioctlModeGetPropBlob       = iowr(0xac, unsafe.Sizeof(sysGetBlob{}))
	ioctlModePageFlip          = iowr(0xb0, unsafe.Sizeof(sysPageFlip{}))
	ioctlModeGetPlaneResources = iowr(0xb5, unsafe.Sizeof(sysGetPlaneRes{}))
	ioctlModeGetPlane          = iowr(0xb6, unsafe.Sizeof(sysGetPlane{}))
	ioctlModeObjGetProperties  = iowr(0xb9, unsafe.Sizeof(sysObjGetProperties{}))
	ioctlModeAtomic            = iowr(0xbc, unsafe.Sizeof(sysAtomic{}))
	ioctlModeCreatePropBlob    = iowr(0xbd, unsafe.Sizeof(sysCreateBlob{}))
	ioctlModeDestroyPropBlob   = iowr(0xbe, unsafe.Sizeof(sysDestroyBlob{}))
)

// ioctl retries on EINTR and EAGAIN the way libdrm's drmIoctl does.
func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
		switch {
		case errno == 0:
			return nil
		case errors.Is(errno, unix.EINTR), errors.Is(errno, unix.EAGAIN):
			continue
		default:
			return errno
		}
	}
}

// SetMaster makes the caller DRM master of fd.
func SetMaster(fd int) error {
	if err := ioctl(uintptr(fd), ioctlSetMaster, nil); err != nil {
		return &Error{Op: "SET_MASTER", Err: err}
	}
	return nil
}

// DropMaster gives up DRM master on fd.
func DropMaster(fd int) error {
	if err := ioctl(uintptr(fd), ioctlDropMaster, nil); err != nil {
		return &Error{Op: "DROP_MASTER", Err: err}
	}
	return nil
}

func ptrOf[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}
