package kms

import (
	"bytes"
	"runtime"
	"unsafe"
)

// Property describes a property id: its name, flags and allowed values.
type Property struct {
	ID     uint32
	Flags  uint32
	Name   string
	Values []uint64
	Enums  []PropertyEnum
}

type PropertyEnum struct {
	Value uint64
	Name  string
}

// EnumValue looks up an enum entry by name.
func (p *Property) EnumValue(name string) (uint64, bool) {
	for _, e := range p.Enums {
		if e.Name == name {
			return e.Value, true
		}
	}
	return 0, false
}

// ObjectProperties lists property ids and current values of any mode object.
func (c *Card) ObjectProperties(id uint32, typ ObjectType) ([]uint32, []uint64, error) {
	var (
		props  []uint32
		values []uint64
	)

	for {
		req := sysObjGetProperties{
			PropsPtr:      ptrOf(props),
			PropValuesPtr: ptrOf(values),
			CountProps:    uint32(len(props)),
			ObjID:         id,
			ObjType:       uint32(typ),
		}
		err := c.ioctl(ioctlModeObjGetProperties, unsafe.Pointer(&req))
		runtime.KeepAlive(props)
		runtime.KeepAlive(values)
		if err != nil {
			return nil, nil, &Error{Op: "MODE_OBJ_GETPROPERTIES", ID: id, Err: err}
		}
		if int(req.CountProps) <= len(props) {
			return props[:req.CountProps], values[:req.CountProps], nil
		}
		props = make([]uint32, req.CountProps)
		values = make([]uint64, req.CountProps)
	}
}

func (c *Card) Property(id uint32) (*Property, error) {
	var (
		values []uint64
		enums  []sysPropertyEnum
	)

	for {
		req := sysGetProperty{
			PropID:         id,
			ValuesPtr:      ptrOf(values),
			EnumBlobPtr:    ptrOf(enums),
			CountValues:    uint32(len(values)),
			CountEnumBlobs: uint32(len(enums)),
		}
		err := c.ioctl(ioctlModeGetProperty, unsafe.Pointer(&req))
		runtime.KeepAlive(values)
		runtime.KeepAlive(enums)
		if err != nil {
			return nil, &Error{Op: "MODE_GETPROPERTY", ID: id, Err: err}
		}

		// blob properties report blob ids through count_enum_blobs, those are
		// not enum entries
		if req.Flags&PropBlob != 0 {
			req.CountEnumBlobs = 0
		}

		if int(req.CountValues) <= len(values) && int(req.CountEnumBlobs) <= len(enums) {
			p := &Property{
				ID:     req.PropID,
				Flags:  req.Flags,
				Name:   cString(req.Name[:]),
				Values: values[:req.CountValues],
			}
			for _, e := range enums[:req.CountEnumBlobs] {
				p.Enums = append(p.Enums, PropertyEnum{Value: e.Value, Name: cString(e.Name[:])})
			}
			return p, nil
		}

		values = make([]uint64, req.CountValues)
		enums = make([]sysPropertyEnum, req.CountEnumBlobs)
	}
}

// SetConnectorProperty is the legacy per-property update, used for DPMS
// outside of atomic mode.
func (c *Card) SetConnectorProperty(connectorID, propID uint32, value uint64) error {
	req := sysConnectorSetProperty{
		Value:       value,
		PropID:      propID,
		ConnectorID: connectorID,
	}
	if err := c.ioctl(ioctlModeSetProperty, unsafe.Pointer(&req)); err != nil {
		return &Error{Op: "MODE_SETPROPERTY", ID: connectorID, Err: err}
	}
	return nil
}

// Blob reads the payload of a blob property such as a connector's EDID.
func (c *Card) Blob(id uint32) ([]byte, error) {
	var data []byte

	for {
		req := sysGetBlob{
			BlobID: id,
			Length: uint32(len(data)),
			Data:   ptrOf(data),
		}
		err := c.ioctl(ioctlModeGetPropBlob, unsafe.Pointer(&req))
		runtime.KeepAlive(data)
		if err != nil {
			return nil, &Error{Op: "MODE_GETPROPBLOB", ID: id, Err: err}
		}
		if int(req.Length) <= len(data) {
			return data[:req.Length], nil
		}
		data = make([]byte, req.Length)
	}
}

// CreateModeBlob uploads a mode for use as a CRTC's MODE_ID.
func (c *Card) CreateModeBlob(mode ModeInfo) (uint32, error) {
	req := sysCreateBlob{
		Data:   uint64(uintptr(unsafe.Pointer(&mode))),
		Length: uint32(unsafe.Sizeof(mode)),
	}
	err := c.ioctl(ioctlModeCreatePropBlob, unsafe.Pointer(&req))
	runtime.KeepAlive(&mode)
	if err != nil {
		return 0, &Error{Op: "MODE_CREATEPROPBLOB", Err: err}
	}
	return req.BlobID, nil
}

func (c *Card) DestroyBlob(id uint32) error {
	req := sysDestroyBlob{BlobID: id}
	if err := c.ioctl(ioctlModeDestroyPropBlob, unsafe.Pointer(&req)); err != nil {
		return &Error{Op: "MODE_DESTROYPROPBLOB", ID: id, Err: err}
	}
	return nil
}

func cString(b []byte) string {
	s, _, _ := bytes.Cut(b, []byte{0})
	return string(s)
}
