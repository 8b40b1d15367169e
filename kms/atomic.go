package kms

import (
	"runtime"
	"sort"
	"unsafe"
)

type atomicProperty struct {
	object   uint32
	property uint32
	value    uint64
}

// AtomicRequest collects property updates for one atomic commit.
type AtomicRequest struct {
	props []atomicProperty
}

// Add queues object.property = value. A later Add of the same pair wins.
func (r *AtomicRequest) Add(object, property uint32, value uint64) {
	for i := range r.props {
		if r.props[i].object == object && r.props[i].property == property {
			r.props[i].value = value
			return
		}
	}
	r.props = append(r.props, atomicProperty{object: object, property: property, value: value})
}

func (r *AtomicRequest) Len() int { return len(r.props) }

// Value returns the queued value of object.property.
func (r *AtomicRequest) Value(object, property uint32) (uint64, bool) {
	for _, p := range r.props {
		if p.object == object && p.property == property {
			return p.value, true
		}
	}
	return 0, false
}

// arrays lays the request out the way DRM_IOCTL_MODE_ATOMIC wants it: one
// entry per object with the property count, and the properties grouped by
// object in the same order.
func (r *AtomicRequest) arrays() (objs, counts, props []uint32, values []uint64) {
	sorted := make([]atomicProperty, len(r.props))
	copy(sorted, r.props)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].object < sorted[j].object
	})

	for i, p := range sorted {
		if i == 0 || p.object != sorted[i-1].object {
			objs = append(objs, p.object)
			counts = append(counts, 0)
		}
		counts[len(counts)-1]++
		props = append(props, p.property)
		values = append(values, p.value)
	}
	return objs, counts, props, values
}

// Atomic commits req. userData is echoed back in the flip event when
// PageFlipEvent is set.
func (c *Card) Atomic(flags uint32, req *AtomicRequest, userData uint64) error {
	if req.Len() == 0 {
		return nil
	}

	objs, counts, props, values := req.arrays()
	sys := sysAtomic{
		Flags:         flags,
		CountObjs:     uint32(len(objs)),
		ObjsPtr:       ptrOf(objs),
		CountPropsPtr: ptrOf(counts),
		PropsPtr:      ptrOf(props),
		PropValuesPtr: ptrOf(values),
		UserData:      userData,
	}
	err := c.ioctl(ioctlModeAtomic, unsafe.Pointer(&sys))
	runtime.KeepAlive(objs)
	runtime.KeepAlive(counts)
	runtime.KeepAlive(props)
	runtime.KeepAlive(values)
	if err != nil {
		return &Error{Op: "MODE_ATOMIC", Err: err}
	}
	return nil
}
