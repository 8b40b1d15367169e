// Package udev finds the primary GPU in sysfs and listens to the kernel's
// device events.
package udev

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strconv"
)

// Event is a kernel uevent, e.g. the change event a DRM device sends when a
// connector was plugged in.
type Event struct {
	Action    string
	DevPath   string
	Subsystem string
	DevName   string
	// SysNum is the trailing number of the device name, -1 if there is none.
	SysNum     int
	Properties map[string]string
}

func (e Event) Property(name string) string {
	return e.Properties[name]
}

// Hotplug reports whether the event announces a changed connector state.
func (e Event) Hotplug() bool {
	return e.Property("HOTPLUG") == "1"
}

var errNotKernelEvent = errors.New("not a kernel uevent")

// ParseUevent decodes a message of the kernel's uevent netlink group:
// "action@devpath" followed by KEY=VALUE pairs, all NUL terminated.
func ParseUevent(msg []byte) (Event, error) {
	fields := bytes.Split(bytes.TrimRight(msg, "\x00"), []byte{0})

	action, devpath, found := bytes.Cut(fields[0], []byte("@"))
	if !found {
		return Event{}, errNotKernelEvent
	}

	ev := Event{
		Action:     string(action),
		DevPath:    string(devpath),
		Properties: map[string]string{},
	}

	for _, field := range fields[1:] {
		key, value, ok := bytes.Cut(field, []byte("="))
		if !ok {
			return Event{}, fmt.Errorf("malformed uevent field %q", field)
		}
		ev.Properties[string(key)] = string(value)
	}

	if v, ok := ev.Properties["ACTION"]; ok {
		ev.Action = v
	}
	if v, ok := ev.Properties["DEVPATH"]; ok {
		ev.DevPath = v
	}
	ev.Subsystem = ev.Properties["SUBSYSTEM"]
	ev.DevName = ev.Properties["DEVNAME"]
	ev.SysNum = SysNum(path.Base(ev.DevPath))

	return ev, nil
}

// SysNum extracts the trailing number of a device name, "card1" gives 1.
func SysNum(name string) int {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return -1
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return -1
	}
	return n
}
