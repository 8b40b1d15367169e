package kms

import (
	"bytes"
	"fmt"
	"image"
)

const displayModeLen = 32

// ModeInfo is struct drm_mode_modeinfo.
type ModeInfo struct {
	Clock uint32

	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

	Vrefresh uint32
	Flags    uint32
	Type     uint32
	Name     [displayModeLen]byte
}

// Mode types.
const (
	ModeTypePreferred = 1 << 3
	ModeTypeUserdef   = 1 << 5
	ModeTypeDriver    = 1 << 6
)

// NewModeName fills a fixed size kernel mode name.
func NewModeName(name string) [displayModeLen]byte {
	var n [displayModeLen]byte
	copy(n[:displayModeLen-1], name)
	return n
}

func (m ModeInfo) String() string {
	name, _, _ := bytes.Cut(m.Name[:], []byte{0})
	if len(name) == 0 {
		return fmt.Sprintf("%dx%d", m.Hdisplay, m.Vdisplay)
	}
	return string(name)
}

// Size is the active area of the mode in pixels.
func (m ModeInfo) Size() image.Point {
	return image.Pt(int(m.Hdisplay), int(m.Vdisplay))
}

// RefreshRate in millihertz, derived from the timings when vrefresh is not set.
func (m ModeInfo) RefreshRate() uint32 {
	if m.Htotal == 0 || m.Vtotal == 0 {
		return m.Vrefresh * 1000
	}
	return uint32(uint64(m.Clock) * 1000 * 1000 / (uint64(m.Htotal) * uint64(m.Vtotal)))
}

// Preferred reports whether the driver marked the mode as preferred.
func (m ModeInfo) Preferred() bool {
	return m.Type&ModeTypePreferred != 0
}

// SameTimings compares the fields that survive a VT switch. Directly after a
// switch the CRTC's copy of the mode lacks vrefresh, type and name (and hskew
// and vscan read back as zero), so only clock, timings and flags are used.
func (m ModeInfo) SameTimings(o ModeInfo) bool {
	return m.Clock == o.Clock &&
		m.Hdisplay == o.Hdisplay &&
		m.HsyncStart == o.HsyncStart &&
		m.HsyncEnd == o.HsyncEnd &&
		m.Htotal == o.Htotal &&
		m.Vdisplay == o.Vdisplay &&
		m.VsyncStart == o.VsyncStart &&
		m.VsyncEnd == o.VsyncEnd &&
		m.Vtotal == o.Vtotal &&
		m.Flags == o.Flags
}
