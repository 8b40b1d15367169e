package kms

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModeInfo(t *testing.T) {
	m := ModeInfo{
		Clock:    148500,
		Hdisplay: 1920, HsyncStart: 2008, HsyncEnd: 2052, Htotal: 2200,
		Vdisplay: 1080, VsyncStart: 1084, VsyncEnd: 1089, Vtotal: 1125,
		Vrefresh: 60,
		Type:     ModeTypeDriver | ModeTypePreferred,
		Name:     NewModeName("1920x1080"),
	}

	assert.Equal(t, image.Pt(1920, 1080), m.Size())
	assert.Equal(t, uint32(60000), m.RefreshRate())
	assert.True(t, m.Preferred())
	assert.Equal(t, "1920x1080", m.String())

	// the copy a CRTC reports right after a VT switch
	stripped := m
	stripped.Vrefresh = 0
	stripped.Type = 0
	stripped.Name = [displayModeLen]byte{}
	assert.True(t, m.SameTimings(stripped))
	assert.Equal(t, "1920x1080", stripped.String())
	assert.False(t, stripped.Preferred())

	other := m
	other.Clock = 138500
	assert.False(t, m.SameTimings(other))

	assert.Equal(t, uint32(75000), ModeInfo{Vrefresh: 75}.RefreshRate())
}

func TestConnectorName(t *testing.T) {
	assert.Equal(t, "HDMI-A-1", ConnectorName(11, 1))
	assert.Equal(t, "eDP-1", ConnectorName(14, 1))
	assert.Equal(t, "DP-3", ConnectorName(10, 3))
	assert.Equal(t, "Unknown-2", ConnectorName(99, 2))
}
