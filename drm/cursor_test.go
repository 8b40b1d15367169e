package drm

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmsbackend/kms"
)

func TestCursorSizeFromDevice(t *testing.T) {
	card, _, _ := dualHead(false)
	rig := newRig(t, card)
	assert.Equal(t, image.Pt(256, 256), rig.b.CursorSize())

	card, _, _ = dualHead(false)
	delete(card.caps, kms.CapCursorWidth)
	delete(card.caps, kms.CapCursorHeight)
	rig = newRig(t, card)
	assert.Equal(t, image.Pt(64, 64), rig.b.CursorSize())
}

func TestHardwareCursorFollowsPointer(t *testing.T) {
	card, _, _ := dualHead(false)
	rig := newRig(t, card)
	a := rig.output(t, "HDMI-A-1")
	b := rig.output(t, "HDMI-A-2")
	require.Equal(t, image.Rect(1920, 0, 4480, 1440), b.Geometry())

	rig.b.SetCursorImage(9, image.Pt(2, 3))
	rig.b.MoveCursor(image.Pt(2000, 100))

	assert.Equal(t, uint32(9), card.cursors[a.CrtcID()])
	assert.Equal(t, image.Pt(1998, 97), card.cursorPos[a.CrtcID()])
	assert.Equal(t, image.Pt(78, 97), card.cursorPos[b.CrtcID()])
	assert.False(t, rig.b.UsesSoftwareCursor())

	rig.b.HideCursor()
	assert.False(t, card.cursorVisible(a.CrtcID()))
	assert.False(t, card.cursorVisible(b.CrtcID()))

	// hidden cursors do not move
	rig.b.MoveCursor(image.Pt(10, 10))
	assert.Equal(t, image.Pt(1998, 97), card.cursorPos[a.CrtcID()])

	rig.b.ShowCursor()
	assert.True(t, card.cursorVisible(a.CrtcID()))
	assert.Equal(t, image.Pt(8, 7), card.cursorPos[a.CrtcID()])

	rig.b.SetCursorImage(0, image.Point{})
	assert.False(t, card.cursorVisible(a.CrtcID()))
}

func TestCursorFallsBackToSoftware(t *testing.T) {
	card, _, _ := dualHead(false)
	card.failCursor = true
	rig := newRig(t, card)
	rig.comp.take()

	rig.b.SetCursorImage(9, image.Pt(0, 0))

	assert.True(t, rig.b.UsesSoftwareCursor())
	assert.Equal(t, []string{"software-cursor true"}, rig.comp.take())

	// sticky, and the hardware is left alone from now on
	card.failCursor = false
	rig.b.ShowCursor()
	rig.b.MoveCursor(image.Pt(100, 100))
	rig.b.SetCursorImage(10, image.Pt(0, 0))
	rig.b.SetPointerPresent(true)

	assert.True(t, rig.b.UsesSoftwareCursor())
	assert.Empty(t, card.cursorPos)
	for _, o := range rig.b.Outputs() {
		assert.False(t, card.cursorVisible(o.CrtcID()))
	}
	assert.Empty(t, rig.comp.take())
}

func TestCursorFallbackHidesWorkingCursors(t *testing.T) {
	card, _, _ := dualHead(false)
	rig := newRig(t, card)
	rig.b.SetCursorImage(9, image.Pt(0, 0))
	rig.comp.take()

	// a third monitor whose CRTC cannot show the cursor
	card.addCrtc()
	hdmi3 := card.addConnector(typeHDMI, 3, 0b100, mode720)
	card.failCursor = true
	rig.b.Reconcile()

	require.NotNil(t, rig.b.Catalogue().Connector(hdmi3))
	assert.True(t, rig.b.UsesSoftwareCursor())
	for _, o := range rig.b.Outputs() {
		assert.False(t, o.CursorVisible(), o.Name())
	}
	assert.Equal(t, []string{"software-cursor true", "added HDMI-A-3", "queried"}, rig.comp.take())
}

func TestPointerPresence(t *testing.T) {
	card, _, _ := dualHead(false)
	rig := newRig(t, card)
	rig.b.SetCursorImage(9, image.Pt(0, 0))

	rig.b.SetPointerPresent(false)
	for _, o := range rig.b.Outputs() {
		assert.False(t, card.cursorVisible(o.CrtcID()))
	}

	// without a pointer, image changes keep the cursor off
	rig.b.SetCursorImage(11, image.Pt(0, 0))
	for _, o := range rig.b.Outputs() {
		assert.False(t, card.cursorVisible(o.CrtcID()))
	}

	rig.b.SetPointerPresent(true)
	for _, o := range rig.b.Outputs() {
		assert.Equal(t, uint32(11), card.cursors[o.CrtcID()])
	}
}

func TestNewOutputGetsCursor(t *testing.T) {
	card, _, hdmi2 := dualHead(false)
	card.setConnected(hdmi2, false)
	rig := newRig(t, card)
	rig.b.SetCursorImage(9, image.Pt(0, 0))

	card.setConnected(hdmi2, true)
	rig.b.Reconcile()

	o := rig.output(t, "HDMI-A-2")
	assert.True(t, o.CursorVisible())
	assert.Equal(t, uint32(9), card.cursors[o.CrtcID()])
}
