package drm

import (
	"image"

	"kmsbackend/kms"
)

type cursorState struct {
	// enabled follows whether the seat has a pointer
	enabled bool
	// software is sticky: once a hardware cursor failed the compositor
	// draws the cursor for the rest of the backend's life
	software bool
	hidden   bool

	handle  uint32
	hotspot image.Point
	pos     image.Point
}

func (b *Backend) initCursor() {
	b.cursorSize = image.Pt(b.opts.CursorSize, b.opts.CursorSize)
	if w, err := b.card.Cap(kms.CapCursorWidth); err == nil {
		b.cursorSize.X = int(w)
	}
	if h, err := b.card.Cap(kms.CapCursorHeight); err == nil {
		b.cursorSize.Y = int(h)
	}
	b.log.Debug.Printf("cursor size %dx%d", b.cursorSize.X, b.cursorSize.Y)
}

// CursorSize is the size cursor buffers handed to SetCursorImage must have.
func (b *Backend) CursorSize() image.Point { return b.cursorSize }

// UsesSoftwareCursor reports whether the compositor has to draw the cursor.
func (b *Backend) UsesSoftwareCursor() bool { return b.cursor.software }

// SetCursorImage switches to the cursor buffer with the given GEM handle;
// handle 0 means there is no cursor image.
func (b *Backend) SetCursorImage(handle uint32, hotspot image.Point) {
	b.cursor.handle = handle
	b.cursor.hotspot = hotspot
	b.updateCursor()
}

func (b *Backend) ShowCursor() {
	b.cursor.hidden = false
	b.updateCursor()
}

func (b *Backend) HideCursor() {
	b.cursor.hidden = true
	b.doHideCursor()
}

// MoveCursor sets the cursor position in global coordinates.
func (b *Backend) MoveCursor(pos image.Point) {
	b.cursor.pos = pos
	b.moveCursor()
}

// SetPointerPresent shows or hides the hardware cursors as pointer devices
// come and go.
func (b *Backend) SetPointerPresent(present bool) {
	b.cursor.enabled = present
	if b.cursor.software || b.card == nil {
		return
	}
	for _, o := range b.cat.outputs {
		if !present {
			o.hideCursor(b.card)
			continue
		}
		if b.cursor.handle != 0 && !b.cursor.hidden && !o.showCursor(b.card, b.cursor.handle, b.cursorSize) {
			b.setSoftwareCursor(true)
			return
		}
	}
}

func (b *Backend) updateCursor() {
	if b.cursor.software || b.cursor.hidden || b.card == nil {
		return
	}
	if b.cursor.handle == 0 {
		b.doHideCursor()
		return
	}
	b.setCursor()
	b.moveCursor()
}

func (b *Backend) setCursor() {
	if !b.cursor.enabled {
		return
	}
	for _, o := range b.cat.outputs {
		if !o.showCursor(b.card, b.cursor.handle, b.cursorSize) {
			b.setSoftwareCursor(true)
			return
		}
	}
}

func (b *Backend) doHideCursor() {
	if !b.cursor.enabled || b.cursor.software || b.card == nil {
		return
	}
	for _, o := range b.cat.outputs {
		o.hideCursor(b.card)
	}
}

func (b *Backend) moveCursor() {
	if !b.cursor.enabled || b.cursor.hidden || b.cursor.software || b.card == nil {
		return
	}
	for _, o := range b.cat.outputs {
		o.moveCursor(b.card, b.cursor.pos, b.cursor.hotspot)
	}
}

// initOutputCursor brings a new output's hardware cursor in line with the
// others.
func (b *Backend) initOutputCursor(o *Output) {
	if !b.cursor.enabled || b.cursor.software || b.cursor.hidden || b.cursor.handle == 0 {
		return
	}
	if !o.showCursor(b.card, b.cursor.handle, b.cursorSize) {
		b.setSoftwareCursor(true)
		return
	}
	o.moveCursor(b.card, b.cursor.pos, b.cursor.hotspot)
}

func (b *Backend) setSoftwareCursor(software bool) {
	if b.cursor.software == software {
		return
	}
	b.cursor.software = software
	b.log.Info.Printf("using software cursor: %v", software)

	if software && b.card != nil {
		for _, o := range b.cat.outputs {
			if o.cursorVisible {
				o.hideCursor(b.card)
			}
		}
	}
	b.compositor.SoftwareCursorChanged(software)
}
