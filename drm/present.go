package drm

import (
	"fmt"

	"kmsbackend/kms"
)

// Present queues buf for scanout on o. On success the backend owns buf until
// the flip that replaces it on screen completes; on failure it is released
// right away if the backend owns buffers.
func (b *Backend) Present(buf Buffer, o *Output) error {
	if buf == nil || buf.FramebufferID() == 0 {
		b.releaseBuffer(buf)
		return ErrInvalidBuffer
	}
	if !b.active || b.card == nil {
		b.releaseBuffer(buf)
		return ErrSessionInactive
	}
	if o == nil || indexOf(b.cat.outputs, o) < 0 {
		b.releaseBuffer(buf)
		return ErrUnknownOutput
	}
	if o.pending != nil {
		b.releaseBuffer(buf)
		return fmt.Errorf("present on %s: %w", o.name, ErrFlipPending)
	}

	if err := b.proto.present(o, buf); err != nil {
		b.releaseBuffer(buf)
		return fmt.Errorf("present on %s: %w", o.name, err)
	}

	o.pending = buf
	b.pending++
	if b.pending == 1 {
		b.compositor.SwapAboutToBegin()
	}
	return nil
}

// PendingFlips is the number of issued flips still waiting for completion.
func (b *Backend) PendingFlips() int { return b.pending }

func (b *Backend) releaseBuffer(buf Buffer) {
	if buf != nil && b.opts.OwnsBuffers {
		buf.Release()
	}
}

// handleEvents consumes one batch read from the device.
func (b *Backend) handleEvents(events []kms.Event) {
	for _, ev := range events {
		if ev.Type != kms.EventFlipComplete {
			continue
		}
		b.pageFlipped(b.proto.decode(ev))
	}
}

func (b *Backend) pageFlipped(c Completion) {
	if buf, ok := b.retired[c.Output]; ok {
		delete(b.retired, c.Output)
		b.releaseBuffer(buf)
	} else if o := b.cat.findOutput(c.Output); o != nil {
		o.pageFlipped(c, b.opts.OwnsBuffers)
	}

	if b.pending == 0 {
		// flip abandoned by a session switch
		b.log.Debug.Printf("stale page flip completion for output %d", c.Output)
		return
	}

	b.pending--
	if b.pending == 0 && b.active {
		b.compositor.SwapComplete()
	}
}
