// Package drm drives the kernel mode setting resources of one GPU for a
// compositor. It turns connected connectors into outputs, follows hotplug
// events and presents buffers through atomic commits or legacy page flips.
package drm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"strings"
	"time"

	"github.com/function61/gokit/log/logex"
	"golang.org/x/sys/unix"

	"kmsbackend/kms"
	"kmsbackend/udev"
)

var (
	ErrInvalidBuffer   = errors.New("drm: invalid buffer")
	ErrSessionInactive = errors.New("drm: session inactive")
	ErrNoDevice        = errors.New("drm: no device")
	ErrFlipPending     = errors.New("drm: page flip pending")
	ErrUnknownOutput   = errors.New("drm: output is gone")
)

var _ Card = (*kms.Card)(nil)

type lifecycle int

const (
	stateInit lifecycle = iota
	stateRunning
	stateShutdown
)

type Config struct {
	Options    Options
	Devices    DeviceAcquirer
	Compositor Compositor
	// Store may be nil, outputs then always get the default layout.
	Store GeometryStore
	// OpenCard wraps an acquired descriptor, kms.NewCard on a duplicate of
	// it by default.
	OpenCard func(fd int, name string) (Card, error)
	Logger   *log.Logger
}

// Backend is the display backend of one GPU. Apart from Post, its methods
// must be called from the goroutine running Run.
type Backend struct {
	opts       Options
	devices    DeviceAcquirer
	compositor Compositor
	store      GeometryStore
	openCard   func(fd int, name string) (Card, error)
	log        *logex.Leveled

	fd    int
	card  Card
	proto protocol
	cat   Catalogue

	state  lifecycle
	active bool
	// pending counts issued flips over all outputs
	pending int
	// retired holds buffers still in flight on torn down outputs, by
	// connector id, until their flip completes.
	retired map[uint32]Buffer

	cursor     cursorState
	cursorSize image.Point

	outputsEnabled bool
	dpmsFilter     bool

	flips chan []kms.Event
	tasks chan func()
	stop  chan struct{}
	done  chan struct{}
}

func New(conf Config) *Backend {
	logger := conf.Logger
	if logger == nil {
		logger = logex.Discard
	}

	openCard := conf.OpenCard
	if openCard == nil {
		openCard = func(fd int, name string) (Card, error) {
			// the card closes its descriptor, the acquirer releases fd
			dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
			if err != nil {
				return nil, fmt.Errorf("dup %s: %w", name, err)
			}
			card, err := kms.NewCard(dup, name)
			if err != nil {
				unix.Close(dup)
				return nil, err
			}
			return card, nil
		}
	}

	return &Backend{
		opts:       conf.Options,
		devices:    conf.Devices,
		compositor: conf.Compositor,
		store:      conf.Store,
		openCard:   openCard,
		log:        logex.Levels(logex.Prefix("drm", logger)),
		fd:         -1,
		cat:        newCatalogue(),
		cursor:     cursorState{enabled: true},
		retired:    map[uint32]Buffer{},
		flips:      make(chan []kms.Event, 8),
		tasks:      make(chan func(), 32),
		done:       make(chan struct{}),
	}
}

// Start opens the device, picks the mode setting interface and creates the
// outputs of the connected connectors. Failing to get the device is the only
// error; everything else degrades.
func (b *Backend) Start() error {
	if b.state != stateInit {
		return errors.New("drm: backend already started")
	}
	if b.opts.DeviceNode == "" {
		return fmt.Errorf("%w: no GPU found", ErrNoDevice)
	}

	if err := b.open(); err != nil {
		return err
	}
	b.active = true

	atomic := b.negotiateAtomic()
	rejected, err := b.enumerate(atomic)
	if err != nil {
		b.log.Info.Printf("%v", err)
	}
	if atomic && rejected > 0 {
		b.log.Info.Println("objects without atomic properties, falling back to legacy mode")
		b.dropAtomic()
		atomic = false
		// picks up the objects rejected above
		if _, err := b.enumerate(false); err != nil {
			b.log.Info.Printf("%v", err)
		}
	}

	if atomic {
		b.proto = &atomicProtocol{b: b}
	} else {
		b.proto = &legacyProtocol{b: b}
	}

	b.initCursor()
	b.Reconcile()

	if len(b.cat.outputs) == 0 {
		b.log.Debug.Println("no connected outputs found on startup")
	}

	b.state = stateRunning
	return nil
}

func (b *Backend) open() error {
	node := b.opts.DeviceNode

	fd, err := b.devices.Acquire(node)
	if err != nil {
		return fmt.Errorf("%w: acquire %s: %w", ErrNoDevice, node, err)
	}

	card, err := b.openCard(fd, node)
	if err != nil {
		if err := b.devices.Release(fd); err != nil {
			b.log.Error.Printf("releasing %s: %v", node, err)
		}
		return fmt.Errorf("%w: %w", ErrNoDevice, err)
	}

	b.fd = fd
	b.card = card
	b.stop = make(chan struct{})
	go b.readEvents(card, b.stop)

	return nil
}

func (b *Backend) closeDevice() {
	if b.card == nil {
		return
	}
	close(b.stop)
	if err := b.card.Close(); err != nil {
		b.log.Error.Printf("closing %s: %v", b.opts.DeviceNode, err)
	}
	if err := b.devices.Release(b.fd); err != nil {
		b.log.Error.Printf("releasing %s: %v", b.opts.DeviceNode, err)
	}
	b.card = nil
	b.fd = -1
	b.forgetFileObjects()
}

// forgetFileObjects drops the ids of objects that belonged to the closed
// file: blank framebuffers, mode blobs and the cursor buffer. The kernel freed
// them together with the file. Flips still in flight will not complete.
func (b *Backend) forgetFileObjects() {
	for _, crtc := range b.cat.crtcs {
		crtc.blank = nil
	}
	for _, o := range b.cat.outputs {
		o.modeBlob = 0
		o.modesetRequested = true
	}
	b.cursor.handle = 0
	b.releaseRetired()
}

func (b *Backend) releaseRetired() {
	for id, buf := range b.retired {
		b.releaseBuffer(buf)
		delete(b.retired, id)
	}
}

// readEvents forwards completion events read from the device to Run until
// the card is closed.
func (b *Backend) readEvents(card Card, stop <-chan struct{}) {
	for {
		events, err := card.ReadEvents()
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			if !errors.Is(err, kms.ErrShortEvent) {
				b.log.Error.Printf("reading events: %v", err)
				return
			}
			b.log.Error.Printf("reading events: %v", err)
		}
		if len(events) == 0 {
			continue
		}

		select {
		case b.flips <- events:
		case <-stop:
			return
		}
	}
}

// Run is the backend's event loop. It handles page flip completions, hotplug
// events of the device, session activity changes and posted functions until
// ctx is canceled.
func (b *Backend) Run(ctx context.Context, hotplug <-chan udev.Event, sessionActive <-chan bool) error {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case events := <-b.flips:
			b.handleEvents(events)
		case ev, ok := <-hotplug:
			if !ok {
				hotplug = nil
				continue
			}
			b.HandleUevent(ev)
		case active, ok := <-sessionActive:
			if !ok {
				sessionActive = nil
				continue
			}
			b.Activate(active)
		case fn := <-b.tasks:
			fn()
		}
	}
}

// Post queues fn to run on the event loop. Safe to call from any goroutine.
// Once Run returned, fn may be dropped.
func (b *Backend) Post(fn func()) {
	select {
	case b.tasks <- fn:
	case <-b.done:
	}
}

// HandleUevent reconciles the outputs on hotplug events of our device.
func (b *Backend) HandleUevent(ev udev.Event) {
	if ev.Subsystem != "drm" || ev.SysNum != b.opts.SysNum || !ev.Hotplug() {
		return
	}
	b.log.Debug.Println("received hot plug event for monitored drm device")
	b.Reconcile()
	b.updateCursor()
}

// Shutdown waits briefly for outstanding flips, stores the output
// configuration, turns the outputs off and gives the device back.
func (b *Backend) Shutdown() {
	if b.state != stateRunning {
		return
	}
	b.state = stateShutdown

	b.waitForFlips(time.Second)

	if err := b.WriteOutputsConfiguration(); err != nil {
		b.log.Error.Printf("writing outputs configuration: %v", err)
	}

	if b.card != nil {
		for _, o := range b.cat.outputs {
			b.teardown(o)
		}
	}
	b.closeDevice()
}

func (b *Backend) waitForFlips(timeout time.Duration) {
	if !b.active || b.card == nil {
		return
	}

	deadline := time.After(timeout)
	for b.pending > 0 {
		select {
		case events := <-b.flips:
			b.handleEvents(events)
		case <-deadline:
			b.log.Error.Printf("giving up on %d pending page flips", b.pending)
			return
		}
	}
}

func (b *Backend) Outputs() []*Output { return b.cat.Outputs() }
func (b *Backend) EnabledOutputs() []*Output { return b.cat.EnabledOutputs() }

// Catalogue exposes the device objects, e.g. for listing them.
func (b *Backend) Catalogue() *Catalogue { return &b.cat }

// Atomic reports whether atomic mode setting is in use.
func (b *Backend) Atomic() bool { return b.proto != nil && b.proto.atomic() }

func (b *Backend) SupportInformation() string {
	var s strings.Builder
	fmt.Fprintf(&s, "Name: DRM\n")
	fmt.Fprintf(&s, "Active: %v\n", b.active)
	fmt.Fprintf(&s, "Atomic Mode Setting: %v\n", b.Atomic())
	return s.String()
}
