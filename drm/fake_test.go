package drm

import (
	"fmt"
	"image"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"kmsbackend/kms"
)

const (
	typeHDMI = 11
	typeEDP  = 14
)

func testMode(w, h uint16, clock uint32) kms.ModeInfo {
	return kms.ModeInfo{
		Clock:    clock,
		Hdisplay: w, HsyncStart: w + 88, HsyncEnd: w + 132, Htotal: w + 280,
		Vdisplay: h, VsyncStart: h + 4, VsyncEnd: h + 9, Vtotal: h + 45,
		Vrefresh: 60,
		Type:     kms.ModeTypeDriver | kms.ModeTypePreferred,
		Name:     kms.NewModeName(fmt.Sprintf("%dx%d", w, h)),
	}
}

var (
	mode1080 = testMode(1920, 1080, 148500)
	mode1440 = testMode(2560, 1440, 241500)
	mode720  = testMode(1280, 720, 74250)
)

type fakeObject struct {
	typ   kms.ObjectType
	props map[string]uint64
}

type fakeCommit struct {
	flags    uint32
	req      *kms.AtomicRequest
	userData uint64
}

type fakeSetCrtc struct {
	crtc, fb   uint32
	connectors []uint32
	mode       *kms.ModeInfo
}

// fakeCard models a device's connectors, encoders, CRTCs and planes in
// memory and records what the backend asks of it.
type fakeCard struct {
	mu     sync.Mutex
	closed chan struct{}

	nextID uint32

	connectorIDs []uint32
	connectors   map[uint32]*kms.Connector
	encoders     map[uint32]*kms.Encoder
	crtcs        []*kms.Crtc
	planes       []*kms.Plane
	objects      map[uint32]*fakeObject
	propIDs      map[string]uint32
	blobs        map[uint32][]byte
	caps         map[uint64]uint64

	atomicSupported bool
	clientAtomic    uint64

	// failure injection
	failCursor      bool
	failTestCommit  bool
	failPresent     error
	failSetCrtc     map[uint32]error
	failObjectProps map[uint32]bool
	dropProps       map[uint32]string

	commits      []fakeCommit
	setCrtcs     []fakeSetCrtc
	flips        []kms.Event
	cursors      map[uint32]uint32
	cursorPos    map[uint32]image.Point
	connProps    []string
	dumbBuffers  map[uint32]*kms.DumbBuffer
	modeBlobs    map[uint32]bool
	events       []kms.Event
	flipSequence uint32

	// objects of a closed file: the kernel freed them, their ids are dead
	freed  map[uint32]bool
	leaked int
}

func newFakeCard(atomic bool) *fakeCard {
	return &fakeCard{
		closed:          make(chan struct{}),
		nextID:          30,
		connectors:      map[uint32]*kms.Connector{},
		encoders:        map[uint32]*kms.Encoder{},
		objects:         map[uint32]*fakeObject{},
		propIDs:         map[string]uint32{},
		blobs:           map[uint32][]byte{},
		caps:            map[uint64]uint64{kms.CapCursorWidth: 256, kms.CapCursorHeight: 256},
		atomicSupported: atomic,
		failSetCrtc:     map[uint32]error{},
		failObjectProps: map[uint32]bool{},
		dropProps:       map[uint32]string{},
		cursors:         map[uint32]uint32{},
		cursorPos:       map[uint32]image.Point{},
		dumbBuffers:     map[uint32]*kms.DumbBuffer{},
		modeBlobs:       map[uint32]bool{},
		freed:           map[uint32]bool{},
	}
}

func (c *fakeCard) id() uint32 {
	c.nextID++
	return c.nextID
}

func (c *fakeCard) propID(name string) uint32 {
	if id, ok := c.propIDs[name]; ok {
		return id
	}
	id := c.id()
	c.propIDs[name] = id
	return id
}

func (c *fakeCard) addObject(id uint32, typ kms.ObjectType, names ...string) {
	obj := &fakeObject{typ: typ, props: map[string]uint64{}}
	for _, name := range names {
		c.propID(name)
		obj.props[name] = 0
	}
	c.objects[id] = obj
}

func (c *fakeCard) addCrtc() uint32 {
	id := c.id()
	c.crtcs = append(c.crtcs, &kms.Crtc{ID: id, GammaSize: 256})
	c.addObject(id, kms.ObjectCrtc, "MODE_ID", "ACTIVE", "OUT_FENCE_PTR")
	return id
}

func (c *fakeCard) addPlane(typ PlaneType, possibleCrtcs uint32) uint32 {
	id := c.id()
	c.planes = append(c.planes, &kms.Plane{ID: id, PossibleCrtcs: possibleCrtcs})
	c.addObject(id, kms.ObjectPlane, append([]string{"IN_FORMATS"}, planeProperties...)...)
	c.objects[id].props["type"] = uint64(typ)
	return id
}

// addConnector adds a connected connector with one encoder that can drive
// the CRTCs in possibleCrtcs.
func (c *fakeCard) addConnector(typ, typeID, possibleCrtcs uint32, modes ...kms.ModeInfo) uint32 {
	encID := c.id()
	c.encoders[encID] = &kms.Encoder{ID: encID, PossibleCrtcs: possibleCrtcs}

	id := c.id()
	c.connectorIDs = append(c.connectorIDs, id)
	c.connectors[id] = &kms.Connector{
		ID:         id,
		Type:       typ,
		TypeID:     typeID,
		Connection: kms.Connected,
		MmWidth:    530,
		MmHeight:   300,
		Modes:      modes,
		Encoders:   []uint32{encID},
	}
	c.addObject(id, kms.ObjectConnector, "CRTC_ID", "DPMS", "EDID", "link-status")
	return id
}

func (c *fakeCard) setConnected(id uint32, connected bool) {
	if connected {
		c.connectors[id].Connection = kms.Connected
	} else {
		c.connectors[id].Connection = kms.Disconnected
	}
}

func (c *fakeCard) removeConnector(id uint32) {
	delete(c.connectors, id)
	for i, cid := range c.connectorIDs {
		if cid == id {
			c.connectorIDs = append(c.connectorIDs[:i], c.connectorIDs[i+1:]...)
			break
		}
	}
}

func (c *fakeCard) setEDID(connector uint32, blob []byte) {
	id := c.id()
	c.blobs[id] = blob
	c.objects[connector].props["EDID"] = uint64(id)
}

func (c *fakeCard) setCurrentMode(crtc uint32, mode kms.ModeInfo) {
	for _, k := range c.crtcs {
		if k.ID == crtc {
			k.ModeValid = true
			k.Mode = mode
		}
	}
}

// takeEvents returns the completion events of the flips issued so far.
func (c *fakeCard) takeEvents() []kms.Event {
	events := c.events
	c.events = nil
	return events
}

func (c *fakeCard) cursorVisible(crtc uint32) bool { return c.cursors[crtc] != 0 }

func (c *fakeCard) reopen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		c.closed = make(chan struct{})
	default:
	}
}

func (c *fakeCard) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return os.ErrClosed
	default:
		close(c.closed)
	}

	// dumb buffers and mode blobs live as long as the file
	for fb := range c.dumbBuffers {
		c.freed[fb] = true
		c.leaked++
	}
	c.dumbBuffers = map[uint32]*kms.DumbBuffer{}
	for id := range c.modeBlobs {
		delete(c.blobs, id)
		c.freed[id] = true
		c.leaked++
	}
	c.modeBlobs = map[uint32]bool{}
	return nil
}

func (c *fakeCard) Cap(capability uint64) (uint64, error) {
	if v, ok := c.caps[capability]; ok {
		return v, nil
	}
	return 0, unix.EINVAL
}

func (c *fakeCard) SetClientCap(capability, value uint64) error {
	if capability == kms.ClientCapAtomic {
		if !c.atomicSupported {
			return unix.EOPNOTSUPP
		}
		c.clientAtomic = value
	}
	return nil
}

func (c *fakeCard) ReadEvents() ([]kms.Event, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	<-closed
	return nil, os.ErrClosed
}

func (c *fakeCard) Resources() (*kms.Resources, error) {
	res := &kms.Resources{Connectors: append([]uint32(nil), c.connectorIDs...)}
	for _, crtc := range c.crtcs {
		res.Crtcs = append(res.Crtcs, crtc.ID)
	}
	for id := range c.encoders {
		res.Encoders = append(res.Encoders, id)
	}
	sort.Slice(res.Encoders, func(i, j int) bool { return res.Encoders[i] < res.Encoders[j] })
	return res, nil
}

func (c *fakeCard) Connector(id uint32) (*kms.Connector, error) {
	k, ok := c.connectors[id]
	if !ok {
		return nil, unix.ENOENT
	}
	con := *k
	if con.Connection != kms.Connected {
		con.Modes = nil
	}
	con.Props, con.PropValues = c.properties(id)
	return &con, nil
}

func (c *fakeCard) Encoder(id uint32) (*kms.Encoder, error) {
	if enc, ok := c.encoders[id]; ok {
		return enc, nil
	}
	return nil, unix.ENOENT
}

func (c *fakeCard) Crtc(id uint32) (*kms.Crtc, error) {
	for _, crtc := range c.crtcs {
		if crtc.ID == id {
			k := *crtc
			return &k, nil
		}
	}
	return nil, unix.ENOENT
}

func (c *fakeCard) PlaneResources() ([]uint32, error) {
	var ids []uint32
	for _, p := range c.planes {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (c *fakeCard) Plane(id uint32) (*kms.Plane, error) {
	for _, p := range c.planes {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, unix.ENOENT
}

func (c *fakeCard) properties(id uint32) ([]uint32, []uint64) {
	obj, ok := c.objects[id]
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(obj.props))
	for name := range obj.props {
		if c.dropProps[id] == name {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var ids []uint32
	var values []uint64
	for _, name := range names {
		ids = append(ids, c.propIDs[name])
		values = append(values, obj.props[name])
	}
	return ids, values
}

func (c *fakeCard) ObjectProperties(id uint32, typ kms.ObjectType) ([]uint32, []uint64, error) {
	obj, ok := c.objects[id]
	if !ok || obj.typ != typ || c.failObjectProps[id] {
		return nil, nil, unix.EINVAL
	}
	ids, values := c.properties(id)
	return ids, values, nil
}

func (c *fakeCard) Property(id uint32) (*kms.Property, error) {
	for name, pid := range c.propIDs {
		if pid == id {
			return &kms.Property{ID: id, Name: name}, nil
		}
	}
	return nil, unix.ENOENT
}

func (c *fakeCard) Blob(id uint32) ([]byte, error) {
	if blob, ok := c.blobs[id]; ok {
		return blob, nil
	}
	return nil, unix.ENOENT
}

func (c *fakeCard) CreateModeBlob(mode kms.ModeInfo) (uint32, error) {
	id := c.id()
	c.blobs[id] = []byte(mode.String())
	c.modeBlobs[id] = true
	return id, nil
}

func (c *fakeCard) DestroyBlob(id uint32) error {
	if _, ok := c.blobs[id]; !ok {
		return unix.ENOENT
	}
	delete(c.blobs, id)
	delete(c.modeBlobs, id)
	return nil
}

func (c *fakeCard) CreateDumbBuffer(width, height uint32) (*kms.DumbBuffer, error) {
	b := &kms.DumbBuffer{Handle: c.id(), Width: width, Height: height, Pitch: width * 4, FbID: c.id()}
	b.Size = uint64(b.Pitch) * uint64(height)
	c.dumbBuffers[b.FbID] = b
	return b, nil
}

func (c *fakeCard) DestroyDumbBuffer(b *kms.DumbBuffer) error {
	if _, ok := c.dumbBuffers[b.FbID]; !ok {
		return unix.ENOENT
	}
	delete(c.dumbBuffers, b.FbID)
	return nil
}

func (c *fakeCard) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *kms.ModeInfo) error {
	if err := c.failSetCrtc[crtcID]; err != nil {
		return err
	}
	if c.freed[fbID] {
		return unix.ENOENT
	}
	c.setCrtcs = append(c.setCrtcs, fakeSetCrtc{crtc: crtcID, fb: fbID, connectors: connectors, mode: mode})
	return nil
}

func (c *fakeCard) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	if c.failPresent != nil {
		return c.failPresent
	}
	if c.freed[fbID] {
		return unix.ENOENT
	}
	c.flipSequence++
	ev := kms.Event{
		Type:     kms.EventFlipComplete,
		UserData: userData,
		Sec:      100,
		Usec:     c.flipSequence * 1000,
		Sequence: c.flipSequence,
		CrtcID:   crtcID,
	}
	c.flips = append(c.flips, ev)
	if flags&kms.PageFlipEvent != 0 {
		c.events = append(c.events, ev)
	}
	return nil
}

func (c *fakeCard) Atomic(flags uint32, req *kms.AtomicRequest, userData uint64) error {
	for _, crtc := range c.crtcs {
		if blob, ok := req.Value(crtc.ID, c.propIDs["MODE_ID"]); ok && blob != 0 {
			if _, exists := c.blobs[uint32(blob)]; !exists {
				return unix.EINVAL
			}
		}
	}
	for _, p := range c.planes {
		if fb, ok := req.Value(p.ID, c.propIDs["FB_ID"]); ok && c.freed[uint32(fb)] {
			return unix.ENOENT
		}
	}
	if flags&kms.AtomicTestOnly != 0 {
		if c.failTestCommit {
			return unix.EINVAL
		}
		c.commits = append(c.commits, fakeCommit{flags: flags, req: req, userData: userData})
		return nil
	}
	if flags&kms.PageFlipEvent != 0 && c.failPresent != nil {
		return c.failPresent
	}
	c.commits = append(c.commits, fakeCommit{flags: flags, req: req, userData: userData})

	if flags&kms.PageFlipEvent == 0 {
		return nil
	}
	for _, p := range c.planes {
		crtc, ok := req.Value(p.ID, c.propIDs["CRTC_ID"])
		if !ok {
			continue
		}
		c.flipSequence++
		ev := kms.Event{
			Type:     kms.EventFlipComplete,
			UserData: userData,
			Sec:      100,
			Usec:     c.flipSequence * 1000,
			Sequence: c.flipSequence,
			CrtcID:   uint32(crtc),
		}
		c.flips = append(c.flips, ev)
		c.events = append(c.events, ev)
	}
	return nil
}

func (c *fakeCard) SetConnectorProperty(connectorID, propID uint32, value uint64) error {
	prop, err := c.Property(propID)
	if err != nil {
		return err
	}
	c.objects[connectorID].props[prop.Name] = value
	c.connProps = append(c.connProps, fmt.Sprintf("%d.%s=%d", connectorID, prop.Name, value))
	return nil
}

func (c *fakeCard) SetCursor(crtcID, handle, width, height uint32) error {
	if c.failCursor && handle != 0 {
		return unix.ENXIO
	}
	c.cursors[crtcID] = handle
	return nil
}

func (c *fakeCard) MoveCursor(crtcID uint32, x, y int32) error {
	c.cursorPos[crtcID] = image.Pt(int(x), int(y))
	return nil
}

type fakeBuffer struct {
	fb       uint32
	size     image.Point
	released int
}

func (f *fakeBuffer) FramebufferID() uint32 { return f.fb }
func (f *fakeBuffer) Size() image.Point { return f.size }
func (f *fakeBuffer) Release() { f.released++ }

func newBuffer(fb uint32) *fakeBuffer {
	return &fakeBuffer{fb: fb, size: image.Pt(1920, 1080)}
}

// recorder is a Compositor that logs the notifications it gets.
type recorder struct {
	events []string
}

func (r *recorder) record(format string, args ...interface{}) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) OutputAdded(o *Output) { r.record("added %s", o.Name()) }
func (r *recorder) OutputRemoved(o *Output) { r.record("removed %s", o.Name()) }
func (r *recorder) OutputsQueried() { r.record("queried") }
func (r *recorder) SwapAboutToBegin() { r.record("about-to-swap") }
func (r *recorder) SwapComplete() { r.record("swap-complete") }
func (r *recorder) RepaintFull() { r.record("repaint") }
func (r *recorder) OutputsEnabledChanged(enabled bool) { r.record("enabled %v", enabled) }
func (r *recorder) SoftwareCursorChanged(enabled bool) { r.record("software-cursor %v", enabled) }

// take returns the notifications since the last call.
func (r *recorder) take() []string {
	events := r.events
	r.events = nil
	return events
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type fakeDevices struct {
	nextFd   int
	held     map[int]bool
	acquired int
	err      error
}

func (d *fakeDevices) Acquire(path string) (int, error) {
	if d.err != nil {
		return -1, d.err
	}
	if d.held == nil {
		d.held = map[int]bool{}
	}
	d.nextFd++
	d.acquired++
	fd := 100 + d.nextFd
	d.held[fd] = true
	return fd, nil
}

func (d *fakeDevices) Release(fd int) error {
	if !d.held[fd] {
		return fmt.Errorf("fd %d not held", fd)
	}
	delete(d.held, fd)
	return nil
}

type memStore struct {
	geometry map[string]image.Rectangle
	flushes  int
}

func newMemStore() *memStore {
	return &memStore{geometry: map[string]image.Rectangle{}}
}

func (m *memStore) Geometry(key, output string) (image.Rectangle, bool) {
	r, ok := m.geometry[key+"/"+output]
	return r, ok
}

func (m *memStore) SetGeometry(key, output string, r image.Rectangle) {
	m.geometry[key+"/"+output] = r
}

func (m *memStore) Flush() error {
	m.flushes++
	return nil
}

func (m *memStore) keys() []string {
	var keys []string
	for k := range m.geometry {
		key, _, _ := strings.Cut(k, "/")
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type testRig struct {
	b       *Backend
	card    *fakeCard
	comp    *recorder
	devices *fakeDevices
	store   *memStore
}

func newRig(t *testing.T, card *fakeCard, opts ...func(*Config)) *testRig {
	t.Helper()

	rig := &testRig{
		card:    card,
		comp:    &recorder{},
		devices: &fakeDevices{},
		store:   newMemStore(),
	}

	conf := Config{
		Options: Options{
			DeviceNode:  "/dev/dri/card0",
			CursorSize:  64,
			OwnsBuffers: true,
		},
		Devices:    rig.devices,
		Compositor: rig.comp,
		Store:      rig.store,
		OpenCard: func(fd int, name string) (Card, error) {
			card.reopen()
			return card, nil
		},
	}
	for _, opt := range opts {
		opt(&conf)
	}

	rig.b = New(conf)
	require.NoError(t, rig.b.Start())
	t.Cleanup(func() {
		card.Close()
	})
	return rig
}

// flip delivers the completion events issued so far.
func (r *testRig) flip() {
	r.b.handleEvents(r.card.takeEvents())
}

func (r *testRig) output(t *testing.T, name string) *Output {
	t.Helper()
	for _, o := range r.b.Outputs() {
		if o.Name() == name {
			return o
		}
	}
	t.Fatalf("no output %s", name)
	return nil
}

// dualHead is a device with two HDMI connectors that can use either of two
// CRTCs, plus a primary plane for each CRTC and an overlay.
func dualHead(atomic bool) (card *fakeCard, hdmi1, hdmi2 uint32) {
	card = newFakeCard(atomic)
	card.addCrtc()
	card.addCrtc()
	card.addPlane(PlanePrimary, 0b01)
	card.addPlane(PlanePrimary, 0b10)
	card.addPlane(PlaneCursor, 0b01)
	card.addPlane(PlaneOverlay, 0b11)
	hdmi1 = card.addConnector(typeHDMI, 1, 0b11, mode1080)
	hdmi2 = card.addConnector(typeHDMI, 2, 0b11, mode1440)
	return card, hdmi1, hdmi2
}
