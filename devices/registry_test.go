package devices

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/evmacro/evmacro/types"
)

// fakeHandle is a scriptable device node for registry tests.
type fakeHandle struct {
	mu      sync.Mutex
	events  chan RawEvent
	closed  bool
	grabbed bool
	grabErr error
	readErr error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan RawEvent, 64)}
}

func (h *fakeHandle) Grab() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.grabErr != nil {
		return h.grabErr
	}
	h.grabbed = true
	return nil
}

func (h *fakeHandle) Ungrab() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grabbed = false
	return nil
}

func (h *fakeHandle) ReadEvent() (RawEvent, error) {
	ev, ok := <-h.events
	if !ok {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.readErr != nil {
			return RawEvent{}, h.readErr
		}
		return RawEvent{}, os.ErrClosed
	}
	return ev, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	return nil
}

// failRead makes the next read after the buffered events fail with err.
func (h *fakeHandle) failRead(err error) {
	h.mu.Lock()
	h.readErr = err
	closed := h.closed
	h.closed = true
	h.mu.Unlock()
	if !closed {
		close(h.events)
	}
}

type fakeBackend struct {
	mu       sync.Mutex
	paths    []string
	infos    map[string]types.DeviceInfo
	rdevs    map[string]uint64
	handles  map[string]*fakeHandle
	nextRdev uint64
	openErr  error
}

func newFakeBackend(ids ...string) *fakeBackend {
	b := &fakeBackend{
		infos:   make(map[string]types.DeviceInfo),
		rdevs:   make(map[string]uint64),
		handles: make(map[string]*fakeHandle),
	}
	for _, id := range ids {
		b.add(id)
	}
	return b
}

func (b *fakeBackend) add(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := "/dev/input/" + id
	b.paths = append(b.paths, path)
	b.infos[path] = types.DeviceInfo{
		ID:           id,
		Name:         "Fake " + id,
		Path:         path,
		Capabilities: []string{"key"},
		State:        types.DeviceStateFree,
	}
	b.nextRdev++
	b.rdevs[path] = b.nextRdev
	b.handles[path] = newFakeHandle()
}

// swap replaces the device behind id's node with a new identity, as when
// a different physical device takes over a reused event node.
func (b *fakeBackend) swap(id, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := "/dev/input/" + id
	info := b.infos[path]
	info.Name = name
	b.infos[path] = info
	b.nextRdev++
	b.rdevs[path] = b.nextRdev
	b.handles[path] = newFakeHandle()
}

func (b *fakeBackend) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := "/dev/input/" + id
	var kept []string
	for _, p := range b.paths {
		if p != path {
			kept = append(kept, p)
		}
	}
	b.paths = kept
}

func (b *fakeBackend) handle(id string) *fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handles["/dev/input/"+id]
}

func (b *fakeBackend) ScanPaths() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...), nil
}

func (b *fakeBackend) Rdev(path string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rdev, ok := b.rdevs[path]
	if !ok {
		return 0, os.ErrNotExist
	}
	return rdev, nil
}

func (b *fakeBackend) Describe(path string) (types.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.infos[path]
	if !ok {
		return types.DeviceInfo{}, os.ErrNotExist
	}
	return info, nil
}

func (b *fakeBackend) Open(path string) (NodeHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	h, ok := b.handles[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return h, nil
}

// recordingNotifier collects notifications for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(method string, params interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, method)
}

func (n *recordingNotifier) methods() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// collectingSink records forwarded events and capture losses.
type collectingSink struct {
	mu     sync.Mutex
	events []types.InputEvent
	losses []string
}

func (s *collectingSink) HandleEvent(ev types.InputEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *collectingSink) HandleCaptureLoss(deviceID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.losses = append(s.losses, deviceID)
}

func (s *collectingSink) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *collectingSink) lossCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.losses)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEnumerate_ReportsAddedAndRemoved(t *testing.T) {
	backend := newFakeBackend("event0", "event1")
	registry := NewRegistry(backend)
	notifier := &recordingNotifier{}
	registry.SetNotifier(notifier)

	snapshot, err := registry.Enumerate()
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, "event0", snapshot[0].ID)
	assert.Equal(t, "event1", snapshot[1].ID)
	assert.Equal(t, []string{types.NotifyDeviceAdded, types.NotifyDeviceAdded}, notifier.methods())

	// identical rescan keeps the snapshot stable
	again, err := registry.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, snapshot, again)

	backend.remove("event1")
	snapshot, err = registry.Enumerate()
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Contains(t, notifier.methods(), types.NotifyDeviceRemoved)
}

func TestGrab_IsExclusive(t *testing.T) {
	backend := newFakeBackend("event0")
	registry := NewRegistry(backend)
	_, err := registry.Enumerate()
	require.NoError(t, err)

	require.NoError(t, registry.Grab("event0", "client-a"))

	err = registry.Grab("event0", "client-b")
	require.Error(t, err)
	assert.Equal(t, types.KindAlreadyGrabbed, types.KindOf(err))

	devices := registry.List()
	require.Len(t, devices, 1)
	assert.Equal(t, types.DeviceStateGrabbed, devices[0].State)
}

func TestGrab_UnknownDevice(t *testing.T) {
	registry := NewRegistry(newFakeBackend())
	err := registry.Grab("event9", "client-a")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestGrab_PermissionDenied(t *testing.T) {
	backend := newFakeBackend("event0")
	backend.handle("event0").grabErr = unix.EACCES

	registry := NewRegistry(backend)
	_, err := registry.Enumerate()
	require.NoError(t, err)

	err = registry.Grab("event0", "client-a")
	assert.Equal(t, types.KindPermissionDenied, types.KindOf(err))

	// failed grab leaves the device free
	devices := registry.List()
	assert.Equal(t, types.DeviceStateFree, devices[0].State)
}

func TestRelease_IsIdempotent(t *testing.T) {
	backend := newFakeBackend("event0")
	registry := NewRegistry(backend)
	_, err := registry.Enumerate()
	require.NoError(t, err)

	require.NoError(t, registry.Grab("event0", "client-a"))
	require.NoError(t, registry.Release("event0"))
	require.NoError(t, registry.Release("event0"))

	assert.Equal(t, types.DeviceStateFree, registry.List()[0].State)
}

func TestRelease_UnknownDevice(t *testing.T) {
	registry := NewRegistry(newFakeBackend())
	err := registry.Release("event9")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestReleaseOwner_DropsAllGrabsOfClient(t *testing.T) {
	backend := newFakeBackend("event0", "event1", "event2")
	registry := NewRegistry(backend)
	_, err := registry.Enumerate()
	require.NoError(t, err)

	require.NoError(t, registry.Grab("event0", "client-a"))
	require.NoError(t, registry.Grab("event1", "client-a"))
	require.NoError(t, registry.Grab("event2", "client-b"))

	registry.ReleaseOwner("client-a")

	devices := registry.List()
	assert.Equal(t, types.DeviceStateFree, devices[0].State)
	assert.Equal(t, types.DeviceStateFree, devices[1].State)
	assert.Equal(t, types.DeviceStateGrabbed, devices[2].State)
}

func TestCapture_ForwardsEventsInOrder(t *testing.T) {
	backend := newFakeBackend("event0")
	registry := NewRegistry(backend)
	sink := &collectingSink{}
	registry.SetSink(sink)
	_, err := registry.Enumerate()
	require.NoError(t, err)

	require.NoError(t, registry.Grab("event0", "client-a"))

	h := backend.handle("event0")
	for i := 0; i < 5; i++ {
		h.events <- RawEvent{Type: EvKey, Code: 30, Value: int32(i % 2), Time: int64(i) * 1e6}
	}

	waitFor(t, func() bool { return sink.eventCount() == 5 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, ev := range sink.events {
		assert.Equal(t, "event0", ev.Device)
		assert.Equal(t, int64(i)*1e6, ev.Time)
	}
}

func TestCapture_DisconnectRemovesDeviceAndNotifiesSink(t *testing.T) {
	backend := newFakeBackend("event0")
	registry := NewRegistry(backend)
	sink := &collectingSink{}
	notifier := &recordingNotifier{}
	registry.SetSink(sink)
	registry.SetNotifier(notifier)
	_, err := registry.Enumerate()
	require.NoError(t, err)

	require.NoError(t, registry.Grab("event0", "client-a"))

	backend.handle("event0").failRead(unix.ENODEV)

	waitFor(t, func() bool { return sink.lossCount() == 1 })
	waitFor(t, func() bool { return registry.Count() == 0 })
	assert.Contains(t, notifier.methods(), types.NotifyDeviceRemoved)
}

func TestEnumerate_NoticesReplacedDeviceAtReusedNode(t *testing.T) {
	backend := newFakeBackend("event3")
	registry := NewRegistry(backend)
	_, err := registry.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, "Fake event3", registry.List()[0].Name)

	// the node still exists, but a different device now sits behind it
	backend.swap("event3", "Other Keyboard")

	snapshot, err := registry.Enumerate()
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "Other Keyboard", snapshot[0].Name)
}

func TestEnumerate_GrabbedDeviceVanishingAbortsCapture(t *testing.T) {
	backend := newFakeBackend("event0")
	registry := NewRegistry(backend)
	sink := &collectingSink{}
	notifier := &recordingNotifier{}
	registry.SetSink(sink)
	registry.SetNotifier(notifier)
	_, err := registry.Enumerate()
	require.NoError(t, err)

	require.NoError(t, registry.Grab("event0", "client-a"))

	// the rescan notices the removal before the capture read fails
	backend.remove("event0")
	snapshot, err := registry.Enumerate()
	require.NoError(t, err)
	assert.Empty(t, snapshot)

	assert.Equal(t, 1, sink.lossCount())
	assert.Contains(t, notifier.methods(), types.NotifyDeviceRemoved)
}

func TestShutdown_ReleasesEverything(t *testing.T) {
	backend := newFakeBackend("event0", "event1")
	registry := NewRegistry(backend)
	_, err := registry.Enumerate()
	require.NoError(t, err)

	require.NoError(t, registry.Grab("event0", "client-a"))
	require.NoError(t, registry.Grab("event1", "client-a"))
	require.NoError(t, registry.Shutdown())

	for _, dev := range registry.List() {
		assert.Equal(t, types.DeviceStateFree, dev.State)
	}
}
