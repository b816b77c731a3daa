package devices

import (
	"errors"
	"os"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sys/unix"

	"github.com/evmacro/evmacro/types"
	"github.com/evmacro/evmacro/utils"
)

const infoCacheSize = 256

// Notifier receives unsolicited state-change notifications. The protocol
// server implements it; tests plug in recorders.
type Notifier interface {
	Notify(method string, params interface{})
}

// EventSink consumes events from grabbed devices and learns about captures
// that ended while still grabbed (disconnect or read failure).
type EventSink interface {
	HandleEvent(ev types.InputEvent)
	HandleCaptureLoss(deviceID string, err error)
}

type managedDevice struct {
	info    types.DeviceInfo
	handle  NodeHandle
	owner   string
	capture *Capture
}

// Registry tracks every known input device and arbitrates exclusive grabs.
// All state mutation happens under one mutex; capture readers run outside
// it and report back through dedicated methods.
type Registry struct {
	mu       sync.Mutex
	backend  Backend
	devices  map[string]*managedDevice
	notifier Notifier
	sink     EventSink

	// cache of descriptions keyed by node path plus rdev, so periodic
	// rescans do not reopen unchanged devices but a replacement device
	// at a reused node still gets re-described
	infoCache *lru.Cache[cacheKey, types.DeviceInfo]
}

type cacheKey struct {
	path string
	rdev uint64
}

// NewRegistry creates a registry over the given backend.
func NewRegistry(backend Backend) *Registry {
	cache, _ := lru.New[cacheKey, types.DeviceInfo](infoCacheSize)
	return &Registry{
		backend:   backend,
		devices:   make(map[string]*managedDevice),
		infoCache: cache,
	}
}

func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

func (r *Registry) SetSink(s EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = s
}

// Enumerate rescans the backend, reconciles against the known set, emits
// device_added/device_removed notifications and returns the new snapshot.
func (r *Registry) Enumerate() ([]types.DeviceInfo, error) {
	paths, err := r.backend.ScanPaths()
	if err != nil {
		return nil, types.NewError(types.KindIOError, "device scan failed: %v", err)
	}

	r.mu.Lock()

	seen := make(map[string]bool, len(paths))
	var added []types.DeviceInfo
	for _, path := range paths {
		info, err := r.describeCached(path)
		if err != nil {
			utils.Verbose("Skipping %s: %v", path, err)
			continue
		}
		seen[info.ID] = true

		if dev, exists := r.devices[info.ID]; exists {
			if dev.info.Rdev != info.Rdev {
				// a different device took over the node; adopt its
				// identity, keeping the current grab state
				state := dev.info.State
				dev.info = info
				dev.info.State = state
			}
			continue
		}
		r.devices[info.ID] = &managedDevice{info: info}
		added = append(added, info)
	}

	var removed, lost []string
	for id, dev := range r.devices {
		if seen[id] {
			continue
		}
		if dev.handle != nil {
			// the node vanished while grabbed; the sink must learn about
			// it so an in-progress recording aborts
			r.stopCaptureLocked(dev)
			lost = append(lost, id)
		}
		delete(r.devices, id)
		r.infoCache.Remove(cacheKey{path: dev.info.Path, rdev: dev.info.Rdev})
		removed = append(removed, id)
	}

	snapshot := r.snapshotLocked()
	notifier := r.notifier
	sink := r.sink
	r.mu.Unlock()

	if notifier != nil {
		for _, info := range added {
			utils.Info("Device added: %s (%s)", info.ID, info.Name)
			notifier.Notify(types.NotifyDeviceAdded, types.DeviceAddedParams{Device: info})
		}
		for _, id := range removed {
			utils.Info("Device removed: %s", id)
			notifier.Notify(types.NotifyDeviceRemoved, types.DeviceRemovedParams{DeviceID: id})
		}
	}
	if sink != nil {
		for _, id := range lost {
			sink.HandleCaptureLoss(id, types.NewError(types.KindDisconnected, "device disconnected: %s", id))
		}
	}

	return snapshot, nil
}

// List returns the current snapshot without rescanning.
func (r *Registry) List() []types.DeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Grab claims the device exclusively for owner and starts its capture.
// While grabbed, the kernel suppresses the device's events for every
// other consumer on the host.
func (r *Registry) Grab(id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return types.NewError(types.KindNotFound, "device not found: %s", id)
	}
	if dev.handle != nil {
		return types.NewError(types.KindAlreadyGrabbed, "device %s is already grabbed", id)
	}

	handle, err := r.backend.Open(dev.info.Path)
	if err != nil {
		return mapGrabError(id, err)
	}

	if err := handle.Grab(); err != nil {
		_ = handle.Close()
		return mapGrabError(id, err)
	}

	dev.handle = handle
	dev.owner = owner
	dev.info.State = types.DeviceStateGrabbed
	dev.capture = newCapture(id, handle)
	go r.pump(dev.capture)

	utils.Info("Grabbed device %s for client %s", id, owner)
	return nil
}

// Release returns the device to the free state. Releasing a free device
// is a no-op.
func (r *Registry) Release(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return types.NewError(types.KindNotFound, "device not found: %s", id)
	}
	if dev.handle == nil {
		return nil
	}

	r.stopCaptureLocked(dev)
	utils.Info("Released device %s", id)
	return nil
}

// ReleaseOwner releases every grab held on behalf of a disconnected
// client, so no orphaned grabs survive.
func (r *Registry) ReleaseOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, dev := range r.devices {
		if dev.handle != nil && dev.owner == owner {
			r.stopCaptureLocked(dev)
			utils.Info("Released device %s (client %s disconnected)", id, owner)
		}
	}
}

// Shutdown releases all grabs.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dev := range r.devices {
		if dev.handle != nil {
			r.stopCaptureLocked(dev)
		}
	}
	return nil
}

// pump forwards one capture's events to the sink and handles its end.
func (r *Registry) pump(c *Capture) {
	for ev := range c.Events() {
		r.mu.Lock()
		sink := r.sink
		r.mu.Unlock()
		if sink != nil {
			sink.HandleEvent(ev)
		}
	}

	<-c.Done()
	if err := c.Err(); err != nil {
		r.captureLost(c.deviceID, err)
	}
}

// captureLost handles a capture that ended while the device was still
// grabbed: the node is gone or unreadable.
func (r *Registry) captureLost(id string, err error) {
	r.mu.Lock()
	dev, ok := r.devices[id]
	if !ok || dev.handle == nil {
		r.mu.Unlock()
		return
	}
	_ = dev.handle.Close()
	dev.handle = nil
	dev.owner = ""
	dev.capture = nil
	dev.info.State = types.DeviceStateFree

	disconnected := types.KindOf(err) == types.KindDisconnected
	if disconnected {
		delete(r.devices, id)
		r.infoCache.Remove(cacheKey{path: dev.info.Path, rdev: dev.info.Rdev})
	}
	notifier := r.notifier
	sink := r.sink
	r.mu.Unlock()

	utils.Warn("Capture on %s ended: %v", id, err)
	if disconnected && notifier != nil {
		notifier.Notify(types.NotifyDeviceRemoved, types.DeviceRemovedParams{DeviceID: id})
	}
	if sink != nil {
		sink.HandleCaptureLoss(id, err)
	}
}

func (r *Registry) stopCaptureLocked(dev *managedDevice) {
	// ungrab first so events flow to the rest of the system again even
	// if close is slow; closing unblocks the pending read
	_ = dev.handle.Ungrab()
	_ = dev.handle.Close()
	dev.handle = nil
	dev.owner = ""
	dev.capture = nil
	dev.info.State = types.DeviceStateFree
}

func (r *Registry) describeCached(path string) (types.DeviceInfo, error) {
	rdev, err := r.backend.Rdev(path)
	if err != nil {
		return types.DeviceInfo{}, err
	}
	key := cacheKey{path: path, rdev: rdev}
	if info, ok := r.infoCache.Get(key); ok {
		return info, nil
	}
	info, err := r.backend.Describe(path)
	if err != nil {
		return types.DeviceInfo{}, err
	}
	info.Rdev = rdev
	r.infoCache.Add(key, info)
	return info, nil
}

func (r *Registry) snapshotLocked() []types.DeviceInfo {
	snapshot := make([]types.DeviceInfo, 0, len(r.devices))
	for _, dev := range r.devices {
		snapshot = append(snapshot, dev.info)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ID < snapshot[j].ID
	})
	return snapshot
}

func mapGrabError(id string, err error) error {
	switch {
	case errors.Is(err, unix.EBUSY):
		return types.NewError(types.KindAlreadyGrabbed, "device %s is grabbed by another process", id)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return types.NewError(types.KindPermissionDenied, "permission denied grabbing %s", id)
	case errors.Is(err, unix.ENODEV), errors.Is(err, os.ErrNotExist):
		return types.NewError(types.KindNotFound, "device vanished: %s", id)
	default:
		return types.NewError(types.KindIOError, "failed to grab %s: %v", id, err)
	}
}
