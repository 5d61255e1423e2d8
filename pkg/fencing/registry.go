package fencing

import (
	"sort"
	"sync"

	"github.com/nodequorum/controld/pkg/types"
)

// Registry holds the cluster's configured fencing devices.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*types.Device
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*types.Device)}
}

// Register adds or replaces a device definition.
func (r *Registry) Register(dev *types.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[dev.ID] = dev
}

// Unregister removes a device by ID.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
}

// Get returns the device with the given ID.
func (r *Registry) Get(id string) (*types.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[id]
	return dev, ok
}

// CapableDevices returns every registered device that can fence target,
// ordered from highest to lowest priority (matching the st_rhcs query
// ordering so the coordinator tries the most specific device first).
func (r *Registry) CapableDevices(target string) []*types.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	capable := make([]*types.Device, 0, len(r.devices))
	for _, dev := range r.devices {
		if canFence(dev, target) {
			capable = append(capable, dev)
		}
	}
	sort.Slice(capable, func(i, j int) bool { return capable[i].Priority > capable[j].Priority })
	return capable
}

// List returns every registered device.
func (r *Registry) List() []*types.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]*types.Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, dev)
	}
	return devices
}
