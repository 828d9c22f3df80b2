package device

import (
	"sync"

	"hendkernel/kernel"
)

// Manager is the kernel-wide device registry. A single instance is owned
// by the boot context (spec.md's REDESIGN FLAGS calls for a kernel
// context record rather than fixed-address global state) and handed to
// every subsystem that creates or looks up devices (vcon, blockdev, the
// syscall dispatcher's open("/dev/...") path).
type Manager struct {
	mu      sync.Mutex
	nextID  uint32
	devices map[uint32]*Device
}

// NewManager constructs an empty registry.
func NewManager() *Manager {
	return &Manager{devices: map[uint32]*Device{}}
}

// Create allocates a fresh device ID, registers a new Device owned by
// owner, and returns it.
func (m *Manager) Create(owner uint32) *Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d := newDevice(m.nextID, owner)
	m.devices[d.ID] = d
	return d
}

// Lookup returns the device registered under id.
func (m *Manager) Lookup(id uint32) (*Device, *kernel.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrNoSuchDevice
	}
	return d, nil
}
