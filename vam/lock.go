package vam

import "sync"

// optionalRWMutex guards allocator state unless the allocator was created with
// AllocatorCreateExternallySynchronized, in which case every call is a no-op
type optionalRWMutex struct {
	mutex   sync.RWMutex
	enabled bool
}

func (m *optionalRWMutex) Lock() {
	if m.enabled {
		m.mutex.Lock()
	}
}

func (m *optionalRWMutex) Unlock() {
	if m.enabled {
		m.mutex.Unlock()
	}
}

func (m *optionalRWMutex) RLock() {
	if m.enabled {
		m.mutex.RLock()
	}
}

func (m *optionalRWMutex) RUnlock() {
	if m.enabled {
		m.mutex.RUnlock()
	}
}
