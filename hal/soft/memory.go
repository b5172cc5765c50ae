package soft

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freight/hal"
)

// DeviceMemory is a single soft allocation backed by a byte slice
type DeviceMemory struct {
	device          *Device
	memoryTypeIndex int
	hostVisible     bool
	mapped          bool
	freed           bool
	data            []byte
}

var _ hal.DeviceMemory = &DeviceMemory{}

func (m *DeviceMemory) Size() int {
	return len(m.data)
}

func (m *DeviceMemory) Map() ([]byte, error) {
	m.device.lock.Lock()
	defer m.device.lock.Unlock()

	if m.freed {
		panic("attempted to map freed memory")
	}
	if !m.hostVisible {
		return nil, errors.Mark(errors.Newf("memory type %d is not host visible", m.memoryTypeIndex), hal.ErrValidation)
	}
	if m.mapped {
		return nil, errors.Mark(errors.New("memory is already mapped"), hal.ErrValidation)
	}

	m.mapped = true
	return m.data, nil
}

func (m *DeviceMemory) Unmap() {
	m.device.lock.Lock()
	defer m.device.lock.Unlock()

	if !m.mapped {
		panic("attempted to unmap memory that is not mapped")
	}
	m.mapped = false
}

func (m *DeviceMemory) Free() {
	m.device.lock.Lock()
	defer m.device.lock.Unlock()

	if m.freed {
		panic(fmt.Sprintf("attempted to free memory of type %d twice", m.memoryTypeIndex))
	}

	heapIndex := m.device.options.MemoryProperties.MemoryTypes[m.memoryTypeIndex].HeapIndex
	m.device.heapUsage[heapIndex] -= len(m.data)
	m.device.track("memory", -1)

	m.freed = true
	m.mapped = false
	m.data = nil
}
