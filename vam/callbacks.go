package vam

import "github.com/vkngwrapper/freight/hal"

// DeviceMemoryEvent describes one device memory allocation or free made by an Allocator
type DeviceMemoryEvent struct {
	Allocator  *Allocator
	MemoryType int
	Memory     hal.DeviceMemory
	Size       int
	// UserData is MemoryCallbackOptions.UserData, unchanged
	UserData interface{}
}

type DeviceMemoryCallback func(event DeviceMemoryEvent)

// MemoryCallbackOptions lets a consumer observe every device memory allocation and free.
// Suballocating from an existing block calls neither. Free is called before the memory
// is released, so event.Memory is still valid inside it.
type MemoryCallbackOptions struct {
	Allocate DeviceMemoryCallback
	Free     DeviceMemoryCallback
	UserData interface{}
}

// memoryCallbacks binds MemoryCallbackOptions to the allocator that reports through it.
// A nil *memoryCallbacks or nil options report nothing.
type memoryCallbacks struct {
	options   *MemoryCallbackOptions
	allocator *Allocator
}

func newMemoryCallbacks(allocator *Allocator, options *MemoryCallbackOptions) *memoryCallbacks {
	if options == nil || (options.Allocate == nil && options.Free == nil) {
		return nil
	}
	return &memoryCallbacks{options: options, allocator: allocator}
}

func (c *memoryCallbacks) allocated(memoryType int, memory hal.DeviceMemory, size int) {
	if c != nil {
		c.report(c.options.Allocate, memoryType, memory, size)
	}
}

func (c *memoryCallbacks) freed(memoryType int, memory hal.DeviceMemory, size int) {
	if c != nil {
		c.report(c.options.Free, memoryType, memory, size)
	}
}

func (c *memoryCallbacks) report(callback DeviceMemoryCallback, memoryType int, memory hal.DeviceMemory, size int) {
	if callback == nil {
		return
	}
	callback(DeviceMemoryEvent{
		Allocator:  c.allocator,
		MemoryType: memoryType,
		Memory:     memory,
		Size:       size,
		UserData:   c.options.UserData,
	})
}
