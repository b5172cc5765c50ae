package mocks

import (
	"github.com/vkngwrapper/freight/hal"
	"go.uber.org/mock/gomock"
)

// EasyMockMemoryDevice returns a MockMemoryDevice that reports the provided memory properties
// and limits any number of times. Allocation and binding expectations are left to the caller.
func EasyMockMemoryDevice(ctrl *gomock.Controller, properties hal.MemoryProperties, limits hal.Limits) *MockMemoryDevice {
	device := NewMockMemoryDevice(ctrl)
	device.EXPECT().MemoryProperties().Return(properties).AnyTimes()
	device.EXPECT().Limits().Return(limits).AnyTimes()
	return device
}

// EasyMockDeviceMemory returns a MockDeviceMemory of the provided size. If data is non-nil, Map
// returns it any number of times.
func EasyMockDeviceMemory(ctrl *gomock.Controller, size int, data []byte) *MockDeviceMemory {
	memory := NewMockDeviceMemory(ctrl)
	memory.EXPECT().Size().Return(size).AnyTimes()
	if data != nil {
		memory.EXPECT().Map().Return(data, nil).AnyTimes()
		memory.EXPECT().Unmap().AnyTimes()
	}
	return memory
}

// EasyMockBuffer returns a MockBuffer with the provided size, usage and memory requirements
func EasyMockBuffer(ctrl *gomock.Controller, usage hal.BufferUsageFlags, requirements hal.MemoryRequirements) *MockBuffer {
	buffer := NewMockBuffer(ctrl)
	buffer.EXPECT().Size().Return(requirements.Size).AnyTimes()
	buffer.EXPECT().Usage().Return(usage).AnyTimes()
	buffer.EXPECT().MemoryRequirements().Return(requirements).AnyTimes()
	return buffer
}

// EasyMockImage returns a MockImage with the provided extent, format and memory requirements
func EasyMockImage(ctrl *gomock.Controller, extent hal.Extent3D, format hal.Format, requirements hal.MemoryRequirements) *MockImage {
	image := NewMockImage(ctrl)
	image.EXPECT().Extent().Return(extent).AnyTimes()
	image.EXPECT().Format().Return(format).AnyTimes()
	image.EXPECT().MemoryRequirements().Return(requirements).AnyTimes()
	return image
}
