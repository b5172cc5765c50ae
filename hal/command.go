package hal

import "time"

// CommandPool allocates command buffers for a single queue family
type CommandPool interface {
	QueueFamily() int
	AllocateCommandBuffer() (CommandBuffer, error)
	Reset() error
	Destroy()
}

// CommandBuffer records commands for later submission to a Queue of its pool's family
type CommandBuffer interface {
	Begin() error
	End() error
	Reset() error

	PipelineBarrier(dependency DependencyInfo)
	CopyBuffer(src Buffer, dst Buffer, regions []BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, dstLayout ImageLayout, regions []BufferImageCopy)
}

type Fence interface {
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStageFlags
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type Queue interface {
	Family() int
	// Submit queues command buffers for execution. fence may be nil, and is signaled once
	// every submitted command buffer has completed.
	Submit(submits []SubmitInfo, fence Fence) error
}

// QueueFamilies are the family indices of the queues a Device hands out
type QueueFamilies struct {
	Graphics int
	Transfer int
}

// Device is an explicit graphics device with a graphics queue and a transfer queue. The two may
// belong to the same family on hardware without a dedicated transfer family.
type Device interface {
	MemoryDevice

	QueueFamilies() QueueFamilies
	GraphicsQueue() Queue
	TransferQueue() Queue

	CreateBuffer(info BufferCreateInfo) (Buffer, error)
	CreateImage(info ImageCreateInfo) (Image, error)
	CreateCommandPool(queueFamily int) (CommandPool, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)

	// WaitForFences blocks until every fence is signaled. It returns an error marked ErrTimeout if
	// timeout passes first.
	WaitForFences(fences []Fence, timeout time.Duration) error
	ResetFences(fences []Fence) error
	WaitIdle() error
}
