package upload

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/freight/hal"
	"github.com/vkngwrapper/freight/hal/soft"
	"github.com/vkngwrapper/freight/vam"
)

func readyPool(t *testing.T, deviceOptions soft.DeviceOptions, options PoolOptions) (*soft.Device, *vam.Allocator, *StagingPool) {
	device := soft.NewDevice(nil, deviceOptions)
	allocator, err := vam.New(nil, device, vam.CreateOptions{})
	require.NoError(t, err)

	return device, allocator, NewStagingPool(nil, device, allocator, options)
}

func TestStagingPoolNextAllocatesRetainedSize(t *testing.T) {
	_, allocator, pool := readyPool(t, soft.DeviceOptions{}, PoolOptions{Size: 10, Retention: 2, RetainedSize: 1024})

	small, err := pool.Next(100)
	require.NoError(t, err)
	require.Equal(t, 1024, small.Capacity())
	require.Equal(t, 1024, small.Buffer().Size())
	require.Equal(t, 2, small.Expires())
	require.Equal(t, 1, small.References())
	require.Equal(t, hal.BufferUsageTransferSrc, small.Buffer().Usage())
	require.Equal(t, vam.MemoryLocationCpuToGpu, allocator.Location(small.Handle()))

	large, err := pool.Next(5000)
	require.NoError(t, err)
	require.Equal(t, 5000, large.Capacity())
	require.Equal(t, 2, pool.Len())

	small.Release()
	large.Release()
	require.NoError(t, pool.Destroy())
	require.Zero(t, allocator.AllocationCount())
	require.NoError(t, allocator.Destroy())
}

func TestStagingPoolReusesExpiredBuffers(t *testing.T) {
	_, allocator, pool := readyPool(t, soft.DeviceOptions{}, PoolOptions{Size: 10, Retention: 2, RetainedSize: 1024})

	first, err := pool.Next(100)
	require.NoError(t, err)
	first.Release()

	// Released, but still claimed through frame 2
	second, err := pool.Next(100)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	second.Release()

	require.NoError(t, pool.Update())
	require.NoError(t, pool.Update())
	require.NoError(t, pool.Update())
	require.Equal(t, 3, pool.Frame())

	reused, err := pool.Next(1024)
	require.NoError(t, err)
	require.Same(t, first, reused)
	require.Equal(t, 5, reused.Expires())
	require.Equal(t, 2, pool.Len())

	// Nothing in the pool is large enough
	larger, err := pool.Next(1025)
	require.NoError(t, err)
	require.NotSame(t, second, larger)
	require.Equal(t, 3, pool.Len())

	reused.Release()
	larger.Release()
	require.NoError(t, pool.Destroy())
	require.NoError(t, allocator.Destroy())
}

func TestStagingPoolKeepsReferencedBuffers(t *testing.T) {
	_, allocator, pool := readyPool(t, soft.DeviceOptions{}, PoolOptions{Size: 0, Retention: 1, RetainedSize: 1024})

	held, err := pool.Next(100)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Update())
		require.Equal(t, 1, pool.Len())
	}

	other, err := pool.Next(100)
	require.NoError(t, err)
	require.NotSame(t, held, other)
	other.Release()

	held.Release()
	require.NoError(t, pool.Update())
	require.NoError(t, pool.Update())
	require.NoError(t, pool.Update())
	require.Zero(t, pool.Len())
	require.Zero(t, allocator.AllocationCount())
}

func TestStagingPoolEvictsOversizedFirst(t *testing.T) {
	device, allocator, pool := readyPool(t, soft.DeviceOptions{}, PoolOptions{Size: 2, Retention: 2, RetainedSize: 1024})

	big, err := pool.Next(4096)
	require.NoError(t, err)
	first, err := pool.Next(100)
	require.NoError(t, err)
	second, err := pool.Next(100)
	require.NoError(t, err)
	third, err := pool.Next(100)
	require.NoError(t, err)

	for _, buffer := range []*StagingBuffer{big, first, second, third} {
		buffer.Release()
	}

	require.NoError(t, pool.Update())
	require.NoError(t, pool.Update())
	require.Equal(t, 4, pool.Len())

	require.NoError(t, pool.Update())
	require.Equal(t, []*StagingBuffer{first, second}, pool.buffers)
	require.Equal(t, 2, allocator.AllocationCount())
	require.Equal(t, 2, device.LiveObjects("buffer"))

	require.NoError(t, pool.Destroy())
	require.Zero(t, device.LiveObjects("buffer"))
	require.NoError(t, allocator.Destroy())
}

func TestStagingPoolUpdateDeallocatesEveryDroppedBuffer(t *testing.T) {
	device, allocator, pool := readyPool(t, soft.DeviceOptions{}, PoolOptions{Size: 1, Retention: 1, RetainedSize: 1024})

	var buffers []*StagingBuffer
	for i := 0; i < 6; i++ {
		buffer, err := pool.Next(512 * (i + 1))
		require.NoError(t, err)
		buffers = append(buffers, buffer)
	}
	for _, buffer := range buffers {
		buffer.Release()
	}

	require.NoError(t, pool.Update())
	require.NoError(t, pool.Update())
	require.Equal(t, 1, pool.Len())
	require.Equal(t, 1, allocator.AllocationCount())
	require.Equal(t, 1, device.LiveObjects("buffer"))

	require.NoError(t, pool.Destroy())
	require.NoError(t, allocator.Destroy())
}

func TestStagingPoolOutOfMemory(t *testing.T) {
	options := soft.DefaultDeviceOptions()
	options.MemoryProperties.MemoryHeaps[1].Size = 4096
	device, allocator, pool := readyPool(t, options, PoolOptions{Size: 10, Retention: 2, RetainedSize: 1024})

	_, err := pool.Next(8192)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOutOfMemory))
	require.False(t, hal.IsDeviceError(err))
	require.Zero(t, device.LiveObjects("buffer"))
	require.Zero(t, pool.Len())

	// Smaller requests still fit
	buffer, err := pool.Next(100)
	require.NoError(t, err)
	buffer.Release()

	require.NoError(t, pool.Destroy())
	require.NoError(t, allocator.Destroy())
}

func TestStagingPoolRejectsEmptyRequests(t *testing.T) {
	_, _, pool := readyPool(t, soft.DeviceOptions{}, PoolOptions{Size: 10, Retention: 2, RetainedSize: 1024})

	_, err := pool.Next(0)
	require.Error(t, err)
	require.Zero(t, pool.Len())
}

func TestStagingBufferOverReleasePanics(t *testing.T) {
	_, _, pool := readyPool(t, soft.DeviceOptions{}, PoolOptions{Size: 10, Retention: 2, RetainedSize: 1024})

	buffer, err := pool.Next(10)
	require.NoError(t, err)
	buffer.Release()

	require.Panics(t, func() {
		buffer.Release()
	})
}
