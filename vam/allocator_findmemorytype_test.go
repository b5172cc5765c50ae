package vam

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/freight/hal"
	"go.uber.org/mock/gomock"
)

var integratedSetup = AllocatorSetup{
	MemoryTypes: []hal.MemoryType{
		{PropertyFlags: hal.MemoryPropertyDeviceLocal, HeapIndex: 0},
		{PropertyFlags: hal.MemoryPropertyHostVisible | hal.MemoryPropertyHostCoherent, HeapIndex: 1},
		{PropertyFlags: hal.MemoryPropertyHostVisible | hal.MemoryPropertyHostCoherent | hal.MemoryPropertyHostCached, HeapIndex: 1},
		{PropertyFlags: hal.MemoryPropertyDeviceLocal | hal.MemoryPropertyHostVisible | hal.MemoryPropertyHostCoherent, HeapIndex: 0},
	},
	MemoryHeaps: []hal.MemoryHeap{
		{Size: 4000000, DeviceLocal: true},
		{Size: 4000000},
	},
}

var memoryTypeIndexTestCases = map[string]struct {
	Location       MemoryLocation
	MemoryTypeBits uint32

	ExpectedIndex int
	ExpectedErr   error
}{
	"GpuOnlyPrefersPureDeviceLocal": {
		Location:       MemoryLocationGpuOnly,
		MemoryTypeBits: 0xf,
		ExpectedIndex:  0,
	},
	"GpuOnlyFallsBackToHostVisibleDeviceLocal": {
		Location:       MemoryLocationGpuOnly,
		MemoryTypeBits: 0xe,
		ExpectedIndex:  3,
	},
	"GpuOnlyTakesAnythingAllowed": {
		Location:       MemoryLocationGpuOnly,
		MemoryTypeBits: 0x4,
		ExpectedIndex:  2,
	},
	"CpuToGpuPrefersDeviceLocal": {
		Location:       MemoryLocationCpuToGpu,
		MemoryTypeBits: 0xf,
		ExpectedIndex:  3,
	},
	"CpuToGpuAvoidsCached": {
		Location:       MemoryLocationCpuToGpu,
		MemoryTypeBits: 0x7,
		ExpectedIndex:  1,
	},
	"CpuToGpuAcceptsCached": {
		Location:       MemoryLocationCpuToGpu,
		MemoryTypeBits: 0x5,
		ExpectedIndex:  2,
	},
	"GpuToCpuPrefersCached": {
		Location:       MemoryLocationGpuToCpu,
		MemoryTypeBits: 0xf,
		ExpectedIndex:  2,
	},
	"GpuToCpuWithoutCached": {
		Location:       MemoryLocationGpuToCpu,
		MemoryTypeBits: 0xb,
		ExpectedIndex:  1,
	},
	"CpuToGpuNotHostVisible": {
		Location:       MemoryLocationCpuToGpu,
		MemoryTypeBits: 0x1,
		ExpectedErr:    ErrNoSuitableMemoryType,
	},
	"NoBitsAllowed": {
		Location:       MemoryLocationGpuOnly,
		MemoryTypeBits: 0,
		ExpectedErr:    ErrNoSuitableMemoryType,
	},
	"BitsOutOfRange": {
		Location:       MemoryLocationGpuOnly,
		MemoryTypeBits: 0xf0,
		ExpectedErr:    ErrNoSuitableMemoryType,
	},
}

func TestFindMemoryTypeIndex(t *testing.T) {
	for testName, testCase := range memoryTypeIndexTestCases {
		t.Run(testName, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			_, allocator := readyAllocator(t, ctrl, integratedSetup)

			index, err := allocator.FindMemoryTypeIndex(hal.MemoryRequirements{
				Size:           256,
				Alignment:      1,
				MemoryTypeBits: testCase.MemoryTypeBits,
			}, testCase.Location)

			if testCase.ExpectedErr != nil {
				require.True(t, errors.Is(err, testCase.ExpectedErr))
				require.Equal(t, -1, index)
				return
			}

			require.NoError(t, err)
			require.Equal(t, testCase.ExpectedIndex, index)
			require.NoError(t, allocator.Destroy())
		})
	}
}

func TestFindMemoryTypeIndexUnknownLocation(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, allocator := readyAllocator(t, ctrl, integratedSetup)

	_, err := allocator.FindMemoryTypeIndex(hal.MemoryRequirements{Size: 1, MemoryTypeBits: 0xf}, MemoryLocation(12))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNoSuitableMemoryType))
}
