//go:build linux

package codealloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMmapAllocatorAllocSliceRoundTrip(t *testing.T) {
	a := NewMmapAllocator()
	s, err := a.AllocSlice()
	require.NoError(t, err)
	require.NotZero(t, s.Addr())
	require.Equal(t, pageSize, s.Size())

	s.Bytes()[0] = 0xff
	require.Equal(t, byte(0xff), s.Bytes()[0])

	a.FreeSlice(s)
}

func TestMmapAllocatorTryAllocSliceNearStaysWithinMaxDistance(t *testing.T) {
	a := NewMmapAllocator()
	anchor, err := a.AllocSlice()
	require.NoError(t, err)
	defer a.FreeSlice(anchor)

	near, err := a.TryAllocSliceNear(AddressSpec{NearAddress: anchor.Addr(), MaxDistance: 128 << 20}, pageSize)
	require.NoError(t, err)
	require.NotNil(t, near)
	require.LessOrEqual(t, distance(near.Addr(), anchor.Addr()), uint64(128<<20))
	a.FreeSlice(near)
}

func TestMmapAllocatorSharedDeflectorsPackIntoOnePage(t *testing.T) {
	a := NewMmapAllocator().(*mmapAllocator)
	anchor, err := a.AllocSlice()
	require.NoError(t, err)
	defer a.FreeSlice(anchor)

	spec := AddressSpec{NearAddress: anchor.Addr(), MaxDistance: 128 << 20}
	d1, err := a.AllocDeflector(spec, 0, 0x1000, false)
	require.NoError(t, err)
	require.NotNil(t, d1)

	d2, err := a.AllocDeflector(spec, 0, 0x2000, false)
	require.NoError(t, err)
	require.NotEqual(t, d1.Trampoline, d2.Trampoline, "each shared deflector gets its own stub address")
	require.Equal(t, d1.Trampoline&^uintptr(pageSize-1), d2.Trampoline&^uintptr(pageSize-1),
		"non-dedicated deflectors for nearby callers should share a backing page")
}

func TestMmapAllocatorDedicatedDeflectorIsNotShared(t *testing.T) {
	a := NewMmapAllocator().(*mmapAllocator)
	anchor, err := a.AllocSlice()
	require.NoError(t, err)
	defer a.FreeSlice(anchor)

	spec := AddressSpec{NearAddress: anchor.Addr(), MaxDistance: 128 << 20}
	d1, err := a.AllocDeflector(spec, 0, 0x1000, true)
	require.NoError(t, err)
	d2, err := a.AllocDeflector(spec, 0, 0x2000, true)
	require.NoError(t, err)
	require.NotEqual(t, d1.Trampoline, d2.Trampoline)
}
