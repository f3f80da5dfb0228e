package hook

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestCpuContextViewRoundTripsScalarFields(t *testing.T) {
	frame := make([]byte, frameSize)
	c := newCpuContextView(frame)

	c.SetX(0, 0x1111)
	c.SetX(1, 0x2222)
	c.SetX(28, 0x3333)
	c.SetLR(0x4444)

	require.Equal(t, uint64(0x1111), c.X(0))
	require.Equal(t, uint64(0x2222), c.X(1))
	require.Equal(t, uint64(0x3333), c.X(28))
	require.Equal(t, uint64(0x4444), c.LR())
}

func TestCpuContextViewQPairsDoNotOverlapOtherFields(t *testing.T) {
	frame := make([]byte, frameSize)
	c := newCpuContextView(frame)

	// Every even n in [0,6] addresses a distinct, in-bounds 32-byte region
	// that never collides with the GPR/FP/LR slots above it.
	seen := map[int]bool{}
	for n := 0; n <= 6; n += 2 {
		off := offQPair(n)
		require.False(t, seen[off], "offQPair(%d) collided with a prior pair", n)
		seen[off] = true
		require.GreaterOrEqual(t, off, offFP+16)
		require.LessOrEqual(t, off+32, frameSize)
	}

	c.setU64(offQPair(0), 0xaaaa)
	c.setU64(offQPair(0)+8, 0xbbbb)
	lo, hi := c.Q(0)
	require.Equal(t, uint64(0xaaaa), lo)
	require.Equal(t, uint64(0xbbbb), hi)

	c.setU64(offQPair(0)+16, 0xcccc)
	lo, hi = c.Q(1)
	require.Equal(t, uint64(0xcccc), lo)
}

func TestCpuContextViewOffXStaysWithinBounds(t *testing.T) {
	for n := 1; n <= 28; n++ {
		off := offX(n)
		require.GreaterOrEqual(t, off, offX0)
		require.LessOrEqual(t, off+8, offFP)
	}
}

func TestNextHopOffsetSurvivesRawPointerRoundTrip(t *testing.T) {
	frame := make([]byte, frameSize)
	addr := uintptr(unsafe.Pointer(&frame[0]))

	setNextHop(addr+uintptr(nextHopOffset), 0xdeadbeef)
	got := *(*uintptr)(unsafe.Pointer(addr + uintptr(nextHopOffset)))
	require.Equal(t, uintptr(0xdeadbeef), got)
}
