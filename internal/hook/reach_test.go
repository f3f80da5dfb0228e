package hook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oleavr/arm64interceptor/internal/arm64enc"
	"github.com/oleavr/arm64interceptor/internal/codealloc"
)

func nopFunctionBytes(n int, terminator uint32) []byte {
	instrs := make([]uint32, 0, n+1)
	for i := 0; i < n; i++ {
		instrs = append(instrs, arm64enc.EncodeNop())
	}
	instrs = append(instrs, terminator)
	buf := make([]byte, 4*len(instrs))
	for i, v := range instrs {
		buf[i*4] = byte(v)
		buf[i*4+1] = byte(v >> 8)
		buf[i*4+2] = byte(v >> 16)
		buf[i*4+3] = byte(v >> 24)
	}
	return buf
}

func TestPlanReachChoosesSixteenByteFormWhenFullyRelocatable(t *testing.T) {
	const fn = uintptr(0x8000)
	src := arm64enc.SliceReader{Base: fn, Data: nopFunctionBytes(6, arm64enc.EncodeRet(arm64enc.LR))}

	alloc := &codealloc.FakeAllocator{}
	plan, slice, err := planReach(alloc, src, fn)
	require.NoError(t, err)
	require.NotNil(t, slice)
	require.Equal(t, 16, plan.redirectCodeSize)
	require.False(t, plan.needDeflector)
	require.NotEqual(t, arm64enc.RegInvalid, plan.scratchReg)
}

func TestPlanReachFallsBackToDeflectorWhenNoSliceNearby(t *testing.T) {
	const fn = uintptr(0x9000)
	// Only one relocatable instruction before a BR X0 (unsupported) — caps
	// the redirect at 4 bytes.
	src := arm64enc.SliceReader{
		Base: fn,
		Data: rawInstrBytes(arm64enc.EncodeNop(), arm64enc.EncodeBr(arm64enc.X0)),
	}

	alloc := &codealloc.FakeAllocator{DenyNear: true}
	plan, slice, err := planReach(alloc, src, fn)
	require.NoError(t, err)
	require.NotNil(t, slice)
	require.Equal(t, 4, plan.redirectCodeSize)
	require.True(t, plan.needDeflector)
}

func TestPlanReachFailsWhenEveryScratchCandidateIsTouched(t *testing.T) {
	const fn = uintptr(0xa000)
	// The relocator's register extraction is a conservative, field-based
	// approximation (see Insn.TouchedRegs' doc comment) rather than true
	// per-instruction semantics, so a handful of MOVZ words can be packed
	// to touch all seven scratch candidates (X9..X15) within the 16-byte
	// relocation window (4 instructions), leaving pickScratchReg nothing
	// to hand out.
	instrs := []uint32{
		arm64enc.EncodeMovz(arm64enc.X9, (11<<11)|10, 0),  // touches X9, X10, X11
		arm64enc.EncodeMovz(arm64enc.X12, (14<<11)|13, 0), // touches X12, X13, X14
		arm64enc.EncodeMovz(arm64enc.X15, 0, 0),           // touches X15
		arm64enc.EncodeMovz(arm64enc.X0, 0, 0),            // filler, fourth word
	}
	src := arm64enc.SliceReader{Base: fn, Data: rawInstrBytes(instrs...)}

	alloc := &codealloc.FakeAllocator{}
	_, _, err := planReach(alloc, src, fn)
	require.ErrorIs(t, err, ErrUnhookable)
}

func rawInstrBytes(instrs ...uint32) []byte {
	buf := make([]byte, 4*len(instrs))
	for i, v := range instrs {
		buf[i*4] = byte(v)
		buf[i*4+1] = byte(v >> 8)
		buf[i*4+2] = byte(v >> 16)
		buf[i*4+3] = byte(v >> 24)
	}
	return buf
}
