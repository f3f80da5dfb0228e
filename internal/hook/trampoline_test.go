package hook

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/oleavr/arm64interceptor/internal/arm64enc"
	"github.com/oleavr/arm64interceptor/internal/codealloc"
)

// fakeCallbacks is a no-op Callbacks implementation; CreateTrampoline only
// stores the value, it never invokes it (that only happens once a hooked
// function is actually called through the emitted thunks).
type fakeCallbacks struct{}

func (fakeCallbacks) BeginInvocation(*FunctionContext, *CpuContextView, *uint64, *uintptr) {}
func (fakeCallbacks) EndInvocation(*FunctionContext, *CpuContextView, *uintptr)             {}

// newTestBackend builds a Backend whose thunk slots are real (fake-
// allocator-backed) addresses but skips NewBackend's purego.NewCallback
// wiring, since these tests only exercise trampoline bookkeeping, never
// actually transfer control into emitted code.
func newTestBackend(t *testing.T, alloc codealloc.Allocator, reader arm64enc.Reader) *Backend {
	t.Helper()
	enter, err := alloc.AllocSlice()
	require.NoError(t, err)
	leave, err := alloc.AllocSlice()
	require.NoError(t, err)
	return &Backend{
		alloc:      alloc,
		reader:     reader,
		relocator:  arm64enc.NewRelocator(reader),
		enterThunk: enter,
		leaveThunk: leave,
	}
}

// realFunctionReader backs both the relocator's view of a candidate
// function and copyOriginalBytes' raw in-process read with the same real,
// addressable (though never executed) Go memory, so the two agree the way
// they would for an actual in-process hook target.
func realFunctionReader(code []byte) (arm64enc.Reader, uintptr) {
	addr := uintptr(unsafe.Pointer(&code[0]))
	return arm64enc.SliceReader{Base: addr, Data: code}, addr
}

func TestCreateTrampolineSixteenByteRedirectNoDeflector(t *testing.T) {
	code := nopFunctionBytes(6, arm64enc.EncodeRet(arm64enc.LR))
	reader, addr := realFunctionReader(code)

	alloc := &codealloc.FakeAllocator{}
	b := newTestBackend(t, alloc, reader)

	ctx := NewFunctionContext(addr)
	err := b.CreateTrampoline(ctx, fakeCallbacks{})
	require.NoError(t, err)

	require.NotNil(t, ctx.TrampolineSlice)
	require.Nil(t, ctx.TrampolineDeflector)
	require.Equal(t, 16, ctx.OverwrittenPrologueLen)
	require.Equal(t, code[:16], ctx.OverwrittenPrologue[:16])

	require.NotZero(t, ctx.OnEnterTrampoline)
	require.Greater(t, ctx.OnLeaveTrampoline, ctx.OnEnterTrampoline)
	require.Greater(t, ctx.OnInvokeTrampoline, ctx.OnLeaveTrampoline)

	b.DestroyTrampoline(ctx)
	require.Nil(t, ctx.TrampolineSlice)
	require.Nil(t, ctx.TrampolineDeflector)
	require.Zero(t, ctx.handle)
}

func TestCreateTrampolineFourByteRedirectUsesDedicatedDeflector(t *testing.T) {
	// One relocatable NOP, then an opaque BR X0: caps the redirect at
	// 4 bytes, and denying near-placement forces the dedicated-deflector
	// fallback path.
	code := rawInstrBytes(arm64enc.EncodeNop(), arm64enc.EncodeBr(arm64enc.X0))
	reader, addr := realFunctionReader(code)

	alloc := &codealloc.FakeAllocator{DenyNear: true}
	b := newTestBackend(t, alloc, reader)

	ctx := NewFunctionContext(addr)
	err := b.CreateTrampoline(ctx, fakeCallbacks{})
	require.NoError(t, err)

	require.NotNil(t, ctx.TrampolineDeflector)
	require.Equal(t, 4, ctx.backendData.redirectCodeSize)
	require.Equal(t, 4, ctx.OverwrittenPrologueLen)

	b.DestroyTrampoline(ctx)
}

func TestActivateTrampolineSixteenByteFormWritesLiteralPoolRedirect(t *testing.T) {
	code := nopFunctionBytes(6, arm64enc.EncodeRet(arm64enc.LR))
	reader, addr := realFunctionReader(code)

	alloc := &codealloc.FakeAllocator{}
	b := newTestBackend(t, alloc, reader)

	ctx := NewFunctionContext(addr)
	require.NoError(t, b.CreateTrampoline(ctx, fakeCallbacks{}))

	prologue := make([]byte, 16)
	b.ActivateTrampoline(ctx, prologue)

	ldr := arm64enc.SliceReader{Base: addr, Data: prologue}
	w1, err := ldr.ReadUint32(addr)
	require.NoError(t, err)
	require.Equal(t, arm64enc.EncodeLdrLitX64(arm64enc.X16, 8), w1)

	w2, err := ldr.ReadUint32(addr + 4)
	require.NoError(t, err)
	require.Equal(t, arm64enc.EncodeBr(arm64enc.X16), w2)

	literal := uintptr(0)
	for i := 0; i < 8; i++ {
		literal |= uintptr(prologue[8+i]) << (8 * i)
	}
	require.Equal(t, ctx.OnEnterTrampoline, literal)

	b.DeactivateTrampoline(ctx, prologue)
	require.Equal(t, code[:16], prologue)

	b.DestroyTrampoline(ctx)
}
