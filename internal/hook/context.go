package hook

import (
	"github.com/oleavr/arm64interceptor/internal/arm64enc"
	"github.com/oleavr/arm64interceptor/internal/codealloc"
)

// maxPrologueBytes bounds the largest redirect this backend ever writes
// (the 16-byte "load absolute address into X16, BR X16" form), so the
// saved original bytes always fit in a fixed array instead of a slice.
const maxPrologueBytes = 16

// FunctionContext is the per-hooked-function state the interception core
// hands back to its caller and threads through every Backend method.
// Grounded on GumFunctionContext's arm64-relevant fields in
// guminterceptor-arm64.c; the scheduling/threading fields of the real
// GumFunctionContext (replace_count, listener lists) belong to the
// platform-independent interceptor layer this module does not implement
// (see SPEC_FULL.md Non-goals).
type FunctionContext struct {
	FunctionAddress uintptr

	TrampolineSlice     *codealloc.Slice
	TrampolineDeflector *codealloc.Deflector

	OnEnterTrampoline  uintptr
	OnLeaveTrampoline  uintptr
	OnInvokeTrampoline uintptr

	OverwrittenPrologue    [maxPrologueBytes]byte
	OverwrittenPrologueLen int

	backendData arm64FunctionContextData

	callbacks Callbacks
	handle    uintptr // opaque handle loaded into X17 by the trampoline; see handle.go
}

// arm64FunctionContextData is the ARM64-specific sliver of backend_data
// (GumArm64FunctionContextData in the original: redirect_code_size and
// scratch_reg).
type arm64FunctionContextData struct {
	redirectCodeSize int
	scratchReg       arm64enc.Reg
}

// NewFunctionContext begins tracking functionAddress; callers must pass
// the result to Backend.CreateTrampoline before it is usable.
func NewFunctionContext(functionAddress uintptr) *FunctionContext {
	return &FunctionContext{
		FunctionAddress: functionAddress,
		backendData:     arm64FunctionContextData{scratchReg: arm64enc.RegInvalid},
	}
}

// FunctionAddr returns the address this context intercepts.
func (ctx *FunctionContext) FunctionAddr() uintptr { return ctx.FunctionAddress }
