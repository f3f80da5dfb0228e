package hook

import (
	"unsafe"

	"github.com/oleavr/arm64interceptor/internal/arm64enc"
	"github.com/oleavr/arm64interceptor/internal/codealloc"
)

// CreateTrampoline builds the on-enter/on-leave/on-invoke trampoline for
// ctx and wires cb as its callback. Ported from
// _gum_interceptor_backend_create_trampoline: plan the redirect shape,
// emit the (optional) deflector unwind, the two dispatch stubs, then
// relocate as much of the original prologue as the chosen redirect size
// requires.
func (b *Backend) CreateTrampoline(ctx *FunctionContext, cb Callbacks) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	plan, slice, err := planReach(b.alloc, b.reader, ctx.FunctionAddress)
	if err != nil {
		return err
	}

	ctx.backendData.redirectCodeSize = plan.redirectCodeSize
	ctx.backendData.scratchReg = plan.scratchReg
	ctx.TrampolineSlice = slice
	ctx.callbacks = cb
	ctx.handle = registerHandle(ctx)

	b.writer.Reset(slice.Bytes(), slice.Addr())

	ctx.OnEnterTrampoline = b.writer.PC()

	if plan.needDeflector {
		if err := b.buildDeflector(ctx, plan); err != nil {
			b.alloc.FreeSlice(slice)
			ctx.TrampolineSlice = nil
			unregisterHandle(ctx.handle)
			return err
		}
		b.writer.Emit4(arm64enc.EncodeLdpPost64(arm64enc.X0, arm64enc.LR, arm64enc.SP, 16))
	}

	emitLoadImm64(&b.writer, arm64enc.X17, uint64(ctx.handle))
	emitLoadImm64(&b.writer, arm64enc.X16, uint64(b.enterThunk.Addr()))
	b.writer.Emit4(arm64enc.EncodeBr(arm64enc.X16))

	ctx.OnLeaveTrampoline = b.writer.PC()

	emitLoadImm64(&b.writer, arm64enc.X17, uint64(ctx.handle))
	emitLoadImm64(&b.writer, arm64enc.X16, uint64(b.leaveThunk.Addr()))
	b.writer.Emit4(arm64enc.EncodeBr(arm64enc.X16))

	if b.writer.Offset() > slice.Size() {
		b.alloc.FreeSlice(slice)
		ctx.TrampolineSlice = nil
		unregisterHandle(ctx.handle)
		return ErrTrampolineTooLarge
	}

	ctx.OnInvokeTrampoline = b.writer.PC()

	relocBytes, eoi, err := b.relocatePrologue(ctx)
	if err != nil {
		b.alloc.FreeSlice(slice)
		ctx.TrampolineSlice = nil
		unregisterHandle(ctx.handle)
		return err
	}

	if !eoi {
		resumeAt := ctx.FunctionAddress + uintptr(relocBytes)
		emitLoadImm64(&b.writer, plan.scratchReg, uint64(resumeAt))
		b.writer.Emit4(arm64enc.EncodeBr(plan.scratchReg))
	}

	if b.writer.Offset() > slice.Size() {
		b.alloc.FreeSlice(slice)
		ctx.TrampolineSlice = nil
		unregisterHandle(ctx.handle)
		return ErrTrampolineTooLarge
	}

	ctx.OverwrittenPrologueLen = relocBytes
	copyOriginalBytes(ctx.FunctionAddress, ctx.OverwrittenPrologue[:relocBytes])

	return nil
}

func (b *Backend) buildDeflector(ctx *FunctionContext, plan *reachPlan) error {
	caller := codealloc.AddressSpec{
		NearAddress: ctx.FunctionAddress + uintptr(plan.redirectCodeSize) - 4,
		MaxDistance: bMaxDistance,
	}
	returnAddr := ctx.FunctionAddress + uintptr(plan.redirectCodeSize)
	dedicated := plan.redirectCodeSize == 4

	d, err := b.alloc.AllocDeflector(caller, returnAddr, ctx.OnEnterTrampoline, dedicated)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrDeflectorFailed
	}
	ctx.TrampolineDeflector = d
	return nil
}

// relocatePrologue copies instructions from ctx.FunctionAddress into the
// trampoline, stopping once at least redirectCodeSize bytes have been
// consumed (matching the original's do-while loop), and reports whether
// the last instruction read was an end-of-input form (RET or an
// unconditional branch) — if not, the caller must append a jump back to
// resume the rest of the function.
func (b *Backend) relocatePrologue(ctx *FunctionContext) (relocBytes int, eoi bool, err error) {
	addr := ctx.FunctionAddress
	size := ctx.backendData.redirectCodeSize

	for relocBytes < size {
		in, rerr := b.relocator.ReadOne(addr)
		if rerr != nil {
			return relocBytes, false, rerr
		}
		if in.Unsupported {
			return relocBytes, false, ErrUnhookable
		}
		if ok := b.relocator.Relocate(&b.writer, addr, in); !ok {
			return relocBytes, false, ErrUnhookable
		}
		relocBytes += 4
		addr += 4
		eoi = in.EndOfInput
		if eoi {
			break
		}
	}
	return relocBytes, eoi, nil
}

func copyOriginalBytes(addr uintptr, dst []byte) {
	src := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(dst))
	copy(dst, src)
}

// DestroyTrampoline releases everything CreateTrampoline allocated for
// ctx. Ported from _gum_interceptor_backend_destroy_trampoline.
func (b *Backend) DestroyTrampoline(ctx *FunctionContext) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.alloc.FreeSlice(ctx.TrampolineSlice)
	b.alloc.FreeDeflector(ctx.TrampolineDeflector)
	ctx.TrampolineSlice = nil
	ctx.TrampolineDeflector = nil
	if ctx.handle != 0 {
		unregisterHandle(ctx.handle)
		ctx.handle = 0
	}
}
