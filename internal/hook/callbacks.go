package hook

// Callbacks is the collaborator a caller implements to observe and steer
// intercepted calls, the Go analogue of the function-pointer pair
// (_gum_function_context_begin_invocation/_end_invocation) the original
// thunks call directly. Unlike the C version there is no GumInvocationContext
// threaded implicitly through thread-local state: everything the callback
// needs is passed explicitly, since this module (per SPEC_FULL.md
// Non-goals) does not implement the listener/thread-state machinery the
// callback would otherwise reach for.
type Callbacks interface {
	// BeginInvocation runs on the thunk reached when the intercepted
	// function is entered. cpu is a live view over the saved register
	// frame. lr is the real return address the hardware link register
	// held at entry; the implementation must write to nextHop before
	// returning (normally ctx.FunctionAddr()'s on-invoke trampoline, to
	// let the relocated prologue run) and, if it wants to observe the
	// return, must also overwrite lr with ctx's on-leave trampoline
	// address and remember the real one itself — there is no implicit
	// stashing of it anywhere in this package, per its single-threaded,
	// listener-stack-free design (see SPEC_FULL.md Non-goals).
	BeginInvocation(ctx *FunctionContext, cpu *CpuContextView, lr *uint64, nextHop *uintptr)

	// EndInvocation runs on the thunk reached when the intercepted
	// function is about to return, before control actually reaches the
	// original caller (only if BeginInvocation redirected lr there).
	// The implementation must write the real return address, or
	// wherever it wants control to go instead, into nextHop before
	// returning.
	EndInvocation(ctx *FunctionContext, cpu *CpuContextView, nextHop *uintptr)
}

// dispatchEnter and dispatchLeave are what the enter/leave thunks actually
// call (via a purego callback trampoline — see thunk.go); they adapt the
// raw register-frame pointers the assembled thunk hands over into the
// CpuContextView/Callbacks surface above.
func dispatchEnter(ctxAddr, cpuContextAddr, nextHopAddr uintptr) {
	ctx := ctxFromAddr(ctxAddr)
	frame := frameBytesFromCpuContextAddr(cpuContextAddr)
	cpu := newCpuContextView(frame)
	cpu.setU64(offPC, uint64(ctx.FunctionAddress))

	lr := cpu.LR()
	var nextHop uintptr
	ctx.callbacks.BeginInvocation(ctx, cpu, &lr, &nextHop)
	cpu.SetLR(lr)
	setNextHop(nextHopAddr, nextHop)
}

func dispatchLeave(ctxAddr, cpuContextAddr, nextHopAddr uintptr) {
	ctx := ctxFromAddr(ctxAddr)
	frame := frameBytesFromCpuContextAddr(cpuContextAddr)
	cpu := newCpuContextView(frame)
	cpu.setU64(offPC, uint64(ctx.FunctionAddress))

	var nextHop uintptr
	ctx.callbacks.EndInvocation(ctx, cpu, &nextHop)
	setNextHop(nextHopAddr, nextHop)
}
