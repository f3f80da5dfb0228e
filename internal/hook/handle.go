package hook

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// The emitted trampoline loads a plain 64-bit immediate into X17 to
// identify which FunctionContext a given invocation belongs to (see
// thunk.go's buildEnterThunk/buildLeaveThunk and trampoline.go). The
// original C backend can embed a literal pointer there because
// GumFunctionContext is allocated once and never moved; a *FunctionContext
// is an ordinary Go heap object the garbage collector is free to relocate,
// so this module hands out an opaque, stable integer handle instead and
// keeps the pointer lookup on the Go side, the same style purego uses to
// let C code reference Go-owned state indirectly.
var (
	handleMu  sync.RWMutex
	handles   = make(map[uintptr]*FunctionContext)
	nextHandle uint64
)

func registerHandle(ctx *FunctionContext) uintptr {
	h := uintptr(atomic.AddUint64(&nextHandle, 1))
	handleMu.Lock()
	handles[h] = ctx
	handleMu.Unlock()
	return h
}

func unregisterHandle(h uintptr) {
	handleMu.Lock()
	delete(handles, h)
	handleMu.Unlock()
}

func ctxFromAddr(handle uintptr) *FunctionContext {
	handleMu.RLock()
	ctx := handles[handle]
	handleMu.RUnlock()
	if ctx == nil {
		panic("BUG: trampoline dispatched with an unregistered handle")
	}
	return ctx
}

// frameBytesFromCpuContextAddr materializes a []byte view over the live
// register frame at addr, which points into the real machine stack the
// intercepted function is running on, not Go-managed memory.
func frameBytesFromCpuContextAddr(addr uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr-cpuContextOffset)), frameSize)
}

func setNextHop(addr uintptr, v uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = v
}
