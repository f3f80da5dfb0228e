package hostdemo

import (
	"fmt"
	"log"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/oleavr/arm64interceptor/internal/codealloc"
	"github.com/oleavr/arm64interceptor/internal/hook"
)

// pageSize matches codealloc's own assumption (see internal/codealloc/
// mmap_linux.go); the function being hooked lives on an ordinary process
// page with the same granularity.
const pageSize = 4096

// Logger narrates symbol resolution and hook lifecycle events; callers
// may replace it (e.g. cmd/armhook redirects it to a prefixed logger).
// The interception core itself (internal/hook, internal/codealloc) never
// logs — see SPEC_FULL.md §7 — this is purely the reference host's own
// ambient logging, following the teacher's cmd/wazero convention of
// plain stdlib log rather than a structured logging library.
var Logger = log.Default()

// OnEnter and OnLeave are the demo's simplified callback shape: a plain
// function given the live register view, with no invocation-context
// object threaded alongside it (this reference host has no listener
// list, only ever one pair of callbacks per hooked function).
type OnEnter func(cpu *hook.CpuContextView)
type OnLeave func(cpu *hook.CpuContextView)

// Host owns one interception core Backend and every FunctionHook built
// from it. Grounded on guminterceptor-arm64.c's call sites requiring a
// GumInterceptorBackend instance outliving every GumFunctionContext it
// builds trampolines for.
type Host struct {
	backend *hook.Backend
}

// NewHost creates the shared enter/leave thunks (one mmap-backed
// Allocator per Host, per SPEC_FULL.md §2).
func NewHost() (*Host, error) {
	backend, err := hook.NewBackend(codealloc.NewMmapAllocator())
	if err != nil {
		return nil, fmt.Errorf("hostdemo: create backend: %w", err)
	}
	return &Host{backend: backend}, nil
}

// Close releases the shared thunks. Every FunctionHook must be unhooked
// first.
func (h *Host) Close() error { return h.backend.Close() }

// FunctionHook is one hooked function's host-side state: the interception
// core's own FunctionContext, the caller's enter/leave callbacks, and —
// since this reference host suspends no threads and the real function may
// recurse even in a single-threaded demo — a LIFO of the genuine return
// addresses BeginInvocation has diverted through the on-leave trampoline,
// so EndInvocation can always resume the correct frame.
type FunctionHook struct {
	host    *Host
	ctx     *hook.FunctionContext
	onEnter OnEnter
	onLeave OnLeave

	mu          sync.Mutex
	returnStack []uint64
}

// Hook builds and activates a trampoline at functionAddress, wiring
// onEnter/onLeave as its callbacks. Either may be nil.
func (h *Host) Hook(functionAddress uintptr, onEnter OnEnter, onLeave OnLeave) (*FunctionHook, error) {
	ctx := hook.NewFunctionContext(functionAddress)
	fh := &FunctionHook{host: h, ctx: ctx, onEnter: onEnter, onLeave: onLeave}

	if err := h.backend.CreateTrampoline(ctx, fh); err != nil {
		return nil, fmt.Errorf("hostdemo: create trampoline for %#x: %w", functionAddress, err)
	}

	if err := h.withWritablePrologue(ctx, func(prologue []byte) {
		h.backend.ActivateTrampoline(ctx, prologue)
	}); err != nil {
		h.backend.DestroyTrampoline(ctx)
		return nil, err
	}

	Logger.Printf("hostdemo: hooked %#x (redirect size %d, deflector=%v)",
		functionAddress, ctx.OverwrittenPrologueLen, ctx.TrampolineDeflector != nil)
	return fh, nil
}

// Unhook restores the original bytes and releases fh's trampoline.
func (h *Host) Unhook(fh *FunctionHook) error {
	err := h.withWritablePrologue(fh.ctx, func(prologue []byte) {
		h.backend.DeactivateTrampoline(fh.ctx, prologue)
	})
	h.backend.DestroyTrampoline(fh.ctx)
	Logger.Printf("hostdemo: unhooked %#x", fh.ctx.FunctionAddr())
	return err
}

// withWritablePrologue grants RW access to the page(s) spanning ctx's
// overwritten-prologue bytes, hands fn a live view of exactly those
// bytes, then restores RX. This stands in for spec §5's "external host
// stops the world" contract: this reference host has no other threads to
// suspend, so the mprotect transition is the only safety measure taken.
// It deliberately does not flush the instruction cache afterward — Go
// exposes no portable way to do that without cgo — which is fine on the
// single core of execution this demo runs on (the writer and the next
// call both observe program order on the same core) but is not a
// substitute for a production host's cache-coherency handling on SMP.
func (h *Host) withWritablePrologue(ctx *hook.FunctionContext, fn func(prologue []byte)) error {
	addr := ctx.FunctionAddr()
	regionStart := addr &^ uintptr(pageSize-1)
	regionEnd := (addr+uintptr(len(ctx.OverwrittenPrologue))+pageSize-1) &^ uintptr(pageSize-1)
	region := unsafe.Slice((*byte)(unsafe.Pointer(regionStart)), regionEnd-regionStart)

	if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("hostdemo: mprotect rw %#x: %w", regionStart, err)
	}

	prologue := unsafe.Slice((*byte)(unsafe.Pointer(addr)), ctx.OverwrittenPrologueLen)
	fn(prologue)

	if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("hostdemo: mprotect rx %#x: %w", regionStart, err)
	}
	return nil
}

// BeginInvocation implements hook.Callbacks. It stashes the genuine
// return address, runs the caller's OnEnter, then resumes into the
// relocated prologue with LR pointed at the on-leave trampoline so the
// hooked function's own RET comes back through EndInvocation instead of
// straight to its real caller.
func (fh *FunctionHook) BeginInvocation(ctx *hook.FunctionContext, cpu *hook.CpuContextView, lr *uint64, nextHop *uintptr) {
	fh.mu.Lock()
	fh.returnStack = append(fh.returnStack, *lr)
	fh.mu.Unlock()

	if fh.onEnter != nil {
		fh.onEnter(cpu)
	}

	*lr = uint64(ctx.OnLeaveTrampoline)
	*nextHop = ctx.OnInvokeTrampoline
}

// EndInvocation implements hook.Callbacks: runs the caller's OnLeave,
// then pops the matching real return address and resumes there.
func (fh *FunctionHook) EndInvocation(ctx *hook.FunctionContext, cpu *hook.CpuContextView, nextHop *uintptr) {
	fh.mu.Lock()
	n := len(fh.returnStack)
	realLR := fh.returnStack[n-1]
	fh.returnStack = fh.returnStack[:n-1]
	fh.mu.Unlock()

	if fh.onLeave != nil {
		fh.onLeave(cpu)
	}

	*nextHop = uintptr(realLR)
}
