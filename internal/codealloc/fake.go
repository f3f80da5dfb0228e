package codealloc

import "sync/atomic"

// fakeBase is an address-like counter, not a real mapping; FakeAllocator
// exists so internal/hook can be unit-tested without requiring the
// process to actually run on ARM64 Linux with mmap available.
var fakeBase uint64 = 0x7f0000000000

// FakeAllocator is an in-memory Allocator for tests: it hands out
// ordinary heap-backed byte slices tagged with synthetic addresses —
// monotonically increasing for AllocSlice and AllocDeflector, and 16 bytes
// past spec.NearAddress for TryAllocSliceNear. It never fails TryAllocSliceNear or
// AllocDeflector unless told to via Fail.
type FakeAllocator struct {
	// Fail, when non-nil, is returned by the next allocation call instead
	// of succeeding, then cleared.
	Fail error
	// DenyNear, when true, makes TryAllocSliceNear always report "not
	// found" (nil, nil) so callers can exercise their deflector fallback.
	DenyNear bool
}

func (a *FakeAllocator) nextAddr(size int) uintptr {
	addr := atomic.AddUint64(&fakeBase, uint64(size)+64)
	return uintptr(addr - uint64(size))
}

func (a *FakeAllocator) takeFail() error {
	err := a.Fail
	a.Fail = nil
	return err
}

func (a *FakeAllocator) AllocSlice() (*Slice, error) {
	if err := a.takeFail(); err != nil {
		return nil, err
	}
	const size = pageSizeFake
	data := make([]byte, size)
	return &Slice{addr: a.nextAddr(size), data: data}, nil
}

func (a *FakeAllocator) TryAllocSliceNear(spec AddressSpec, alignment int) (*Slice, error) {
	if err := a.takeFail(); err != nil {
		return nil, err
	}
	if a.DenyNear {
		return nil, nil
	}
	const size = pageSizeFake
	data := make([]byte, size)
	addr := spec.NearAddress + 16
	return &Slice{addr: addr, data: data}, nil
}

func (a *FakeAllocator) AllocDeflector(caller AddressSpec, returnAddr, target uintptr, dedicated bool) (*Deflector, error) {
	if err := a.takeFail(); err != nil {
		return nil, err
	}
	const size = 32
	data := make([]byte, size)
	s := &Slice{addr: a.nextAddr(size), data: data}
	return &Deflector{Trampoline: s.addr, slice: s}, nil
}

func (a *FakeAllocator) FreeSlice(s *Slice) {
	if s != nil {
		s.data = nil
	}
}

func (a *FakeAllocator) FreeDeflector(d *Deflector) {
	if d != nil {
		a.FreeSlice(d.slice)
	}
}

// pageSizeFake mirrors the real allocator's page granularity without
// pulling in the linux-only pageSize constant.
const pageSizeFake = 4096
