//go:build linux

package codealloc

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// pageSize matches the ARM64 Linux default; trampoline slices and
// deflector pages are always rounded up to it since unix.Mmap never
// hands back less than a whole page anyway.
const pageSize = 4096

// mmapAllocator is the production Allocator: every slice and dedicated
// deflector is backed by its own private, anonymous mmap region, while
// shared deflector stubs are carved from per-caller-page pools, RW|RX so the
// Trampoline Builder and Patcher can write into it and the target process
// can execute it without a separate mprotect handoff. Grounded on
// frida-gum's GumCodeAllocator backend, adapted to Go's mmap wrapper
// rather than the original's pthread-guarded freelist.
type mmapAllocator struct {
	mu          sync.Mutex
	sharedStubs map[uintptr]*pool // caller page -> pool backing that page's shared deflector stubs
}

// NewMmapAllocator returns the default Allocator implementation, backed by
// one page-granular mmap per slice or dedicated-deflector request; shared
// deflector stubs are packed into pooled pages.
func NewMmapAllocator() Allocator {
	return &mmapAllocator{
		sharedStubs: make(map[uintptr]*pool),
	}
}

func mmapExec(near uintptr, size int) ([]byte, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	if near != 0 {
		flags |= unix.MAP_FIXED_NOREPLACE
		data, err := unix.Mmap(-1, int64(near), size, prot, flags)
		if err != nil {
			// MAP_FIXED_NOREPLACE failing (EEXIST, or any other errno) means
			// this address is unavailable; caller must try elsewhere or give
			// up and fall back to a deflector. Not a hard allocator error.
			return nil, nil
		}
		return data, nil
	}
	data, err := unix.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoExecutableMemory, err)
	}
	return data, nil
}

func (a *mmapAllocator) AllocSlice() (*Slice, error) {
	data, err := mmapExec(0, pageSize)
	if err != nil {
		return nil, err
	}
	return &Slice{addr: sliceAddr(data), data: data}, nil
}

// TryAllocSliceNear probes for a page reachable from spec.NearAddress
// within spec.MaxDistance, walking outward in both directions in
// page-sized steps, same strategy as
// gum_code_allocator_try_alloc_slice_near's underlying page prober.
func (a *mmapAllocator) TryAllocSliceNear(spec AddressSpec, alignment int) (*Slice, error) {
	if alignment <= 0 {
		alignment = pageSize
	}
	base := spec.NearAddress &^ uintptr(pageSize-1)
	maxPages := spec.MaxDistance / pageSize
	for step := uintptr(0); step <= uintptr(maxPages); step++ {
		for _, candidate := range []uintptr{base + step*pageSize, base - step*pageSize} {
			if candidate == 0 {
				continue
			}
			if distance(candidate, spec.NearAddress) > spec.MaxDistance {
				continue
			}
			data, err := mmapExec(candidate, pageSize)
			if err != nil {
				return nil, err
			}
			if data == nil {
				continue
			}
			return &Slice{addr: sliceAddr(data), data: data}, nil
		}
	}
	return nil, nil
}

// deflectorStubSize is the fixed size, in bytes, of a deflector's relay
// code: a 64-bit immediate load (4 instructions) plus an indirect branch,
// optionally preceded by a register-pair push. Both forms fit comfortably
// within one carved range or one dedicated page.
const (
	deflectorStubSizePushed   = 6 * 4
	deflectorStubSizeUnpushed = 5 * 4
)

func (a *mmapAllocator) AllocDeflector(caller AddressSpec, returnAddr, target uintptr, dedicated bool) (*Deflector, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pushX0LR := DeflectorPushesX0LR(dedicated)
	stubSize := deflectorStubSizeUnpushed
	if pushX0LR {
		stubSize = deflectorStubSizePushed
	}

	if dedicated {
		slice, err := a.TryAllocSliceNear(caller, pageSize)
		if err != nil {
			return nil, err
		}
		if slice == nil {
			return nil, nil
		}
		writeDeflectorStub(slice.data[:stubSize], slice.addr, target, pushX0LR)
		return &Deflector{Trampoline: slice.addr, slice: slice}, nil
	}

	callerPage := caller.NearAddress &^ uintptr(pageSize-1)
	p, ok := a.sharedStubs[callerPage]
	if !ok {
		p = newPool()
		a.sharedStubs[callerPage] = p
	}
	buf, addr, err := p.carve(stubSize, func() (*Slice, error) {
		return a.TryAllocSliceNear(caller, pageSize)
	})
	if err != nil {
		return nil, err
	}
	writeDeflectorStub(buf, addr, target, pushX0LR)
	return &Deflector{Trampoline: addr}, nil
}

func (a *mmapAllocator) FreeSlice(s *Slice) {
	if s == nil || s.data == nil {
		return
	}
	_ = unix.Munmap(s.data)
	s.data = nil
}

func (a *mmapAllocator) FreeDeflector(d *Deflector) {
	if d == nil || d.slice == nil {
		return
	}
	a.FreeSlice(d.slice)
}

func distance(a, b uintptr) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}
