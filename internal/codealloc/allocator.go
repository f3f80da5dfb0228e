// Package codealloc implements the Trampoline Allocator Adapter: it hands
// the interception core executable memory slices, optionally constrained
// to lie within branching range of a target address, and deflector shims
// for when no such slice can be found. See SPEC_FULL.md §4.2 and §9.
package codealloc

import "fmt"

// AddressSpec describes a request for memory within MaxDistance bytes of
// NearAddress — the Go analogue of frida-gum's GumAddressSpec.
type AddressSpec struct {
	NearAddress uintptr
	MaxDistance uint64
}

// Slice is an executable memory region owned by the caller once returned;
// the caller must eventually pass it back to FreeSlice.
type Slice struct {
	addr uintptr
	data []byte
}

// Addr is the address of the first byte of the slice.
func (s *Slice) Addr() uintptr { return s.addr }

// Bytes exposes the slice's memory for writing trampoline code into it.
// The memory is both writable and executable for the lifetime of the
// slice (spec's external host is assumed to have arranged this; see
// SPEC_FULL.md §4.2 — unlike the target function's own prologue, slices
// this allocator hands out need no separate RW/RX transition because they
// are never executed until after the Trampoline Builder has finished
// writing them, and are never subsequently re-entered for writing).
func (s *Slice) Bytes() []byte { return s.data }

// Size returns the slice's capacity in bytes.
func (s *Slice) Size() int { return len(s.data) }

// Deflector is a small, independently allocated shim that tail-calls a
// target trampoline. Used when the target function's prologue cannot
// reach the real trampoline directly, per spec §4.2.
type Deflector struct {
	Trampoline uintptr // the address other code should branch to
	slice      *Slice
}

// DeflectorPushesX0LR reports whether a deflector allocated with
// dedicated=true pushes {X0, LR} before relaying to its target. A
// dedicated deflector backs a 4-byte ("B", no link-register clobber)
// redirect, which has no spare instruction of its own to save X0/LR
// first, so the deflector does it instead; a shared (non-dedicated)
// deflector backs the 8-byte ("STP X0,LR,...; BL") redirect, whose own
// two overwritten-prologue instructions already performed that save, so
// such a deflector must not push again. The on-enter trampoline stub
// always pops {X0, LR} whenever any deflector is in play, matching
// whichever of the two places actually did the push (spec §9's open
// question; see DESIGN.md, Open Question 1).
func DeflectorPushesX0LR(dedicated bool) bool { return dedicated }

// Allocator is the code-allocator collaborator contract from spec §6.
type Allocator interface {
	// AllocSlice returns an executable slice with no address constraint.
	AllocSlice() (*Slice, error)
	// TryAllocSliceNear returns an executable slice within spec's
	// distance of spec.NearAddress, aligned to alignment bytes, or
	// (nil, nil) if no such slice could be placed (not an error: the
	// caller is expected to fall back to a deflector).
	TryAllocSliceNear(spec AddressSpec, alignment int) (*Slice, error)
	// AllocDeflector allocates a deflector reachable (by a plain B) from
	// caller, that unconditionally tail-calls target. If dedicated, the
	// deflector is exclusively owned by this call and may be built to
	// clobber freely; otherwise it may be shared with other hooks whose
	// callers fall within the same reachable region.
	AllocDeflector(caller AddressSpec, returnAddr, target uintptr, dedicated bool) (*Deflector, error)
	FreeSlice(*Slice)
	FreeDeflector(*Deflector)
}

// ErrNoExecutableMemory is returned by AllocSlice when the underlying OS
// allocation primitive fails outright (as opposed to TryAllocSliceNear's
// "not found nearby" case, which is not an error).
var ErrNoExecutableMemory = fmt.Errorf("codealloc: failed to allocate executable memory")
