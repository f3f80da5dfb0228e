package hook

import (
	"fmt"

	"github.com/oleavr/arm64interceptor/internal/arm64enc"
	"github.com/oleavr/arm64interceptor/internal/codealloc"
)

// Near-address search limits, named for the instruction forms they serve:
// a plain B/BL reaches ±128MiB, an ADRP-loaded absolute address reaches
// anywhere within ±4GiB of its own page (so the search only needs to find
// a slice near the function, not an unbounded one).
const (
	bMaxDistance    = uint64(128 << 20)
	adrpMaxDistance = uint64(4 << 30)

	logicalPageSize = 4096
)

// reachPlan is the outcome of the Reach Analyser: how many bytes of the
// target prologue will be overwritten, which scratch register the
// relocated prologue (if it falls through) may clobber to resume
// execution, and whether a deflector is needed because no slice landed
// within direct branch range.
type reachPlan struct {
	redirectCodeSize int
	scratchReg       arm64enc.Reg
	needDeflector    bool
}

// planReach decides the redirect shape for functionAddress, mirroring
// gum_interceptor_backend_prepare_trampoline: take the 16-byte
// absolute-load form (which needs no nearby slice) whenever the first 16
// bytes relocate cleanly, otherwise the 8-byte and then the 4-byte form,
// and scavenge the relocator's reported touched registers for one it's
// safe to clobber.
func planReach(alloc codealloc.Allocator, r arm64enc.Reader, functionAddress uintptr) (*reachPlan, *codealloc.Slice, error) {
	limit, touched, err := maxRelocatableRedirectSize(r, functionAddress, maxPrologueBytes)
	if err != nil {
		return nil, nil, err
	}

	scratch := pickScratchReg(touched)
	if scratch == arm64enc.RegInvalid {
		return nil, nil, ErrUnhookable
	}

	plan := &reachPlan{scratchReg: scratch}

	if limit >= maxPrologueBytes {
		plan.redirectCodeSize = maxPrologueBytes
		slice, err := alloc.AllocSlice()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrOutOfExecMemory, err)
		}
		return plan, slice, nil
	}

	var spec codealloc.AddressSpec
	var alignment int
	switch {
	case limit >= 8:
		plan.redirectCodeSize = 8
		spec = codealloc.AddressSpec{
			NearAddress: functionAddress &^ uintptr(logicalPageSize-1),
			MaxDistance: adrpMaxDistance,
		}
		alignment = logicalPageSize
	case limit >= 4:
		plan.redirectCodeSize = 4
		spec = codealloc.AddressSpec{NearAddress: functionAddress, MaxDistance: bMaxDistance}
		alignment = 0
	default:
		return nil, nil, ErrUnhookable
	}

	slice, err := alloc.TryAllocSliceNear(spec, alignment)
	if err != nil {
		return nil, nil, err
	}
	if slice == nil {
		slice, err = alloc.AllocSlice()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrOutOfExecMemory, err)
		}
		plan.needDeflector = true
	}
	return plan, slice, nil
}

// maxRelocatableRedirectSize walks instructions starting at functionAddress
// until it has accumulated at least limit bytes or hits one it cannot
// relocate (an unsupported form, or end-of-input before limit bytes were
// read), returning how many bytes are safely relocatable and the set of
// registers those instructions touch (candidates to exclude from scratch
// selection).
func maxRelocatableRedirectSize(r arm64enc.Reader, functionAddress uintptr, limit int) (int, map[arm64enc.Reg]bool, error) {
	touched := make(map[arm64enc.Reg]bool)
	rl := arm64enc.NewRelocator(r)
	total := 0
	addr := functionAddress
	for total < limit {
		in, err := rl.ReadOne(addr)
		if err != nil {
			return total, touched, err
		}
		if in.Unsupported {
			break
		}
		for _, reg := range in.TouchedRegs {
			if reg != arm64enc.RegInvalid {
				touched[reg] = true
			}
		}
		total += 4
		addr += 4
		if in.EndOfInput {
			break
		}
	}
	return total, touched, nil
}

// pickScratchReg returns the first candidate in arm64enc.ScratchCandidates
// not touched by the relocated prologue, or RegInvalid if all of them
// are — in which case the function is not hookable (spec's "every
// candidate register is live" edge case).
func pickScratchReg(touched map[arm64enc.Reg]bool) arm64enc.Reg {
	for _, reg := range arm64enc.ScratchCandidates() {
		if !touched[reg] {
			return reg
		}
	}
	return arm64enc.RegInvalid
}
