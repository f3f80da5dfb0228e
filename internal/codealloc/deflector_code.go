package codealloc

import "github.com/oleavr/arm64interceptor/internal/arm64enc"

// writeDeflectorStub emits the tiny relay a Deflector actually is: reach
// target however far away it lives (it is not bound by the direct
// branch's ±128MiB limit the caller found itself unable to satisfy), and,
// when pushX0LR is true, first preserve the caller's genuine incoming X0
// and link register across the hop.
//
// pushX0LR is true exactly for dedicated deflectors. A dedicated
// deflector backs a 4-byte ("B", no link-register clobber) redirect,
// which has no spare instruction slot of its own to save X0/LR before
// jumping here, so the deflector does it instead; a shared deflector
// backs the 8-byte ("STP X0,LR,...; BL") redirect, whose own two
// instructions already performed that save in the overwritten prologue
// itself, so the deflector must not push again. See DESIGN.md, Open
// Question 1 and guminterceptor-arm64.c's _gum_interceptor_backend_
// activate_trampoline / _create_trampoline.
func writeDeflectorStub(dst []byte, baseAddr uintptr, target uintptr, pushX0LR bool) int {
	w := arm64enc.NewWriter(dst, baseAddr)
	if pushX0LR {
		w.Emit4(arm64enc.EncodeStpPre64(arm64enc.X0, arm64enc.LR, arm64enc.SP, -16))
	}
	emitLoadImm64(w, relayScratchReg, uint64(target))
	w.Emit4(arm64enc.EncodeBr(relayScratchReg))
	return w.Offset()
}

// relayScratchReg is clobbered freely: by the time control reaches a
// deflector, nothing downstream still needs X16 to hold anything in
// particular (it mirrors the trampoline's own convention of using X16 as
// its indirect-branch register).
const relayScratchReg = arm64enc.X16

func emitLoadImm64(w *arm64enc.Writer, reg arm64enc.Reg, value uint64) {
	w.Emit4(arm64enc.EncodeMovz(reg, uint16(value), 0))
	w.Emit4(arm64enc.EncodeMovk(reg, uint16(value>>16), 1))
	w.Emit4(arm64enc.EncodeMovk(reg, uint16(value>>32), 2))
	w.Emit4(arm64enc.EncodeMovk(reg, uint16(value>>48), 3))
}
