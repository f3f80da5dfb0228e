package hook

import (
	"github.com/oleavr/arm64interceptor/internal/arm64enc"
)

// callScratchReg holds the dispatch function pointer while the enter/leave
// thunks call into it; X9 is never one of the argument registers (X0-X3)
// nor X16/X17 (reserved for the trampoline's own dispatch), so it is free
// here without disturbing anything a caller further up the chain expects.
const callScratchReg = arm64enc.X9

// emitLoadImm64 loads an arbitrary 64-bit value into reg using the
// standard MOVZ + three-MOVK sequence, rather than a PC-relative
// literal pool load: the values this module loads (dispatch function
// pointers, context handles) are not addresses relative to the code being
// emitted, so there is no natural literal pool to place them in, and a
// always-four-instructions sequence keeps thunk and trampoline sizes
// predictable.
func emitLoadImm64(w *arm64enc.Writer, reg arm64enc.Reg, value uint64) {
	w.Emit4(arm64enc.EncodeMovz(reg, uint16(value), 0))
	w.Emit4(arm64enc.EncodeMovk(reg, uint16(value>>16), 1))
	w.Emit4(arm64enc.EncodeMovk(reg, uint16(value>>32), 2))
	w.Emit4(arm64enc.EncodeMovk(reg, uint16(value>>48), 3))
}

// imm64InstrCount is how many instructions emitLoadImm64 always emits.
const imm64InstrCount = 4

// buildEnterThunk and buildLeaveThunk are ported from gum_emit_enter_thunk
// and gum_emit_leave_thunk: save the full register frame, call into the Go
// dispatch function with (handle, cpu_context_addr, next_hop_addr), then
// restore and redirect via whatever next_hop now holds. dispatchFn is the
// purego callback trampoline address for dispatchEnter or dispatchLeave.
func buildEnterThunk(w *arm64enc.Writer, dispatchFn uintptr) {
	emitProlog(w)

	// X17 (the FunctionContext handle) was preserved by emitProlog's
	// {X17,X18} push; X0 (the hooked function's real first argument) was
	// already saved to the frame by the same prolog, so it's free to
	// become dispatchEnter's arg0 now.
	w.Emit4(arm64enc.EncodeMovReg(arm64enc.X0, arm64enc.X17))
	w.Emit4(arm64enc.EncodeAddImm12(arm64enc.X1, arm64enc.SP, cpuContextOffset))
	w.Emit4(arm64enc.EncodeAddImm12(arm64enc.X2, arm64enc.SP, nextHopOffset))
	emitLoadImm64(w, callScratchReg, uint64(dispatchFn))
	w.Emit4(arm64enc.EncodeBlr(callScratchReg))

	emitEpilog(w)
}

func buildLeaveThunk(w *arm64enc.Writer, dispatchFn uintptr) {
	emitProlog(w)

	w.Emit4(arm64enc.EncodeMovReg(arm64enc.X0, arm64enc.X17))
	w.Emit4(arm64enc.EncodeAddImm12(arm64enc.X1, arm64enc.SP, cpuContextOffset))
	w.Emit4(arm64enc.EncodeAddImm12(arm64enc.X2, arm64enc.SP, nextHopOffset))
	emitLoadImm64(w, callScratchReg, uint64(dispatchFn))
	w.Emit4(arm64enc.EncodeBlr(callScratchReg))

	emitEpilog(w)
}

// gprPushPairs lists the general-purpose register pairs pushed by
// emitProlog, in push order (first pair pushed ends up at the highest
// address of the GPR block once everything below it has been pushed).
// Mirrors guminterceptor-arm64.c's gum_emit_prolog exactly.
var gprPushPairs = [][2]arm64enc.Reg{
	{arm64enc.FP, arm64enc.LR},
	{arm64enc.X27, arm64enc.X28},
	{arm64enc.X25, arm64enc.X26},
	{arm64enc.X23, arm64enc.X24},
	{arm64enc.X21, arm64enc.X22},
	{arm64enc.X19, arm64enc.X20},
	{arm64enc.X17, arm64enc.X18},
	{arm64enc.X15, arm64enc.X16},
	{arm64enc.X13, arm64enc.X14},
	{arm64enc.X11, arm64enc.X12},
	{arm64enc.X9, arm64enc.X10},
	{arm64enc.X7, arm64enc.X8},
	{arm64enc.X5, arm64enc.X6},
	{arm64enc.X3, arm64enc.X4},
	{arm64enc.X1, arm64enc.X2},
}

// savedSpOffsetFromCurrentSp is the distance from SP as it stands right
// before the {savedSP, X0} push down to the original, pre-prolog SP: the
// 15 GPR pairs (240 bytes), the 8 vector registers (128 bytes) and the
// initial next_hop reservation (16 bytes).
const savedSpOffsetFromCurrentSp = 15*16 + 128 + 16

func emitProlog(w *arm64enc.Writer) {
	// Reserve the next_hop slot (+ filler) at the top of the frame.
	w.Emit4(arm64enc.EncodeSubImm12(arm64enc.SP, arm64enc.SP, 16))

	for _, instr := range arm64enc.PushVectorPairInstructions() {
		w.Emit4(instr)
	}

	for _, pair := range gprPushPairs {
		w.Emit4(arm64enc.EncodeStpPre64(pair[0], pair[1], arm64enc.SP, -16))
	}

	w.Emit4(arm64enc.EncodeAddImm12(arm64enc.X1, arm64enc.SP, savedSpOffsetFromCurrentSp))
	w.Emit4(arm64enc.EncodeStpPre64(arm64enc.X1, arm64enc.X0, arm64enc.SP, -16))

	// Reserve the dummy-PC/alignment slot at the bottom of the frame.
	w.Emit4(arm64enc.EncodeSubImm12(arm64enc.SP, arm64enc.SP, 16))
}

func emitEpilog(w *arm64enc.Writer) {
	w.Emit4(arm64enc.EncodeAddImm12(arm64enc.SP, arm64enc.SP, 16))

	w.Emit4(arm64enc.EncodeLdpPost64(arm64enc.X1, arm64enc.X0, arm64enc.SP, 16))

	for i := len(gprPushPairs) - 1; i >= 0; i-- {
		pair := gprPushPairs[i]
		w.Emit4(arm64enc.EncodeLdpPost64(pair[0], pair[1], arm64enc.SP, 16))
	}

	for _, instr := range arm64enc.PopVectorPairInstructions() {
		w.Emit4(instr)
	}

	// Pop the next_hop slot into X16 (with X17 as unused filler) and jump
	// to whatever the callback left there.
	w.Emit4(arm64enc.EncodeLdpPost64(arm64enc.X16, arm64enc.X17, arm64enc.SP, 16))
	w.Emit4(arm64enc.EncodeBr(arm64enc.X16))
}
