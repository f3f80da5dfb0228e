package hook

import (
	"github.com/oleavr/arm64interceptor/internal/arm64enc"
)

// ActivateTrampoline overwrites the live prologue at prologue (which must
// be ctx.FunctionAddress's own bytes, handed in by the caller so this
// package never has to assume where in a foreign address space the
// "live" view of the function lives versus the one the Reach Analyser
// read from) so it redirects into ctx's trampoline. Ported from
// _gum_interceptor_backend_activate_trampoline.
func (b *Backend) ActivateTrampoline(ctx *FunctionContext, prologue []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := arm64enc.NewWriter(prologue, ctx.FunctionAddress)

	if ctx.TrampolineDeflector != nil {
		switch ctx.backendData.redirectCodeSize {
		case 8:
			w.Emit4(arm64enc.EncodeStpPre64(arm64enc.X0, arm64enc.LR, arm64enc.SP, -16))
			w.Emit4(arm64enc.EncodeBL(int64(ctx.TrampolineDeflector.Trampoline) - int64(w.PC())))
		case 4:
			w.Emit4(arm64enc.EncodeB(int64(ctx.TrampolineDeflector.Trampoline) - int64(ctx.FunctionAddress)))
		default:
			panic("BUG: a deflector should only ever be used for a 4 or 8 byte redirect")
		}
	} else {
		onEnter := ctx.OnEnterTrampoline
		switch ctx.backendData.redirectCodeSize {
		case 4:
			w.Emit4(arm64enc.EncodeB(int64(onEnter) - int64(ctx.FunctionAddress)))
		case 8:
			pageDelta := int64(onEnter&^0xfff) - int64(ctx.FunctionAddress&^0xfff)
			w.Emit4(arm64enc.EncodeAdrp(arm64enc.X16, pageDelta/4096))
			w.Emit4(arm64enc.EncodeBr(arm64enc.X16))
		case 16:
			// LDR X16, [pc, #8] reads the literal written right after the
			// BR that follows it; this is the one redirect form with room
			// for a literal pool instead of a MOVZ/MOVK sequence.
			w.Emit4(arm64enc.EncodeLdrLitX64(arm64enc.X16, 8))
			w.Emit4(arm64enc.EncodeBr(arm64enc.X16))
			w.Emit8Literal(uint64(onEnter))
		default:
			panic("BUG: unreachable redirect_code_size")
		}
	}

	if w.Offset() > ctx.backendData.redirectCodeSize {
		panic("BUG: redirect overflowed its reserved prologue bytes")
	}
}

// DeactivateTrampoline restores the bytes ActivateTrampoline overwrote.
// Ported from _gum_interceptor_backend_deactivate_trampoline.
func (b *Backend) DeactivateTrampoline(ctx *FunctionContext, prologue []byte) {
	copy(prologue[:ctx.OverwrittenPrologueLen], ctx.OverwrittenPrologue[:ctx.OverwrittenPrologueLen])
}

// ResolveRedirect reports the absolute destination of whichever redirect
// form ActivateTrampoline may have written at addr (4, 8, or 16 bytes),
// if any — used to chase through an already-active redirect rather than
// hooking it a second time. Ported from
// _gum_interceptor_backend_resolve_redirect /
// gum_arm64_reader_try_get_relative_jump_target, extended to all three
// redirect shapes this backend emits (see arm64enc.DecodeRedirect).
func (b *Backend) ResolveRedirect(addr uintptr) (uintptr, bool) {
	return arm64enc.DecodeRedirect(b.reader, addr)
}
