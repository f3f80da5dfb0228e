package arm64enc

import "encoding/binary"

// Writer emits instruction words into a caller-supplied executable byte
// slice, tracking a mutable program-counter field so PC-relative encodings
// (ADR, ADRP, LDR-literal, branches) resolve against the address the
// instruction will actually execute at — mirroring GumArm64Writer's `pc`
// field in guminterceptor-arm64.c's activate path ("aw->pc =
// GUM_ADDRESS (ctx->function_address)").
//
// A Writer never allocates memory itself; it writes into whatever slice
// it is given (a codealloc.Slice's bytes, or the live prologue bytes the
// Patcher rewrites in place).
type Writer struct {
	buf []byte
	off int
	pc  uintptr
}

// NewWriter creates a Writer over buf, whose first byte will sit at pc.
func NewWriter(buf []byte, pc uintptr) *Writer {
	w := &Writer{}
	w.Reset(buf, pc)
	return w
}

// Reset rebinds the writer to a new destination and PC, per the
// "reusable writer, reset before each use" convention of spec §9.
func (w *Writer) Reset(buf []byte, pc uintptr) {
	w.buf = buf
	w.off = 0
	w.pc = pc
}

// PC returns the address the next Emit4 will execute from.
func (w *Writer) PC() uintptr { return w.pc + uintptr(w.off) }

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int { return w.off }

// Len returns the capacity of the destination buffer.
func (w *Writer) Len() int { return len(w.buf) }

// Emit4 writes a 32-bit instruction word and advances the cursor. It
// writes the whole word in one PutUint32 call so that, when buf is the
// live, 4-byte-aligned prologue of a hooked function, the store is a
// single aligned write — required by the Patcher's atomicity contract
// (spec §5).
func (w *Writer) Emit4(instr uint32) {
	if w.off+4 > len(w.buf) {
		panic("arm64enc: BUG: writer overflowed its destination buffer")
	}
	binary.LittleEndian.PutUint32(w.buf[w.off:w.off+4], instr)
	w.off += 4
}

// Emit8Literal writes a raw 64-bit value (not an instruction) into the
// stream, advancing the cursor by 8 — used for the literal pool an
// LDR-literal instruction reads from, e.g. the 16-byte redirect form's
// trailing absolute address.
func (w *Writer) Emit8Literal(value uint64) {
	if w.off+8 > len(w.buf) {
		panic("arm64enc: BUG: writer overflowed its destination buffer")
	}
	binary.LittleEndian.PutUint64(w.buf[w.off:w.off+8], value)
	w.off += 8
}

// Bytes returns the portion of the destination buffer written so far.
func (w *Writer) Bytes() []byte { return w.buf[:w.off] }
