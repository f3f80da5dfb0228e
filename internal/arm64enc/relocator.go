package arm64enc

// Relocator reads instructions from a live function's prologue and either
// copies them verbatim into a new location or, for the handful of
// PC-relative forms the prologue commonly contains, rewrites the
// instruction so it still addresses the same absolute target from its new
// address. This mirrors gum_arm64_relocator's read/write split in
// guminterceptor-arm64.c, simplified to the instruction classes that
// actually appear in compiled function prologues (see DESIGN.md).
//
// It deliberately does not attempt general-purpose disassembly (spec
// Non-goals): an instruction outside the PC-relative forms it knows is
// copied verbatim, and the forms it recognises but cannot safely rewrite
// (BR and the other register-branch forms apart from RET/BLR, and
// TBZ/TBNZ) are reported as unsupported, so the caller (the Reach
// Analyser) falls back to a smaller redirect or fails the hook.
type Relocator struct {
	r Reader
}

// Reader reads a single instruction word from a (possibly foreign, or
// possibly this process's own) address space. In production this is
// backed by ordinary memory reads of the target function; in tests it is
// backed by a plain byte slice.
type Reader interface {
	ReadUint32(addr uintptr) (uint32, error)
}

// NewRelocator creates a Relocator reading through r.
func NewRelocator(r Reader) *Relocator {
	return &Relocator{r: r}
}

// Reset rebinds the relocator to read through r, mirroring
// gum_arm64_relocator_reset / the "reusable relocator" convention of
// spec §9 (one relocator per Backend, reset before each use).
func (rl *Relocator) Reset(r Reader) { rl.r = r }

// pcRelKind classifies the PC-relative instruction forms this relocator
// knows how to rewrite.
type pcRelKind uint8

const (
	pcRelNone pcRelKind = iota
	pcRelBUncond           // B/BL, imm26*4
	pcRelBCond             // B.cond, imm19*4
	pcRelCBZCBNZ           // CBZ/CBNZ, imm19*4
	pcRelAdrAdrp           // ADR (byte-scaled) or ADRP (page-scaled)
	pcRelLdrLiteral        // LDR (literal) family, imm19*4
)

// Insn is a decoded instruction word together with the facts the Reach
// Analyser and Trampoline Builder need: whether it ends a basic block
// (nothing after it in this function is reached by falling through), and
// whether relocating it to a new address is something this relocator
// knows how to do.
type Insn struct {
	Raw           uint32
	EndOfInput    bool
	Unsupported   bool
	Kind          pcRelKind
	TouchedRegs   [3]Reg // approximate register-field extraction, see decode()
}

// ReadOne reads and decodes the 4-byte instruction at addr.
func (rl *Relocator) ReadOne(addr uintptr) (Insn, error) {
	raw, err := rl.r.ReadUint32(addr)
	if err != nil {
		return Insn{}, err
	}
	return decode(raw), nil
}

// decode classifies a raw instruction word. Every A64 instruction is 4
// bytes, so this never needs to consult more than the one word given.
func decode(raw uint32) Insn {
	in := Insn{Raw: raw}
	in.TouchedRegs = [3]Reg{
		Reg(raw & 0x1f),
		Reg((raw >> 5) & 0x1f),
		Reg((raw >> 16) & 0x1f),
	}

	switch {
	case raw == EncodeRet(LR):
		in.EndOfInput = true
		return in

	case (raw>>25)&0x7f == 0b1101011: // BR/BLR/RET family
		opc := (raw >> 21) & 0xf
		switch opc {
		case 0b0010: // RET Xn, n != LR
			in.EndOfInput = true
		case 0b0001: // BLR: calls through a register, falls back through here
			// not end-of-input; relocatable verbatim.
		default: // BR and anything else: target is opaque to this relocator.
			in.Unsupported = true
		}
		return in

	case (raw>>26)&0x3f == 0b000101: // B
		in.Kind = pcRelBUncond
		in.EndOfInput = true
		return in

	case (raw>>26)&0x3f == 0b100101: // BL
		in.Kind = pcRelBUncond
		return in

	case raw>>24 == 0b01010100: // B.cond
		in.Kind = pcRelBCond
		return in

	case (raw>>25)&0x3f == 0b011010: // CBZ/CBNZ
		in.Kind = pcRelCBZCBNZ
		return in

	case (raw>>25)&0x3f == 0b011011: // TBZ/TBNZ: not rewritten, see DESIGN.md.
		in.Unsupported = true
		return in

	case (raw>>24)&0x1f == 0b10000: // ADR/ADRP
		in.Kind = pcRelAdrAdrp
		return in

	case (raw>>27)&0x7 == 0b011 && (raw>>24)&0x3 == 0b00: // LDR (literal), any size/kind
		in.Kind = pcRelLdrLiteral
		return in
	}

	return in
}

// Relocate rewrites in (read from srcAddr) so that, once written at w's
// current PC, it has the same architectural effect as executing the
// original bytes at srcAddr — rewriting any PC-relative operand to
// compensate for the new location (spec §3 invariant) — and emits it via
// w.Emit4. It reports ok=false if the instruction's PC-relative target no
// longer fits the instruction's encoding from the new address (expected
// to be vanishingly rare given the Trampoline Allocator Adapter's
// near-address placement).
func (rl *Relocator) Relocate(w *Writer, srcAddr uintptr, in Insn) (ok bool) {
	if in.Kind == pcRelNone {
		w.Emit4(in.Raw)
		return true
	}

	newAddr := w.PC()
	switch in.Kind {
	case pcRelBUncond:
		target := int64(srcAddr) + signExtend(in.Raw&0x03ff_ffff, 26)*4
		off := target - int64(newAddr)
		if !fitsSigned(off/4, 26) {
			return false
		}
		link := in.Raw&(1<<31) != 0
		w.Emit4(encodeUnconditionalBranch(link, off))
		return true

	case pcRelBCond:
		imm19 := (in.Raw >> 5) & 0x7_ffff
		target := int64(srcAddr) + signExtend(imm19, 19)*4
		off := target - int64(newAddr)
		if !fitsSigned(off/4, 19) {
			return false
		}
		w.Emit4((in.Raw &^ (0x7_ffff << 5)) | (uint32(off/4)&0x7_ffff)<<5)
		return true

	case pcRelCBZCBNZ:
		imm19 := (in.Raw >> 5) & 0x7_ffff
		target := int64(srcAddr) + signExtend(imm19, 19)*4
		off := target - int64(newAddr)
		if !fitsSigned(off/4, 19) {
			return false
		}
		w.Emit4((in.Raw &^ (0x7_ffff << 5)) | (uint32(off/4)&0x7_ffff)<<5)
		return true

	case pcRelAdrAdrp:
		rd := Reg(in.Raw & 0x1f)
		op := (in.Raw >> 31) & 1
		immlo := (in.Raw >> 29) & 0b11
		immhi := (in.Raw >> 5) & 0x7_ffff
		imm21 := signExtend(immhi<<2|immlo, 21)
		if op == 0 { // ADR: byte-granular
			target := int64(srcAddr) + imm21
			off := target - int64(newAddr)
			if !fitsSigned(off, 21) {
				return false
			}
			w.Emit4(EncodeAdr(rd, off))
		} else { // ADRP: 4KiB-page-granular
			targetPage := (int64(srcAddr) &^ 0xfff) + imm21*4096
			newPage := int64(newAddr) &^ 0xfff
			offPages := (targetPage - newPage) / 4096
			if !fitsSigned(offPages, 21) {
				return false
			}
			w.Emit4(EncodeAdrp(rd, offPages))
		}
		return true

	case pcRelLdrLiteral:
		imm19 := (in.Raw >> 5) & 0x7_ffff
		target := int64(srcAddr) + signExtend(imm19, 19)*4
		off := target - int64(newAddr)
		if !fitsSigned(off/4, 19) {
			return false
		}
		w.Emit4((in.Raw &^ (0x7_ffff << 5)) | (uint32(off/4)&0x7_ffff)<<5)
		return true
	}
	panic("arm64enc: BUG: unhandled pcRelKind")
}

func signExtend(v uint32, bits uint) int64 {
	x := int64(v) & (1<<bits - 1)
	if x&(1<<(bits-1)) != 0 {
		x -= 1 << bits
	}
	return x
}

func fitsSigned(v int64, bits uint) bool {
	lo := -(int64(1) << (bits - 1))
	hi := int64(1)<<(bits-1) - 1
	return v >= lo && v <= hi
}
