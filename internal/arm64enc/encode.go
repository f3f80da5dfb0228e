package arm64enc

// This file encodes the small, fixed set of A64 instruction forms the
// Thunk Builder, Trampoline Builder and Patcher need. It is not a
// general-purpose assembler: every function here corresponds to exactly
// one instruction shape used elsewhere in this module, grounded
// function-by-function on the equivalent encode* helper in
// tetratelabs-wazero's internal/engine/wazevo/backend/isa/arm64/instr_encoding.go
// (see DESIGN.md). The bit layouts are standard A64 and are cross-checked
// against the ARM Architecture Reference Manual section cited in each
// doc comment.

// EncodeRet encodes "RET Xn" (default LR).
// https://developer.arm.com/documentation/ddi0596/2020-12/Base-Instructions/RET--Return-from-subroutine-
func EncodeRet(rn Reg) uint32 {
	return 0b1101011001011111<<16 | rn.encoding()<<5
}

// EncodeB encodes an unconditional branch "B #imm26*4".
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/B--Branch-
func EncodeB(imm26x4 int64) uint32 {
	return encodeUnconditionalBranch(false, imm26x4)
}

// EncodeBL encodes "BL #imm26*4".
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/BL--Branch-with-Link-
func EncodeBL(imm26x4 int64) uint32 {
	return encodeUnconditionalBranch(true, imm26x4)
}

func encodeUnconditionalBranch(link bool, imm26x4 int64) uint32 {
	if imm26x4%4 != 0 {
		panic("arm64enc: branch offset must be a multiple of 4")
	}
	imm26 := imm26x4 / 4
	ret := uint32(imm26) & 0x03ff_ffff
	ret |= 0b101 << 26
	if link {
		ret |= 1 << 31
	}
	return ret
}

// EncodeBr encodes "BR Xn".
// EncodeBlr encodes "BLR Xn".
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/BR--Branch-to-Register-
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/BLR--Branch-with-Link-to-Register-
func EncodeBr(rn Reg) uint32  { return encodeUnconditionalBranchReg(rn, false) }
func EncodeBlr(rn Reg) uint32 { return encodeUnconditionalBranchReg(rn, true) }

func encodeUnconditionalBranchReg(rn Reg, link bool) uint32 {
	var opc uint32
	if link {
		opc = 0b0001
	}
	return 0b1101011<<25 | opc<<21 | 0b11111<<16 | rn.encoding()<<5
}

// EncodeAdr encodes "ADR Xd, #byteOffset" — PC-relative, unscaled.
// EncodeAdrp encodes "ADRP Xd, #pageOffset" — PC-relative, 4KiB-page-scaled.
// Both share the "PC-relative addressing" format; op selects ADR (0) vs
// ADRP (1).
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/ADR--Form-PC-relative-address-
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/ADRP--Form-PC-relative-address-to-4KB-page-
func EncodeAdr(rd Reg, byteOffset int64) uint32  { return encodePCRelAddr(0, rd, byteOffset) }
func EncodeAdrp(rd Reg, pageOffset int64) uint32 { return encodePCRelAddr(1, rd, pageOffset) }

func encodePCRelAddr(op uint32, rd Reg, imm21 int64) uint32 {
	u := uint32(imm21) & 0x1f_ffff
	immlo := u & 0b11
	immhi := (u >> 2) & 0x7_ffff
	return op<<31 | immlo<<29 | 0b10000<<24 | immhi<<5 | rd.encoding()
}

// EncodeLdrLitX64 encodes "LDR Xt, #byteOffset" (64-bit literal load,
// PC-relative, imm19 scaled by 4).
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/LDR--literal---Load-Register--literal--
func EncodeLdrLitX64(rt Reg, byteOffset int64) uint32 {
	if byteOffset%4 != 0 {
		panic("arm64enc: literal load offset must be a multiple of 4")
	}
	imm19 := uint32(byteOffset/4) & 0x7_ffff
	const opc64 = 0b01
	return opc64<<30 | 0b011<<27 | 0b00<<24 | imm19<<5 | rt.encoding()
}

// moveWideOpc selects MOVN(00)/MOVZ(10)/MOVK(11).
type moveWideOpc uint32

const (
	movOpcMOVN moveWideOpc = 0b00
	movOpcMOVZ moveWideOpc = 0b10
	movOpcMOVK moveWideOpc = 0b11
)

// EncodeMovz encodes "MOVZ Xd, #imm16, LSL #(shift*16)".
// EncodeMovk encodes "MOVK Xd, #imm16, LSL #(shift*16)".
// EncodeMovn encodes "MOVN Xd, #imm16, LSL #(shift*16)".
// https://developer.arm.com/documentation/ddi0596/2020-12/Base-Instructions/MOVZ--Move-wide-with-zero-
func EncodeMovz(rd Reg, imm16 uint16, shift uint8) uint32 {
	return encodeMoveWideImmediate(movOpcMOVZ, rd, imm16, shift)
}

func EncodeMovk(rd Reg, imm16 uint16, shift uint8) uint32 {
	return encodeMoveWideImmediate(movOpcMOVK, rd, imm16, shift)
}

func EncodeMovn(rd Reg, imm16 uint16, shift uint8) uint32 {
	return encodeMoveWideImmediate(movOpcMOVN, rd, imm16, shift)
}

func encodeMoveWideImmediate(opc moveWideOpc, rd Reg, imm16 uint16, shift uint8) uint32 {
	if shift > 3 {
		panic("arm64enc: shift must be 0..3 (units of 16 bits)")
	}
	ret := rd.encoding()
	ret |= uint32(imm16) << 5
	ret |= uint32(shift) << 21
	ret |= 0b100101 << 23
	ret |= uint32(opc) << 29
	ret |= 1 << 31 // 64-bit variant; this module never emits 32-bit movz/movk/movn
	return ret
}

// EncodeAddImm12 encodes "ADD Xd, Xn, #imm12" (64-bit, no shift).
// EncodeSubImm12 encodes "SUB Xd, Xn, #imm12" (64-bit, no shift).
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/ADD--immediate---Add--immediate--
func EncodeAddImm12(rd, rn Reg, imm12 uint16) uint32 { return encodeAddSubImm(false, rd, rn, imm12) }
func EncodeSubImm12(rd, rn Reg, imm12 uint16) uint32 { return encodeAddSubImm(true, rd, rn, imm12) }

func encodeAddSubImm(sub bool, rd, rn Reg, imm12 uint16) uint32 {
	if imm12 >= 1<<12 {
		panic("arm64enc: imm12 out of range")
	}
	var op uint32
	if sub {
		op = 1
	}
	ret := rd.encoding()
	ret |= rn.encoding() << 5
	ret |= uint32(imm12) << 10
	ret |= 0b100010 << 23
	ret |= op << 30
	ret |= 1 << 31 // 64-bit
	return ret
}

// EncodeMovReg encodes "MOV Xd, Xn" as its canonical alias "ORR Xd, XZR, Xn".
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/MOV--register---Move--register---an-alias-of-ORR--shifted-register--
func EncodeMovReg(rd, rn Reg) uint32 {
	// ORR Xd, XZR, Xn, LSL #0 (logical-shifted-register family).
	const orrOpc = 0b01 // opc=01 selects ORR in the "Logical (shifted register)" family
	ret := rd.encoding()
	ret |= rn.encoding() << 16
	ret |= XZR.encoding() << 5
	ret |= 0b01010<<24 | orrOpc<<29
	ret |= 1 << 31 // 64-bit
	return ret
}

// EncodeStpPre64 encodes "STP Xt, Xt2, [Xn, #imm7]!" (pre-indexed, 64-bit
// general-purpose register pair). imm7 must be a multiple of 8.
// EncodeLdpPost64 encodes "LDP Xt, Xt2, [Xn], #imm7" (post-indexed).
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/STP--Store-Pair-of-Registers-
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/LDP--Load-Pair-of-Registers-
func EncodeStpPre64(rt, rt2, rn Reg, imm7 int64) uint32 {
	return encodePrePostIndexPairGPR(true, false, rt, rt2, rn, imm7)
}

func EncodeLdpPost64(rt, rt2, rn Reg, imm7 int64) uint32 {
	return encodePrePostIndexPairGPR(false, true, rt, rt2, rn, imm7)
}

func encodePrePostIndexPairGPR(pre, load bool, rt, rt2, rn Reg, imm7 int64) uint32 {
	if imm7%8 != 0 {
		panic("arm64enc: imm7 for GPR pair load/store must be a multiple of 8")
	}
	scaled := imm7 / 8
	ret := rt.encoding()
	ret |= rn.encoding() << 5
	ret |= rt2.encoding() << 10
	ret |= (uint32(scaled) & 0x7f) << 15
	if load {
		ret |= 1 << 22
	}
	ret |= 0b101010001 << 23
	if pre {
		ret |= 1 << 24
	}
	return ret
}

// pushVectorPairInstr / popVectorPairInstr are the fixed STP/LDP Qn,Qn+1
// encodings used by the enter/leave thunk prolog and epilog to spill the
// caller-saved vector registers Q0..Q7. These four pairs are never
// parameterised elsewhere in this module (the prolog/epilog always save
// exactly Q0..Q7 in the same order), so — matching the original
// guminterceptor-arm64.c, which also emits them as raw instruction words
// via gum_arm64_writer_put_instruction rather than through its own
// encoder — they are kept as named literal opcodes rather than run
// through a general SIMD-pair encoder.
//
// Each entry stores the pre-indexed store (push, descending: Q7:Q6 down to
// Q1:Q0, each "STP Qt, Qt2, [SP, #-32]!") and the matching post-indexed
// load (pop, ascending) used to restore them in reverse order.
var (
	pushVectorPairInstr = [4]uint32{
		0xadbf1fe6, // stp q6, q7, [sp, #-32]!
		0xadbf17e4, // stp q4, q5, [sp, #-32]!
		0xadbf0fe2, // stp q2, q3, [sp, #-32]!
		0xadbf07e0, // stp q0, q1, [sp, #-32]!
	}
	popVectorPairInstr = [4]uint32{
		0xacc107e0, // ldp q0, q1, [sp], #32
		0xacc10fe2, // ldp q2, q3, [sp], #32
		0xacc117e4, // ldp q4, q5, [sp], #32
		0xacc11fe6, // ldp q6, q7, [sp], #32
	}
)

// PushVectorPairInstructions returns, in emission order, the four
// instructions that push Q0..Q7 onto the stack (STP Q6,Q7 first, down to
// STP Q0,Q1 last), matching gum_emit_prolog's vector-save sequence.
func PushVectorPairInstructions() [4]uint32 { return pushVectorPairInstr }

// PopVectorPairInstructions returns, in emission order, the four
// instructions that pop Q0..Q7 back off the stack (LDP Q0,Q1 first, up to
// LDP Q6,Q7 last), matching gum_emit_epilog's vector-restore sequence.
func PopVectorPairInstructions() [4]uint32 { return popVectorPairInstr }

// EncodeNop encodes "NOP".
func EncodeNop() uint32 { return 0xd503201f }
