package arm64enc

import (
	"encoding/binary"
	"fmt"
)

// SliceReader is a Reader backed by an in-memory byte slice pretending to
// live at Base — used by tests, and by any host that has already copied
// a candidate target's bytes out of the remote/foreign address space it
// actually lives in.
type SliceReader struct {
	Base uintptr
	Data []byte
}

// ReadUint32 implements Reader.
func (s SliceReader) ReadUint32(addr uintptr) (uint32, error) {
	if addr < s.Base {
		return 0, fmt.Errorf("arm64enc: address %#x before base %#x", addr, s.Base)
	}
	off := addr - s.Base
	if off+4 > uintptr(len(s.Data)) {
		return 0, fmt.Errorf("arm64enc: address %#x out of range", addr)
	}
	return binary.LittleEndian.Uint32(s.Data[off : off+4]), nil
}

// DecodeBranch reports the absolute destination of raw, read from addr, if
// raw encodes an unconditional relative jump (B, or BR/BLR-style this
// relocator cannot resolve are reported as not-a-jump). This backs
// ResolveRedirect (spec §4.4 "redirect resolution"), grounded on
// gum_arm64_reader_try_get_relative_jump_target.
func DecodeBranch(addr uintptr, raw uint32) (target uintptr, ok bool) {
	in := decode(raw)
	if in.Kind != pcRelBUncond || in.Raw&(1<<31) != 0 {
		// Only a plain, non-linking B counts as a "redirect" a resolver
		// should chase transparently; BL is a call, not a tail redirect.
		return 0, false
	}
	off := signExtend(raw&0x03ff_ffff, 26) * 4
	return uintptr(int64(addr) + off), true
}

// DecodeRedirect reports the absolute destination of whichever of the
// three redirect forms ActivateTrampoline may have written at addr: a
// plain B (4 bytes), an "ADRP X16,page; BR X16" pair (8 bytes — valid
// only because the backend always places such a target on a page
// boundary, so ADRP's page-granular immediate already names it exactly),
// or an "LDR X16,[pc,#8]; BR X16; <8-byte literal>" sequence (16 bytes).
// Anything else reports ok=false. Extends DecodeBranch (the plain-B case
// ported from gum_arm64_reader_try_get_relative_jump_target) to the two
// redirect shapes the ARM64 backend also emits, which the original
// resolves the same way since its writer always leaves X16 holding the
// jump target right before the BR.
func DecodeRedirect(r Reader, addr uintptr) (target uintptr, ok bool) {
	word0, err := r.ReadUint32(addr)
	if err != nil {
		return 0, false
	}

	if target, ok := DecodeBranch(addr, word0); ok {
		return target, true
	}

	in := decode(word0)
	switch {
	case in.Kind == pcRelAdrAdrp && (word0>>31)&1 == 1 && Reg(word0&0x1f) == X16:
		word1, err := r.ReadUint32(addr + 4)
		if err != nil || word1 != EncodeBr(X16) {
			return 0, false
		}
		immlo := (word0 >> 29) & 0b11
		immhi := (word0 >> 5) & 0x7_ffff
		imm21 := signExtend(immhi<<2|immlo, 21)
		page := (int64(addr) &^ 0xfff) + imm21*4096
		return uintptr(page), true

	case in.Kind == pcRelLdrLiteral && Reg(word0&0x1f) == X16:
		imm19 := (word0 >> 5) & 0x7_ffff
		if imm19 != 2 { // byteOffset == 8, i.e. "LDR X16,[pc,#8]"
			return 0, false
		}
		word1, err := r.ReadUint32(addr + 4)
		if err != nil || word1 != EncodeBr(X16) {
			return 0, false
		}
		lo, err := r.ReadUint32(addr + 8)
		if err != nil {
			return 0, false
		}
		hi, err := r.ReadUint32(addr + 12)
		if err != nil {
			return 0, false
		}
		return uintptr(uint64(lo) | uint64(hi)<<32), true
	}

	return 0, false
}
