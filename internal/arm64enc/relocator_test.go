package arm64enc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func rawBytesOf(instrs ...uint32) []byte {
	buf := make([]byte, 4*len(instrs))
	for i, v := range instrs {
		buf[i*4] = byte(v)
		buf[i*4+1] = byte(v >> 8)
		buf[i*4+2] = byte(v >> 16)
		buf[i*4+3] = byte(v >> 24)
	}
	return buf
}

func TestRelocatorReadOneRet(t *testing.T) {
	const base = uintptr(0x4000)
	src := SliceReader{Base: base, Data: rawBytesOf(EncodeRet(LR))}
	rl := NewRelocator(src)

	in, err := rl.ReadOne(base)
	require.NoError(t, err)
	require.True(t, in.EndOfInput)
}

func TestRelocateAdrpPreservesAbsoluteTarget(t *testing.T) {
	const srcAddr = uintptr(0x10_0000)
	const labelPage = int64(3) // target is 3 pages ahead of srcAddr's page
	adrp := EncodeAdrp(X9, labelPage)
	src := SliceReader{Base: srcAddr, Data: rawBytesOf(adrp)}
	rl := NewRelocator(src)

	in, err := rl.ReadOne(srcAddr)
	require.NoError(t, err)
	require.Equal(t, pcRelAdrAdrp, in.Kind)

	dstBuf := make([]byte, 4)
	const dstAddr = uintptr(0x20_3000) // relocated far away, different page
	w := NewWriter(dstBuf, dstAddr)
	ok := rl.Relocate(w, srcAddr, in)
	require.True(t, ok)

	relocated := decode(w.Bytes()[0] | uint32(w.Bytes()[1])<<8 | uint32(w.Bytes()[2])<<16 | uint32(w.Bytes()[3])<<24)
	_ = relocated

	// Recompute what the relocated ADRP actually resolves to and check it
	// equals the original absolute target page.
	origTargetPage := (int64(srcAddr) &^ 0xfff) + labelPage*4096
	raw := uint32(dstBuf[0]) | uint32(dstBuf[1])<<8 | uint32(dstBuf[2])<<16 | uint32(dstBuf[3])<<24
	immlo := (raw >> 29) & 0b11
	immhi := (raw >> 5) & 0x7_ffff
	newOffPages := signExtend(immhi<<2|immlo, 21)
	newTargetPage := (int64(dstAddr) &^ 0xfff) + newOffPages*4096
	require.Equal(t, origTargetPage, newTargetPage)
}

func TestRelocateBUncondRewritesOffset(t *testing.T) {
	const srcAddr = uintptr(0x1000)
	const target = uintptr(0x2000)
	b := EncodeB(int64(target) - int64(srcAddr))
	src := SliceReader{Base: srcAddr, Data: rawBytesOf(b)}
	rl := NewRelocator(src)
	in, err := rl.ReadOne(srcAddr)
	require.NoError(t, err)
	require.True(t, in.EndOfInput)

	dstBuf := make([]byte, 4)
	const dstAddr = uintptr(0x5000)
	w := NewWriter(dstBuf, dstAddr)
	require.True(t, rl.Relocate(w, srcAddr, in))

	raw := uint32(dstBuf[0]) | uint32(dstBuf[1])<<8 | uint32(dstBuf[2])<<16 | uint32(dstBuf[3])<<24
	got, ok := DecodeBranch(dstAddr, raw)
	require.True(t, ok)
	require.Equal(t, target, got)
}

func TestDecodeTBZIsUnsupported(t *testing.T) {
	// TBZ W0, #0, #0: bits30:25 = 011011 identify the TBZ/TBNZ family.
	raw := uint32(0b011011) << 25
	in := decode(raw)
	require.True(t, in.Unsupported)
}
