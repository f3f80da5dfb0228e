package arm64enc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRetIsRecognisedAsEndOfInput(t *testing.T) {
	in := decode(EncodeRet(LR))
	require.True(t, in.EndOfInput)
	require.False(t, in.Unsupported)
}

func TestEncodeBRoundTripsThroughDecodeBranch(t *testing.T) {
	const addr = uintptr(0x1000)
	raw := EncodeB(0x40) // branch forward 64 bytes
	target, ok := DecodeBranch(addr, raw)
	require.True(t, ok)
	require.Equal(t, addr+0x40, target)
}

func TestEncodeBLIsNotTreatedAsRedirect(t *testing.T) {
	raw := EncodeBL(0x40)
	_, ok := DecodeBranch(0x1000, raw)
	require.False(t, ok, "BL is a call, not a tail redirect")
}

func TestDecodeBRIsUnsupported(t *testing.T) {
	// "BR X0" - an indirect branch the relocator cannot follow.
	raw := EncodeBr(X0)
	in := decode(raw)
	require.True(t, in.Unsupported)
	require.False(t, in.EndOfInput)
}

func TestDecodeBLRIsRelocatableAndNotEndOfInput(t *testing.T) {
	raw := EncodeBlr(X0)
	in := decode(raw)
	require.False(t, in.Unsupported)
	require.False(t, in.EndOfInput)
}

func TestEncodeMoveWideImmediateFields(t *testing.T) {
	raw := EncodeMovz(X3, 0xbeef, 1)
	require.Equal(t, uint32(0xbeef), (raw>>5)&0xffff)
	require.Equal(t, uint32(1), (raw>>21)&0b11)
	require.Equal(t, uint32(3), raw&0x1f)
}

func TestEncodeAddSubImm12(t *testing.T) {
	add := EncodeAddImm12(X1, SP, 16)
	require.Equal(t, uint32(0), (add>>30)&1, "ADD has op=0")
	sub := EncodeSubImm12(SP, SP, 16)
	require.Equal(t, uint32(1), (sub>>30)&1, "SUB has op=1")
}

func TestEncodeStpLdpPairRoundTripFields(t *testing.T) {
	push := EncodeStpPre64(X1, X2, SP, -16)
	require.Equal(t, uint32(1), (push>>24)&1, "pre-indexed bit set")
	require.Equal(t, uint32(0), (push>>22)&1, "store, not load")

	pop := EncodeLdpPost64(X1, X2, SP, 16)
	require.Equal(t, uint32(0), (pop>>24)&1, "post-indexed bit clear")
	require.Equal(t, uint32(1), (pop>>22)&1, "load, not store")
}

func TestEncodeAdrAdrpOpBit(t *testing.T) {
	adr := EncodeAdr(X16, 0x100)
	require.Equal(t, uint32(0), adr>>31)
	adrp := EncodeAdrp(X16, 2)
	require.Equal(t, uint32(1), adrp>>31)
}

func TestPushPopVectorPairInstructionsAreSymmetric(t *testing.T) {
	push := PushVectorPairInstructions()
	pop := PopVectorPairInstructions()
	require.Len(t, push, 4)
	require.Len(t, pop, 4)
	// Pushed highest pair first (q6,q7), popped lowest pair first (q0,q1):
	// the two sequences must be exact reverses of one another register-wise.
	require.Equal(t, uint32(0xadbf1fe6), push[0])
	require.Equal(t, uint32(0xacc11fe6), pop[3])
}
