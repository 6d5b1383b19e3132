// Package decode turns a 32-bit RISC-V encoding into a structured
// instruction record.
//
// The decoder is not authoritative: the interpreter switches on Opcode
// and, for each instruction format, reads only the immediate it needs.
// Decode still extracts every immediate format eagerly because an
// instruction's format is only fully known once its opcode and funct3
// have been consulted by the caller; the cost of computing all five
// sign-extended candidates up front is small compared to the branching
// needed to pick the right one lazily, and it keeps this package free
// of any notion of "what the interpreter needs next".
package decode

// Base opcodes (bits 6:2 of the encoding, with the mandatory 0b11 in
// bits 1:0 already stripped).
const (
	OpLoad     = 0x00
	OpLoadFP   = 0x01
	OpMiscMem  = 0x03
	OpOpImm    = 0x04
	OpAUIPC    = 0x05
	OpStore    = 0x08
	OpStoreFP  = 0x09
	OpAMO      = 0x0b
	OpOp       = 0x0c
	OpLUI      = 0x0d
	OpMadd     = 0x10
	OpMsub     = 0x11
	OpNmsub    = 0x12
	OpNmadd    = 0x13
	OpOpFP     = 0x14
	OpBranch   = 0x18
	OpJALR     = 0x19
	OpJAL      = 0x1b
	OpSystem   = 0x1c
)

// Instruction is a decoded 32-bit RISC-V instruction. Every field is
// extracted for every encoding; only the fields relevant to its format
// carry meaningful values.
type Instruction struct {
	Raw    uint32
	Opcode uint32
	Rd     uint32
	Rs1    uint32
	Rs2    uint32
	Rs3    uint32 // source register 3, fused multiply-add only
	Funct2 uint32 // fused multiply-add precision selector
	Funct3 uint32
	Funct7 uint32

	ImmI int32
	ImmS int32
	ImmB int32
	ImmU int32
	ImmJ int32
}

// Decode extracts opcode, register fields, funct3/funct7, and every
// immediate format from a raw 32-bit little-endian instruction word.
func Decode(word uint32) Instruction {
	in := Instruction{
		Raw:    word,
		Opcode: (word >> 2) & 0x1f,
		Rd:     (word >> 7) & 0x1f,
		Funct3: (word >> 12) & 0x7,
		Rs1:    (word >> 15) & 0x1f,
		Rs2:    (word >> 20) & 0x1f,
		Funct7: (word >> 25) & 0x7f,
	}
	in.Rs3 = (word >> 27) & 0x1f
	in.Funct2 = (word >> 25) & 0x3

	in.ImmI = signExtend(word>>20, 12)
	in.ImmS = signExtend(((word>>25)<<5)|((word>>7)&0x1f), 12)
	in.ImmB = signExtend(
		(((word>>31)&1)<<12)|
			(((word>>7)&1)<<11)|
			(((word>>25)&0x3f)<<5)|
			(((word>>8)&0xf)<<1), 13)
	in.ImmU = int32(word & 0xfffff000)
	in.ImmJ = signExtend(
		(((word>>31)&1)<<20)|
			(((word>>12)&0xff)<<12)|
			(((word>>20)&1)<<11)|
			(((word>>21)&0x3ff)<<1), 21)
	return in
}

// IsTerminator reports whether in ends a basic block: a branch, an
// unconditional or indirect jump, a FENCE.I/SFENCE.VMA, or a SYSTEM
// instruction (ECALL/EBREAK/xRET/WFI). Block compilation (pkg/rvcore/block)
// stops immediately after such an instruction.
func IsTerminator(in Instruction) bool {
	switch in.Opcode {
	case OpBranch, OpJAL, OpJALR, OpSystem:
		return true
	case OpMiscMem:
		return in.Funct3 == 0x1 // FENCE.I
	}
	return false
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}
