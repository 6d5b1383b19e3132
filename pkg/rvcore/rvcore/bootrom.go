package rvcore

import "github.com/rvcore/rvcore/pkg/rvcore/csr"

// scratchReg is the GPR the boot ROM uses to stage every CSR value
// before writing it; x5 (t0) is never live across the boot sequence so
// clobbering it is safe.
const scratchReg = 5

// BuildBootROM hand-assembles the fixed instruction sequence spec.md §6
// describes: it delegates the exceptions and interrupts a Supervisor
// trap handler must see, arranges mstatus/mepc/mtvec/mcounteren for a
// clean drop into the kernel, and executes MRET. There is no general
// assembler in this tree (kernel images arrive as prebuilt machine
// code; see DESIGN.md), so the handful of instructions this boot
// sequence needs are encoded directly here.
//
// base is the physical address the ROM is mapped at (needed to compute
// the absolute address of its own trap-landing-pad, used as mtvec).
// kernelEntry is the address placed in mepc, i.e. where MRET lands.
func BuildBootROM(base uint32, kernelEntry uint32) []uint32 {
	const trapPadWords = 19 // index of the landing-pad instruction below

	medeleg := uint32(0x1ff | 0xf000) // delegate exceptions 0-8 and 12-15
	mideleg := uint32(1<<1 | 1<<5 | 1<<9) // SSIP, STIP, SEIP
	mstatusVal := uint32(1<<csr.MstatusMPPShift | csr.MstatusMPIE) // MPP=S, MPIE=1
	mtvecVal := base + trapPadWords*4
	mcounterenVal := uint32(0x7) // cycle, time, instret readable from S-mode

	var rom []uint32
	emit := func(csrNum uint32, val uint32) {
		hi, lo := splitImm32(val)
		rom = append(rom,
			encodeLUI(scratchReg, hi),
			encodeADDI(scratchReg, scratchReg, lo),
			encodeCSRRW(0, csrNum, scratchReg),
		)
	}
	emit(csr.Medeleg, medeleg)
	emit(csr.Mideleg, mideleg)
	emit(csr.Mstatus, mstatusVal)
	emit(csr.Mepc, kernelEntry)
	emit(csr.Mtvec, mtvecVal)
	emit(csr.Mcounteren, mcounterenVal)
	rom = append(rom, encodeMRET())
	rom = append(rom, encodeJAL(0, 0)) // trap landing pad: j . (should never run)

	if len(rom) != trapPadWords+1 {
		panic("rvcore: boot ROM layout drifted from its hand-computed trapPadWords offset")
	}
	return rom
}

// splitImm32 splits val into the (hi, lo) pair a LUI+ADDI "li" idiom
// needs: hi rounds up so that sign-extending lo's low 12 bits and
// adding them to hi<<12 reconstructs val exactly.
func splitImm32(val uint32) (hi uint32, lo int32) {
	hi = (val + 0x800) >> 12
	lo = int32(val) - int32(hi<<12)
	return hi, lo
}

const (
	opcodeOpImm = 0x13
	opcodeLUI   = 0x37
	opcodeJAL   = 0x6f
	opcodeSystem = 0x73
)

func encodeItype(opcode, funct3, rd, rs1 uint32, imm12 int32) uint32 {
	return uint32(imm12&0xfff)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeADDI(rd, rs1 uint32, imm12 int32) uint32 {
	return encodeItype(opcodeOpImm, 0, rd, rs1, imm12)
}

func encodeLUI(rd, imm20 uint32) uint32 {
	return (imm20&0xfffff)<<12 | rd<<7 | opcodeLUI
}

func encodeCSRRW(rd, csrNum, rs1 uint32) uint32 {
	return encodeItype(opcodeSystem, 1, rd, rs1, int32(csrNum))
}

func encodeMRET() uint32 {
	// funct7=0011000, rs2=00010, rs1=0, funct3=0, rd=0, opcode=SYSTEM.
	return 0x18<<25 | 2<<20 | opcodeSystem
}

func encodeJAL(rd uint32, imm21 int32) uint32 {
	u := uint32(imm21)
	bit20 := (u >> 20) & 1
	bits10to1 := (u >> 1) & 0x3ff
	bit11 := (u >> 11) & 1
	bits19to12 := (u >> 12) & 0xff
	return bit20<<31 | bits10to1<<21 | bit11<<20 | bits19to12<<12 | rd<<7 | opcodeJAL
}
