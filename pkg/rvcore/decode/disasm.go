package decode

import "fmt"

// Disassemble renders a decoded instruction as RISC-V assembly text.
// It only needs to recognize enough encodings for trace logging in the
// System driver; unrecognized encodings are rendered as a hex dump
// rather than causing a panic.
func Disassemble(in Instruction) string {
	switch in.Opcode {
	case OpOpImm:
		switch in.Funct3 {
		case 0x0:
			return fmt.Sprintf("addi x%d, x%d, %d", in.Rd, in.Rs1, in.ImmI)
		case 0x2:
			return fmt.Sprintf("slti x%d, x%d, %d", in.Rd, in.Rs1, in.ImmI)
		case 0x3:
			return fmt.Sprintf("sltiu x%d, x%d, %d", in.Rd, in.Rs1, in.ImmI)
		case 0x4:
			return fmt.Sprintf("xori x%d, x%d, %d", in.Rd, in.Rs1, in.ImmI)
		case 0x6:
			return fmt.Sprintf("ori x%d, x%d, %d", in.Rd, in.Rs1, in.ImmI)
		case 0x7:
			return fmt.Sprintf("andi x%d, x%d, %d", in.Rd, in.Rs1, in.ImmI)
		case 0x1:
			return fmt.Sprintf("slli x%d, x%d, %d", in.Rd, in.Rs1, in.Rs2)
		case 0x5:
			if in.Funct7&0x20 != 0 {
				return fmt.Sprintf("srai x%d, x%d, %d", in.Rd, in.Rs1, in.Rs2)
			}
			return fmt.Sprintf("srli x%d, x%d, %d", in.Rd, in.Rs1, in.Rs2)
		}
	case OpOp:
		return fmt.Sprintf("op x%d, x%d, x%d (f3=%d f7=%#x)", in.Rd, in.Rs1, in.Rs2, in.Funct3, in.Funct7)
	case OpLUI:
		return fmt.Sprintf("lui x%d, %#x", in.Rd, uint32(in.ImmU)>>12)
	case OpAUIPC:
		return fmt.Sprintf("auipc x%d, %#x", in.Rd, uint32(in.ImmU)>>12)
	case OpJAL:
		return fmt.Sprintf("jal x%d, %d", in.Rd, in.ImmJ)
	case OpJALR:
		return fmt.Sprintf("jalr x%d, %d(x%d)", in.Rd, in.ImmI, in.Rs1)
	case OpBranch:
		return fmt.Sprintf("b%d x%d, x%d, %d", in.Funct3, in.Rs1, in.Rs2, in.ImmB)
	case OpLoad:
		return fmt.Sprintf("l%d x%d, %d(x%d)", in.Funct3, in.Rd, in.ImmI, in.Rs1)
	case OpStore:
		return fmt.Sprintf("s%d x%d, %d(x%d)", in.Funct3, in.Rs2, in.ImmS, in.Rs1)
	case OpSystem:
		if in.Funct3 == 0 {
			switch in.ImmI {
			case 0:
				return "ecall"
			case 1:
				return "ebreak"
			}
			return fmt.Sprintf("system imm=%#x", in.ImmI)
		}
		return fmt.Sprintf("csr x%d, %#x, x%d (f3=%d)", in.Rd, in.ImmI&0xfff, in.Rs1, in.Funct3)
	case OpAMO:
		return fmt.Sprintf("amo.%d x%d, x%d, (x%d) f7=%#x", in.Funct3, in.Rd, in.Rs2, in.Rs1, in.Funct7>>2)
	case OpLoadFP, OpStoreFP, OpOpFP, OpMadd, OpMsub, OpNmsub, OpNmadd:
		return fmt.Sprintf("fp op=%#x f3=%d f7=%#x rd=%d rs1=%d rs2=%d", in.Opcode, in.Funct3, in.Funct7, in.Rd, in.Rs1, in.Rs2)
	case OpMiscMem:
		if in.Funct3 == 1 {
			return "fence.i"
		}
		return "fence"
	}
	return fmt.Sprintf("<unknown %#08x>", in.Raw)
}
