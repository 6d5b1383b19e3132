package interp

import (
	"github.com/rvcore/rvcore/pkg/rvcore/decode"
	"github.com/rvcore/rvcore/pkg/rvcore/mmu"
)

// execute dispatches one decoded instruction. It returns the trap to
// raise, if any; otherwise it has already updated CPU state (including
// PC) and the caller moves on to the next instruction.
func (m *Machine) execute(in decode.Instruction) (*Trap, error) {
	c := m.CPU
	switch in.Opcode {
	case decode.OpOpImm:
		m.execOpImm(in)
	case decode.OpOp:
		if tr := m.execOp(in); tr != nil {
			return tr, nil
		}
	case decode.OpLUI:
		c.SetGPR(in.Rd, uint32(in.ImmU))
	case decode.OpAUIPC:
		c.SetGPR(in.Rd, c.PC+uint32(in.ImmU))
	case decode.OpJAL:
		c.SetGPR(in.Rd, c.PC+4)
		c.PC += uint32(in.ImmJ)
		return nil, nil
	case decode.OpJALR:
		target := (c.GPR[in.Rs1] + uint32(in.ImmI)) &^ 1
		c.SetGPR(in.Rd, c.PC+4)
		c.PC = target
		return nil, nil
	case decode.OpBranch:
		if m.execBranch(in) {
			c.PC += uint32(in.ImmB)
		} else {
			c.PC += 4
		}
		return nil, nil
	case decode.OpLoad:
		tr, err := m.execLoad(in)
		if tr != nil || err != nil {
			return tr, err
		}
	case decode.OpStore:
		tr, err := m.execStore(in)
		if tr != nil || err != nil {
			return tr, err
		}
	case decode.OpMiscMem:
		if in.Funct3 == 1 { // FENCE.I
			m.Cache.InvalidateAll()
		}
		// FENCE (funct3==0) is a no-op: this core has no store buffer or
		// multiple harts to order against.
	case decode.OpAMO:
		tr, err := m.execAMO(in)
		if tr != nil || err != nil {
			return tr, err
		}
	case decode.OpSystem:
		// execSystem owns PC entirely: xRET jumps to xepc, ECALL/EBREAK
		// leave PC on the trapping instruction, and WFI/SFENCE.VMA/CSR ops
		// advance it themselves, so (unlike every other case here) it must
		// not fall through to the common advance below.
		return m.execSystem(in)
	case decode.OpLoadFP:
		tr, err := m.execLoadFP(in)
		if tr != nil || err != nil {
			return tr, err
		}
	case decode.OpStoreFP:
		tr, err := m.execStoreFP(in)
		if tr != nil || err != nil {
			return tr, err
		}
	case decode.OpOpFP:
		if tr := m.execOpFP(in); tr != nil {
			return tr, nil
		}
	case decode.OpMadd, decode.OpMsub, decode.OpNmsub, decode.OpNmadd:
		if tr := m.execFusedFP(in); tr != nil {
			return tr, nil
		}
	default:
		return illegal(in.Raw), nil
	}
	c.PC += 4
	return nil, nil
}

func (m *Machine) execOpImm(in decode.Instruction) {
	c := m.CPU
	rs1 := c.GPR[in.Rs1]
	var result uint32
	switch in.Funct3 {
	case 0x0:
		result = rs1 + uint32(in.ImmI)
	case 0x2:
		result = b2u(int32(rs1) < in.ImmI)
	case 0x3:
		result = b2u(rs1 < uint32(in.ImmI))
	case 0x4:
		result = rs1 ^ uint32(in.ImmI)
	case 0x6:
		result = rs1 | uint32(in.ImmI)
	case 0x7:
		result = rs1 & uint32(in.ImmI)
	case 0x1:
		result = rs1 << (uint32(in.ImmI) & 0x1f)
	case 0x5:
		shamt := uint32(in.ImmI) & 0x1f
		if in.Funct7&0x20 != 0 {
			result = uint32(int32(rs1) >> shamt)
		} else {
			result = rs1 >> shamt
		}
	}
	c.SetGPR(in.Rd, result)
}

func (m *Machine) execOp(in decode.Instruction) *Trap {
	c := m.CPU
	rs1, rs2 := c.GPR[in.Rs1], c.GPR[in.Rs2]
	if in.Funct7 == 0x01 { // M extension
		c.SetGPR(in.Rd, execMulDiv(in.Funct3, rs1, rs2))
		return nil
	}
	var result uint32
	switch in.Funct3 {
	case 0x0:
		if in.Funct7&0x20 != 0 {
			result = rs1 - rs2
		} else {
			result = rs1 + rs2
		}
	case 0x1:
		result = rs1 << (rs2 & 0x1f)
	case 0x2:
		result = b2u(int32(rs1) < int32(rs2))
	case 0x3:
		result = b2u(rs1 < rs2)
	case 0x4:
		result = rs1 ^ rs2
	case 0x5:
		if in.Funct7&0x20 != 0 {
			result = uint32(int32(rs1) >> (rs2 & 0x1f))
		} else {
			result = rs1 >> (rs2 & 0x1f)
		}
	case 0x6:
		result = rs1 | rs2
	case 0x7:
		result = rs1 & rs2
	}
	c.SetGPR(in.Rd, result)
	return nil
}

func execMulDiv(funct3 uint32, rs1, rs2 uint32) uint32 {
	switch funct3 {
	case 0x0: // MUL
		return rs1 * rs2
	case 0x1: // MULH
		return uint32((int64(int32(rs1)) * int64(int32(rs2))) >> 32)
	case 0x2: // MULHSU
		return uint32((int64(int32(rs1)) * int64(uint64(rs2))) >> 32)
	case 0x3: // MULHU
		return uint32((uint64(rs1) * uint64(rs2)) >> 32)
	case 0x4: // DIV
		if rs2 == 0 {
			return 0xffffffff
		}
		if int32(rs1) == -2147483648 && int32(rs2) == -1 {
			return rs1 // overflow: result is the dividend, per RISC-V
		}
		return uint32(int32(rs1) / int32(rs2))
	case 0x5: // DIVU
		if rs2 == 0 {
			return 0xffffffff
		}
		return rs1 / rs2
	case 0x6: // REM
		if rs2 == 0 {
			return rs1
		}
		if int32(rs1) == -2147483648 && int32(rs2) == -1 {
			return 0
		}
		return uint32(int32(rs1) % int32(rs2))
	case 0x7: // REMU
		if rs2 == 0 {
			return rs1
		}
		return rs1 % rs2
	}
	return 0
}

func (m *Machine) execBranch(in decode.Instruction) bool {
	rs1, rs2 := m.CPU.GPR[in.Rs1], m.CPU.GPR[in.Rs2]
	switch in.Funct3 {
	case 0x0:
		return rs1 == rs2
	case 0x1:
		return rs1 != rs2
	case 0x4:
		return int32(rs1) < int32(rs2)
	case 0x5:
		return int32(rs1) >= int32(rs2)
	case 0x6:
		return rs1 < rs2
	case 0x7:
		return rs1 >= rs2
	}
	return false
}

func (m *Machine) execLoad(in decode.Instruction) (*Trap, error) {
	vaddr := m.CPU.GPR[in.Rs1] + uint32(in.ImmI)
	var nbytes int
	var signed bool
	switch in.Funct3 {
	case 0x0:
		nbytes, signed = 1, true
	case 0x1:
		nbytes, signed = 2, true
	case 0x2:
		nbytes, signed = 4, true
	case 0x4:
		nbytes, signed = 1, false
	case 0x5:
		nbytes, signed = 2, false
	default:
		return illegal(in.Raw), nil
	}
	v, tr, err := m.load(vaddr, nbytes, signed)
	if tr != nil || err != nil {
		return tr, err
	}
	m.CPU.SetGPR(in.Rd, v)
	return nil, nil
}

func (m *Machine) execStore(in decode.Instruction) (*Trap, error) {
	vaddr := m.CPU.GPR[in.Rs1] + uint32(in.ImmS)
	var nbytes int
	switch in.Funct3 {
	case 0x0:
		nbytes = 1
	case 0x1:
		nbytes = 2
	case 0x2:
		nbytes = 4
	default:
		return illegal(in.Raw), nil
	}
	value := m.CPU.GPR[in.Rs2]
	// A store to any byte within the reserved 4-byte word invalidates an
	// outstanding LR/SC reservation, aligned or not. The check needs
	// physical addresses, so translate the way the store itself will:
	// one mapping when aligned, per-byte when misaligned (cheap either
	// way: the translations land in the TLB the store reuses).
	if m.CPU.Res.Valid {
		m.clearReservationIfStoreOverlaps(vaddr, nbytes)
	}
	return m.store(vaddr, nbytes, uint64(value))
}

func (m *Machine) clearReservationIfStoreOverlaps(vaddr uint32, nbytes int) {
	if vaddr%uint32(nbytes) == 0 {
		if paddr, tr, err := m.translate(vaddr, storeAccessFor(nbytes)); tr == nil && err == nil {
			if overlapsReservedWord(paddr, nbytes, m.CPU.Res.Paddr) {
				m.CPU.Res.Valid = false
			}
		}
		return
	}
	for i := 0; i < nbytes; i++ {
		paddr, tr, err := m.translate(vaddr+uint32(i), mmu.AccessStore8)
		if tr != nil || err != nil {
			return // the store itself will fault on this byte; nothing to clear yet
		}
		if overlapsReservedWord(paddr, 1, m.CPU.Res.Paddr) {
			m.CPU.Res.Valid = false
			return
		}
	}
}

func overlapsReservedWord(paddr uint32, nbytes int, reservedPaddr uint32) bool {
	lo, hi := paddr, paddr+uint32(nbytes)
	return hi > reservedPaddr && lo < reservedPaddr+4
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
