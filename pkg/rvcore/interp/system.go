package interp

import (
	"github.com/rvcore/rvcore/pkg/rvcore/cpu"
	"github.com/rvcore/rvcore/pkg/rvcore/csr"
	"github.com/rvcore/rvcore/pkg/rvcore/decode"
	"github.com/rvcore/rvcore/pkg/rvcore/trap"
)

// execSystem handles every SYSTEM-opcode instruction: ECALL/EBREAK
// (which return a Trap for the caller to inject, except Supervisor
// ECALL — see below), xRET, WFI, SFENCE.VMA, and the six CSR
// read-modify-write forms.
func (m *Machine) execSystem(in decode.Instruction) (*Trap, error) {
	c := m.CPU
	if in.Funct3 == 0 {
		switch {
		case in.Funct7 == 0 && in.Rs2 == 0: // ECALL
			return m.execEcall()
		case in.Funct7 == 0 && in.Rs2 == 1: // EBREAK
			return &Trap{Code: trap.ExcBreakpoint, Tval: c.PC}, nil
		case in.Funct7 == 0x18 && in.Rs2 == 2: // MRET
			if c.Priv != cpu.Machine {
				return illegal(in.Raw), nil
			}
			return nil, m.xret(true)
		case in.Funct7 == 0x08 && in.Rs2 == 2: // SRET
			if c.Priv < cpu.Supervisor {
				return illegal(in.Raw), nil
			}
			return nil, m.xret(false)
		case in.Funct7 == 0x08 && in.Rs2 == 5: // WFI
			// WFI from User mode without delegation is illegal; this core
			// allows it from S and M, matching Linux's only caller.
			if c.Priv == cpu.User {
				return illegal(in.Raw), nil
			}
			c.WFI = true
			c.PC += 4
			return nil, nil
		case in.Funct7 == 0x09: // SFENCE.VMA
			if c.Priv == cpu.User {
				return illegal(in.Raw), nil
			}
			m.MMU.TLB.InvalidateAll()
			m.Cache.InvalidateAll()
			c.PC += 4
			return nil, nil
		default:
			return illegal(in.Raw), nil
		}
	}
	return m.execCSR(in)
}

// execEcall resolves spec.md §4.5/§6: an ECALL from Supervisor is the
// SBI boundary and never reaches pkg/rvcore/trap; ECALL from U or M is
// an ordinary synchronous exception.
func (m *Machine) execEcall() (*Trap, error) {
	switch m.CPU.Priv {
	case cpu.Supervisor:
		return &Trap{SBICall: true}, nil
	case cpu.User:
		return &Trap{Code: trap.ExcEcallU}, nil
	default:
		return &Trap{Code: trap.ExcEcallM}, nil
	}
}

func (m *Machine) xret(fromMachine bool) error {
	priv := m.CPU.Priv
	pc := trap.Return(m.CPU.CSR, &priv, fromMachine)
	m.CPU.Priv = priv
	m.CPU.PC = pc
	return nil
}

// execCSR implements CSRRW/CSRRS/CSRRC and their immediate forms. Per
// spec.md §4.3, writes below the CSR's privilege trap
// illegal-instruction; CSRRS/CSRRC with rs1==x0 (or a zero immediate)
// perform no write at all, which matters for read-only CSRs like
// cycle/time/instret.
func (m *Machine) execCSR(in decode.Instruction) (*Trap, error) {
	c := m.CPU
	num := uint32(in.ImmI) & 0xfff
	priv := csr.Privilege(c.Priv)

	old, err := c.CSR.Read(num, priv)
	if err != nil {
		return illegal(in.Raw), nil
	}

	var operand uint32
	writes := true
	switch in.Funct3 {
	case 0x1, 0x2, 0x3: // CSRRW, CSRRS, CSRRC
		operand = c.GPR[in.Rs1]
		if (in.Funct3 == 0x2 || in.Funct3 == 0x3) && in.Rs1 == 0 {
			writes = false
		}
	case 0x5, 0x6, 0x7: // CSRRWI, CSRRSI, CSRRCI
		operand = in.Rs1 // the 5-bit "immediate" is encoded in the rs1 field
		if (in.Funct3 == 0x6 || in.Funct3 == 0x7) && operand == 0 {
			writes = false
		}
	}

	var newValue uint32
	switch in.Funct3 {
	case 0x1, 0x5:
		newValue = operand
	case 0x2, 0x6:
		newValue = old | operand
	case 0x3, 0x7:
		newValue = old &^ operand
	}

	if writes {
		if err := c.CSR.Write(num, newValue, priv); err != nil {
			return illegal(in.Raw), nil
		}
	}
	c.SetGPR(in.Rd, old)
	c.PC += 4
	return nil, nil
}
