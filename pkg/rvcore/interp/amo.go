package interp

import (
	"github.com/rvcore/rvcore/pkg/rvcore/cpu"
	"github.com/rvcore/rvcore/pkg/rvcore/decode"
)

// AMO op5 values (bits 31:27 of the encoding, i.e. Funct7>>2).
const (
	amoAdd   = 0x00
	amoSwap  = 0x01
	amoLR    = 0x02
	amoSC    = 0x03
	amoXor   = 0x04
	amoOr    = 0x08
	amoAnd   = 0x0c
	amoMin   = 0x10
	amoMax   = 0x14
	amoMinU  = 0x18
	amoMaxU  = 0x1c
)

// execAMO implements LR/SC and the read-modify-write AMO family.
// spec.md §4.6: "LR/SC operate only on 4-byte-aligned physical
// addresses"; "AMO instructions perform load, arithmetic op, store
// atomically with respect to the single-hart interpreter (they are not
// interrupted)" — true for free here since nothing else ever runs
// between the load and the store in this single-goroutine interpreter.
func (m *Machine) execAMO(in decode.Instruction) (*Trap, error) {
	if in.Funct3 != 0x2 { // only .W (32-bit) is implemented
		return illegal(in.Raw), nil
	}
	op := in.Funct7 >> 2
	vaddr := m.CPU.GPR[in.Rs1]
	if vaddr%4 != 0 {
		// Unaligned LR/SC/AMO traps (address-misaligned), unlike plain
		// loads/stores, because atomicity requires alignment (spec.md §7).
		code := uint32(loadMisaligned)
		if op == amoSC || (op != amoLR) {
			code = storeMisaligned
		}
		return &Trap{Code: code, Tval: vaddr}, nil
	}
	// LR translates as a load; SC and the read-modify-write ops translate
	// as stores so the walker sets the D bit and misses surface as store
	// faults, matching the A extension's fault taxonomy.
	access := storeAccessFor(4)
	if op == amoLR {
		access = loadAccessFor(4)
	}
	paddr, tr, err := m.translate(vaddr, access)
	if tr != nil || err != nil {
		return tr, err
	}

	switch op {
	case amoLR:
		v, err := m.Bus.Read32(paddr)
		if err != nil {
			return nil, err
		}
		m.CPU.Res = cpu.Reservation{Valid: true, Paddr: paddr}
		m.CPU.SetGPR(in.Rd, v)
		return nil, nil
	case amoSC:
		if m.CPU.Res.Valid && m.CPU.Res.Paddr == paddr {
			if err := m.Bus.Write32(paddr, m.CPU.GPR[in.Rs2]); err != nil {
				return nil, err
			}
			m.CPU.SetGPR(in.Rd, 0) // success
		} else {
			m.CPU.SetGPR(in.Rd, 1) // failure
		}
		m.CPU.Res.Valid = false
		return nil, nil
	}

	old, err := m.Bus.Read32(paddr)
	if err != nil {
		return nil, err
	}
	rs2 := m.CPU.GPR[in.Rs2]
	var result uint32
	switch op {
	case amoAdd:
		result = old + rs2
	case amoSwap:
		result = rs2
	case amoXor:
		result = old ^ rs2
	case amoOr:
		result = old | rs2
	case amoAnd:
		result = old & rs2
	case amoMin:
		if int32(old) < int32(rs2) {
			result = old
		} else {
			result = rs2
		}
	case amoMax:
		if int32(old) > int32(rs2) {
			result = old
		} else {
			result = rs2
		}
	case amoMinU:
		if old < rs2 {
			result = old
		} else {
			result = rs2
		}
	case amoMaxU:
		if old > rs2 {
			result = old
		} else {
			result = rs2
		}
	default:
		return illegal(in.Raw), nil
	}
	if err := m.Bus.Write32(paddr, result); err != nil {
		return nil, err
	}
	if m.CPU.Res.Valid && overlapsReservedWord(paddr, 4, m.CPU.Res.Paddr) {
		m.CPU.Res.Valid = false
	}
	m.CPU.SetGPR(in.Rd, old)
	return nil, nil
}

const (
	loadMisaligned  = 4
	storeMisaligned = 6
)
