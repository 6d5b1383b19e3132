package interp

import (
	"math"

	"github.com/rvcore/rvcore/pkg/rvcore/decode"
	"github.com/rvcore/rvcore/pkg/rvcore/fpu"
)

// resolveRM returns the effective rounding mode for an instruction's rm
// field: 0-4 select a static mode, 7 selects whatever is currently in
// frm (the "dynamic" encoding). 5 and 6 are reserved; this core treats
// them as RNE rather than trapping, since no guest kernel emits them.
func (m *Machine) resolveRM(rm uint32) uint32 {
	if rm == 7 {
		return m.CPU.CSR.Frm()
	}
	if rm > 4 {
		return fpu.RNE
	}
	return rm
}

func (m *Machine) execLoadFP(in decode.Instruction) (*Trap, error) {
	if !m.CPU.FSEnabled() {
		return illegal(in.Raw), nil
	}
	vaddr := m.CPU.GPR[in.Rs1] + uint32(in.ImmI)
	switch in.Funct3 {
	case 0x2: // FLW
		v, tr, err := m.load(vaddr, 4, false)
		if tr != nil || err != nil {
			return tr, err
		}
		m.CPU.SetFPRSingle(in.Rd, v)
	case 0x3: // FLD
		v, tr, err := m.load64(vaddr)
		if tr != nil || err != nil {
			return tr, err
		}
		m.CPU.SetFPRDouble(in.Rd, v)
	default:
		return illegal(in.Raw), nil
	}
	m.CPU.MarkFSDirty()
	return nil, nil
}

func (m *Machine) execStoreFP(in decode.Instruction) (*Trap, error) {
	if !m.CPU.FSEnabled() {
		return illegal(in.Raw), nil
	}
	vaddr := m.CPU.GPR[in.Rs1] + uint32(in.ImmS)
	switch in.Funct3 {
	case 0x2: // FSW
		return m.store(vaddr, 4, uint64(m.CPU.FPRSingle(in.Rs2)))
	case 0x3: // FSD
		return m.store(vaddr, 8, m.CPU.FPRDouble(in.Rs2))
	default:
		return illegal(in.Raw), nil
	}
}

// execOpFP implements the entire OP-FP opcode: arithmetic, conversions,
// sign-injection, min/max, comparisons, classification, and the
// integer/FPR bit-move instructions. funct7's low bit selects single vs
// double precision for the ops that support both; the conversion and
// move variants use fixed funct7s with rs2 selecting the companion
// type, per the standard RISC-V F/D encoding.
func (m *Machine) execOpFP(in decode.Instruction) *Trap {
	c := m.CPU
	if !c.FSEnabled() {
		return illegal(in.Raw)
	}
	switch in.Funct7 {
	case 0, 1: // FADD
		return m.fpBinOp(in, func(a, b float64) float64 { return a + b })
	case 4, 5: // FSUB
		return m.fpBinOp(in, func(a, b float64) float64 { return a - b })
	case 8, 9: // FMUL
		return m.fpBinOp(in, func(a, b float64) float64 { return a * b })
	case 12, 13: // FDIV
		return m.fpBinOp(in, func(a, b float64) float64 {
			if b == 0 && a != 0 && !math.IsNaN(a) {
				c.CSR.OrFflags(fpu.FlagDZ)
			}
			return a / b
		})
	case 16, 17: // FSGNJ/FSGNJN/FSGNJX
		return m.fpSignInject(in)
	case 20, 21: // FMIN/FMAX
		return m.fpMinMax(in)
	case 44, 45: // FSQRT
		return m.fpSqrt(in)
	case 32: // FCVT.S.D
		if in.Rs2 != 1 {
			return illegal(in.Raw)
		}
		d := fpu.F64(c.FPR[in.Rs1])
		r := float32(fpu.Round(d, m.resolveRM(in.Funct3)))
		if math.IsNaN(float64(r)) {
			c.CSR.OrFflags(fpu.FlagNV)
		}
		c.SetFPRSingle(in.Rd, uint32(fpu.FromF32(r)))
	case 33: // FCVT.D.S (always exact: widening)
		if in.Rs2 != 0 {
			return illegal(in.Raw)
		}
		c.SetFPRDouble(in.Rd, fpu.FromF64(float64(fpu.F32(c.FPR[in.Rs1]))))
	case 96, 97: // FCVT.W(U).S/D -> GPR
		return m.fpCvtToInt(in)
	case 104, 105: // FCVT.S/D.W(U) -> FPR
		return m.fpCvtFromInt(in)
	case 80, 81: // FEQ/FLT/FLE
		return m.fpCompare(in)
	case 112, 113: // FCLASS / FMV.X.W
		return m.fpClassOrMoveToInt(in)
	case 120: // FMV.W.X
		if in.Rs2 != 0 || in.Funct3 != 0 {
			return illegal(in.Raw)
		}
		c.SetFPRSingle(in.Rd, c.GPR[in.Rs1])
		c.MarkFSDirty()
		return nil
	default:
		return illegal(in.Raw)
	}
	c.MarkFSDirty()
	return nil
}

func (m *Machine) fpBinOp(in decode.Instruction, op func(a, b float64) float64) *Trap {
	c := m.CPU
	double := in.Funct7&1 == 1
	rm := m.resolveRM(in.Funct3)
	if double {
		a, b := fpu.F64(c.FPR[in.Rs1]), fpu.F64(c.FPR[in.Rs2])
		r := fpu.Round(op(a, b), rm)
		if math.IsNaN(r) && !math.IsNaN(a) && !math.IsNaN(b) {
			c.CSR.OrFflags(fpu.FlagNV)
		}
		c.SetFPRDouble(in.Rd, fpu.FromF64(r))
	} else {
		a, b := float64(fpu.F32(c.FPR[in.Rs1])), float64(fpu.F32(c.FPR[in.Rs2]))
		r := float32(fpu.Round(op(a, b), rm))
		if math.IsNaN(float64(r)) && !math.IsNaN(a) && !math.IsNaN(b) {
			c.CSR.OrFflags(fpu.FlagNV)
		}
		c.SetFPRSingle(in.Rd, uint32(fpu.FromF32(r)))
	}
	c.MarkFSDirty()
	return nil
}

func (m *Machine) fpSqrt(in decode.Instruction) *Trap {
	c := m.CPU
	if in.Rs2 != 0 {
		return illegal(in.Raw)
	}
	double := in.Funct7 == 45
	rm := m.resolveRM(in.Funct3)
	if double {
		a := fpu.F64(c.FPR[in.Rs1])
		if a < 0 {
			c.CSR.OrFflags(fpu.FlagNV)
		}
		c.SetFPRDouble(in.Rd, fpu.FromF64(fpu.Round(math.Sqrt(a), rm)))
	} else {
		a := float64(fpu.F32(c.FPR[in.Rs1]))
		if a < 0 {
			c.CSR.OrFflags(fpu.FlagNV)
		}
		c.SetFPRSingle(in.Rd, uint32(fpu.FromF32(float32(fpu.Round(math.Sqrt(a), rm)))))
	}
	c.MarkFSDirty()
	return nil
}

func (m *Machine) fpSignInject(in decode.Instruction) *Trap {
	c := m.CPU
	double := in.Funct7 == 17
	if double {
		a, b := fpu.F64(c.FPR[in.Rs1]), fpu.F64(c.FPR[in.Rs2])
		neg := signFor(in.Funct3, math.Signbit(a), math.Signbit(b))
		r := math.Abs(a)
		if neg {
			r = -r
		}
		c.SetFPRDouble(in.Rd, fpu.FromF64(r))
	} else {
		a, b := fpu.F32(c.FPR[in.Rs1]), fpu.F32(c.FPR[in.Rs2])
		neg := signFor(in.Funct3, math.Signbit(float64(a)), math.Signbit(float64(b)))
		r := float32(math.Abs(float64(a)))
		if neg {
			r = -r
		}
		c.SetFPRSingle(in.Rd, uint32(fpu.FromF32(r)))
	}
	c.MarkFSDirty()
	return nil
}

func signFor(funct3 uint32, signA, signB bool) bool {
	switch funct3 {
	case 0: // FSGNJ
		return signB
	case 1: // FSGNJN
		return !signB
	default: // FSGNJX
		return signA != signB
	}
}

func (m *Machine) fpMinMax(in decode.Instruction) *Trap {
	c := m.CPU
	wantMax := in.Funct3 == 1
	double := in.Funct7 == 21
	if double {
		a, b := fpu.F64(c.FPR[in.Rs1]), fpu.F64(c.FPR[in.Rs2])
		c.SetFPRDouble(in.Rd, fpu.FromF64(minMaxIEEE(a, b, wantMax, m)))
	} else {
		a, b := float64(fpu.F32(c.FPR[in.Rs1])), float64(fpu.F32(c.FPR[in.Rs2]))
		c.SetFPRSingle(in.Rd, uint32(fpu.FromF32(float32(minMaxIEEE(a, b, wantMax, m)))))
	}
	c.MarkFSDirty()
	return nil
}

// minMaxIEEE implements FMIN/FMAX's NaN-propagation rule: if exactly one
// operand is NaN, the other is returned; if both are NaN, a canonical
// NaN is returned and the invalid flag is raised.
func minMaxIEEE(a, b float64, wantMax bool, c *Machine) float64 {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		c.CPU.CSR.OrFflags(fpu.FlagNV)
		return math.NaN()
	case aNaN:
		return b
	case bNaN:
		return a
	}
	if wantMax {
		return math.Max(a, b)
	}
	return math.Min(a, b)
}

func (m *Machine) fpCvtToInt(in decode.Instruction) *Trap {
	c := m.CPU
	double := in.Funct7 == 97
	unsigned := in.Rs2 == 1
	var v uint32
	var flags uint32
	switch {
	case double && !unsigned:
		var iv int32
		iv, flags = fpu.CvtWD(fpu.F64(c.FPR[in.Rs1]))
		v = uint32(iv)
	case double && unsigned:
		v, flags = fpu.CvtWUD(fpu.F64(c.FPR[in.Rs1]))
	case !double && !unsigned:
		var iv int32
		iv, flags = fpu.CvtWS(fpu.F32(c.FPR[in.Rs1]))
		v = uint32(iv)
	default:
		v, flags = fpu.CvtWUS(fpu.F32(c.FPR[in.Rs1]))
	}
	c.CSR.OrFflags(flags)
	c.SetGPR(in.Rd, v)
	return nil
}

func (m *Machine) fpCvtFromInt(in decode.Instruction) *Trap {
	c := m.CPU
	double := in.Funct7 == 105
	unsigned := in.Rs2 == 1
	raw := c.GPR[in.Rs1]
	rm := m.resolveRM(in.Funct3)
	var f float64
	if unsigned {
		f = float64(raw)
	} else {
		f = float64(int32(raw))
	}
	if double {
		c.SetFPRDouble(in.Rd, fpu.FromF64(f)) // widening int32->double is always exact
	} else {
		c.SetFPRSingle(in.Rd, uint32(fpu.FromF32(float32(fpu.Round(f, rm)))))
	}
	c.MarkFSDirty()
	return nil
}

func (m *Machine) fpCompare(in decode.Instruction) *Trap {
	c := m.CPU
	double := in.Funct7 == 81
	var a, b float64
	if double {
		a, b = fpu.F64(c.FPR[in.Rs1]), fpu.F64(c.FPR[in.Rs2])
	} else {
		a, b = float64(fpu.F32(c.FPR[in.Rs1])), float64(fpu.F32(c.FPR[in.Rs2]))
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		// FEQ on a quiet NaN is merely false; FLT/FLE additionally signal
		// invalid, per the RISC-V spec's distinction between quiet and
		// signaling comparison predicates.
		if in.Funct3 != 2 {
			c.CSR.OrFflags(fpu.FlagNV)
		}
		c.SetGPR(in.Rd, 0)
		return nil
	}
	var result bool
	switch in.Funct3 {
	case 0: // FLE
		result = a <= b
	case 1: // FLT
		result = a < b
	case 2: // FEQ
		result = a == b
	default:
		return illegal(in.Raw)
	}
	c.SetGPR(in.Rd, b2u(result))
	return nil
}

func (m *Machine) fpClassOrMoveToInt(in decode.Instruction) *Trap {
	c := m.CPU
	if in.Rs2 != 0 {
		return illegal(in.Raw)
	}
	double := in.Funct7 == 113
	switch in.Funct3 {
	case 0: // FMV.X.W (single only; RV32 has no FMV.X.D)
		if double {
			return illegal(in.Raw)
		}
		c.SetGPR(in.Rd, c.FPRSingle(in.Rs1))
	case 1: // FCLASS
		if double {
			c.SetGPR(in.Rd, fpu.Classify(fpu.F64(c.FPR[in.Rs1])))
		} else {
			c.SetGPR(in.Rd, fpu.Classify(float64(fpu.F32(c.FPR[in.Rs1]))))
		}
	default:
		return illegal(in.Raw)
	}
	return nil
}

// execFusedFP implements FMADD/FMSUB/FNMSUB/FNMADD. Funct2 selects
// precision (0 = single, 1 = double, matching the two low bits fmt
// encodes elsewhere); Rs3 holds the third operand, unique to this
// instruction format.
func (m *Machine) execFusedFP(in decode.Instruction) *Trap {
	c := m.CPU
	if !c.FSEnabled() {
		return illegal(in.Raw)
	}
	if in.Funct2 > 1 {
		return illegal(in.Raw)
	}
	double := in.Funct2 == 1
	rm := m.resolveRM(in.Funct3)
	if double {
		a, b, d := fpu.F64(c.FPR[in.Rs1]), fpu.F64(c.FPR[in.Rs2]), fpu.F64(c.FPR[in.Rs3])
		res := fusedOp(in.Opcode, a, b, d)
		res = fpu.Round(res, rm)
		if math.IsNaN(res) {
			c.CSR.OrFflags(fpu.FlagNV)
		}
		c.SetFPRDouble(in.Rd, fpu.FromF64(res))
	} else {
		a, b, d := float64(fpu.F32(c.FPR[in.Rs1])), float64(fpu.F32(c.FPR[in.Rs2])), float64(fpu.F32(c.FPR[in.Rs3]))
		res := fusedOp(in.Opcode, a, b, d)
		res32 := float32(fpu.Round(res, rm))
		if math.IsNaN(float64(res32)) {
			c.CSR.OrFflags(fpu.FlagNV)
		}
		c.SetFPRSingle(in.Rd, uint32(fpu.FromF32(res32)))
	}
	c.MarkFSDirty()
	return nil
}

func fusedOp(opcode uint32, a, b, d float64) float64 {
	switch opcode {
	case decode.OpMadd:
		return a*b + d
	case decode.OpMsub:
		return a*b - d
	case decode.OpNmsub:
		return -(a * b) + d
	default: // OpNmadd
		return -(a * b) - d
	}
}
