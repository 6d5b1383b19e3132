// Package cpu holds the processor state spec.md §3 describes: the
// program counter, integer and floating-point register files,
// current privilege mode, wait-for-interrupt flag, load-reserved
// reservation, and the embedded CSR file.
package cpu

import (
	"github.com/rvcore/rvcore/pkg/rvcore/csr"
	"github.com/rvcore/rvcore/pkg/rvcore/fpu"
)

// Privilege levels, matching csr.Privilege.
type Privilege = csr.Privilege

const (
	User       = csr.User
	Supervisor = csr.Supervisor
	Machine    = csr.Machine
)

// Reservation is the load-reserved/store-conditional record: a valid
// bit and a reserved physical address aligned to 4 bytes. Per spec.md
// §5, since this core models a single hart, LR/SC reduces to this
// simple valid/invalid flag pair.
type Reservation struct {
	Valid bool
	Paddr uint32
}

// CPU is the complete architectural state of the single hart this core
// models.
type CPU struct {
	PC   uint32
	GPR  [32]uint32
	FPR  [32]uint64 // NaN-boxed; see pkg/rvcore/fpu
	Priv Privilege
	WFI  bool
	Res  Reservation
	CSR  *csr.File
}

// New returns a CPU reset to Machine mode with a fresh CSR file.
func New() *CPU {
	return &CPU{
		Priv: Machine,
		CSR:  csr.New(),
	}
}

// SetGPR writes rd, silently discarding writes to x0 as spec.md §3
// requires ("entry zero hard-wired to zero on all writes").
func (c *CPU) SetGPR(rd uint32, v uint32) {
	if rd != 0 {
		c.GPR[rd] = v
	}
}

// SetFPRSingle NaN-boxes and stores a single-precision result.
func (c *CPU) SetFPRSingle(rd uint32, bits uint32) {
	c.FPR[rd] = fpu.Box32(bits)
}

// SetFPRDouble stores a double-precision result directly.
func (c *CPU) SetFPRDouble(rd uint32, bits uint64) {
	c.FPR[rd] = bits
}

// FPRSingle reads rs as a NaN-boxed single.
func (c *CPU) FPRSingle(rs uint32) uint32 {
	return fpu.Unbox32(c.FPR[rs])
}

// FPRDouble reads rs as a double.
func (c *CPU) FPRDouble(rs uint32) uint64 {
	return c.FPR[rs]
}

// FSEnabled reports whether the floating-point unit is usable in the
// current mstatus.FS state; FS==Off (0) means any FP instruction
// traps illegal-instruction, per spec.md §7.
func (c *CPU) FSEnabled() bool {
	return c.CSR.Mstatus()&csr.MstatusFSMask != 0
}

// MarkFSDirty sets mstatus.FS to Dirty (3) after any FP register
// write, as the privileged spec requires so that context switches know
// to save FP state; harmless to set unconditionally here since this
// core has no hypervisor-visible cost model for it.
func (c *CPU) MarkFSDirty() {
	c.CSR.SetMstatus(c.CSR.Mstatus() | csr.MstatusFSMask)
}
