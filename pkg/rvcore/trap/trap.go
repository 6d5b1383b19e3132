// Package trap encodes the RISC-V exception/interrupt taxonomy and the
// privilege-transition machinery spec.md §4.5 describes: delegation
// lookup, mstatus bit shuffling (xIE -> xPIE, current priv -> xPP),
// xcause/xtval/xepc assignment, and the xtvec-based handler address.
package trap

import "github.com/rvcore/rvcore/pkg/rvcore/csr"

// Cause codes (exception codes in the low bits; Interrupt adds the
// top bit when forming mcause/scause).
const (
	ExcInstrMisaligned = 0
	ExcInstrAccessFault = 1
	ExcIllegalInstr    = 2
	ExcBreakpoint      = 3
	ExcLoadMisaligned  = 4
	ExcLoadAccessFault = 5
	ExcStoreMisaligned = 6
	ExcStoreAccessFault = 7
	ExcEcallU          = 8
	ExcEcallS          = 9
	ExcEcallM          = 11
	ExcInstrPageFault  = 12
	ExcLoadPageFault   = 13
	ExcStorePageFault  = 15

	IntSupervisorSoftware = 1
	IntMachineSoftware    = 3
	IntSupervisorTimer    = 5
	IntMachineTimer       = 7
	IntSupervisorExternal = 9
	IntMachineExternal    = 11
)

const interruptBit = 1 << 31

// Cause packages an exception/interrupt code with its interrupt flag.
type Cause struct {
	Code        uint32
	IsInterrupt bool
}

// Encode returns the xcause value for c: the code with bit 31 set for
// interrupts, as spec.md §4.5 requires.
func (c Cause) Encode() uint32 {
	if c.IsInterrupt {
		return c.Code | interruptBit
	}
	return c.Code
}

// Privilege mirrors csr.Privilege/cpu.Privilege.
type Privilege = csr.Privilege

// DeliveryPrivilege determines whether c should be delivered to
// Supervisor or Machine: an exception goes to Supervisor if priv is
// below Machine and the corresponding medeleg bit is set; otherwise
// Machine. Interrupts consult mideleg identically.
func DeliveryPrivilege(f *csr.File, priv Privilege, c Cause) Privilege {
	if priv == csr.Machine {
		return csr.Machine
	}
	deleg := f.Medeleg()
	if c.IsInterrupt {
		deleg = f.Mideleg()
	}
	if deleg&(1<<c.Code) != 0 {
		return csr.Supervisor
	}
	return csr.Machine
}

// Inject delivers c to the CPU: it updates mstatus/mepc/mcause/mtval
// (or their S-mode counterparts), switches privilege, and returns the
// handler PC per the delivery xtvec's mode bits (direct, or vectored
// for interrupts when the low two bits are 0b01).
//
// trapPC is the PC to record in xepc: for interrupts and most
// exceptions this is the instruction about to execute (current PC);
// callers needing "next PC for interrupts" per spec.md §4.5 pass the
// PC of the instruction that would have executed next, since this
// core's interrupt check happens at block boundaries before fetch.
func Inject(f *csr.File, priv *Privilege, c Cause, trapPC uint32, tval uint32) uint32 {
	delivery := DeliveryPrivilege(f, *priv, c)
	mstatus := f.Mstatus()

	if delivery == csr.Supervisor {
		if mstatus&csr.MstatusSIE != 0 {
			mstatus |= csr.MstatusSPIE
		} else {
			mstatus &^= csr.MstatusSPIE
		}
		mstatus &^= csr.MstatusSIE
		if *priv == csr.Supervisor {
			mstatus |= csr.MstatusSPP
		} else {
			mstatus &^= csr.MstatusSPP
		}
		f.SetMstatus(mstatus)
		f.SetSepc(trapPC)
		f.SetScause(c.Encode())
		f.SetStval(tval)
		*priv = csr.Supervisor
		return handlerPC(f.Stvec(), c)
	}

	if mstatus&csr.MstatusMIE != 0 {
		mstatus |= csr.MstatusMPIE
	} else {
		mstatus &^= csr.MstatusMPIE
	}
	mstatus &^= csr.MstatusMIE
	mstatus = (mstatus &^ csr.MstatusMPPMask) | (uint32(*priv) << csr.MstatusMPPShift)
	f.SetMstatus(mstatus)
	f.SetMepc(trapPC)
	f.SetMcause(c.Encode())
	f.SetMtval(tval)
	*priv = csr.Machine
	return handlerPC(f.Mtvec(), c)
}

func handlerPC(tvec uint32, c Cause) uint32 {
	base := tvec &^ 0x3
	mode := tvec & 0x3
	if c.IsInterrupt && mode == 1 {
		return base + 4*c.Code
	}
	return base
}

// Return undoes Inject's mstatus shuffle for xRET: xPIE restores to
// xIE, priv moves to xPP, xPP resets to User, xPIE sets to 1, and PC
// becomes xepc. fromMachine selects MRET vs SRET semantics.
func Return(f *csr.File, priv *Privilege, fromMachine bool) uint32 {
	mstatus := f.Mstatus()
	if fromMachine {
		pp := Privilege((mstatus & csr.MstatusMPPMask) >> csr.MstatusMPPShift)
		if mstatus&csr.MstatusMPIE != 0 {
			mstatus |= csr.MstatusMIE
		} else {
			mstatus &^= csr.MstatusMIE
		}
		mstatus |= csr.MstatusMPIE
		mstatus = (mstatus &^ csr.MstatusMPPMask) | (uint32(csr.User) << csr.MstatusMPPShift)
		f.SetMstatus(mstatus)
		*priv = pp
		return f.Mepc()
	}
	pp := csr.User
	if mstatus&csr.MstatusSPP != 0 {
		pp = csr.Supervisor
	}
	if mstatus&csr.MstatusSPIE != 0 {
		mstatus |= csr.MstatusSIE
	} else {
		mstatus &^= csr.MstatusSIE
	}
	mstatus |= csr.MstatusSPIE
	mstatus &^= csr.MstatusSPP
	f.SetMstatus(mstatus)
	*priv = pp
	return f.Sepc()
}

// Pending returns the highest-priority interrupt (by the standard
// M-external > M-software > M-timer > S-external > S-software >
// S-timer priority order) that is both raised in mip and enabled in
// mie, and that can be taken given priv/mstatus's global-enable bits
// and delegation, or (Cause{}, false) if none can be delivered now.
func Pending(f *csr.File, priv Privilege) (Cause, bool) {
	pending := f.Mip() & f.Mie()
	if pending == 0 {
		return Cause{}, false
	}
	order := []uint32{IntMachineExternal, IntMachineSoftware, IntMachineTimer,
		IntSupervisorExternal, IntSupervisorSoftware, IntSupervisorTimer}
	for _, code := range order {
		if pending&(1<<code) == 0 {
			continue
		}
		c := Cause{Code: code, IsInterrupt: true}
		delivery := DeliveryPrivilege(f, priv, c)
		if !interruptEnabled(f, priv, delivery) {
			continue
		}
		return c, true
	}
	return Cause{}, false
}

func interruptEnabled(f *csr.File, priv, delivery Privilege) bool {
	mstatus := f.Mstatus()
	switch {
	case delivery > priv:
		// Trap always taken if it escalates privilege relative to the
		// hart's current mode (e.g. U-mode interrupt delegated to S).
		return true
	case priv == csr.Machine:
		return mstatus&csr.MstatusMIE != 0
	case priv == csr.Supervisor:
		return mstatus&csr.MstatusSIE != 0
	default:
		return true // User mode: interrupts are always globally enabled
	}
}
