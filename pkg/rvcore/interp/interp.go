// Package interp is the decode-and-execute engine spec.md §4.6
// describes: StepOne fetches, translates, decodes, and executes a
// single instruction; ExecuteBlock runs every instruction of a
// precompiled block.Block in sequence, short-circuiting on trap so
// that "a compiled region is invoked with CPU and bus, produces a
// next-PC or a trap" (spec.md §9) holds for any future JIT backend
// too.
package interp

import (
	"github.com/rvcore/rvcore/pkg/rvcore/block"
	"github.com/rvcore/rvcore/pkg/rvcore/bus"
	"github.com/rvcore/rvcore/pkg/rvcore/cpu"
	"github.com/rvcore/rvcore/pkg/rvcore/decode"
	"github.com/rvcore/rvcore/pkg/rvcore/mmu"
)

// Trap carries the information the System driver needs to inject a
// trap via pkg/rvcore/trap after a block or single step aborts.
type Trap struct {
	Code        uint32
	IsInterrupt bool
	Tval        uint32

	// SBICall reports an environment call from Supervisor mode: per
	// spec.md §4.5/§6 this never reaches pkg/rvcore/trap at all. The
	// System driver recognizes it, services the SBI request, and
	// advances PC by four itself.
	SBICall bool
}

// Machine bundles everything one interpreter step touches. It is a
// plain struct, not an interface, because all four fields are always
// the same concrete types in this single-hart core; spec.md's
// "executed against CPU and bus" contract (§9) is satisfied by passing
// this struct to any alternative block-cache backend.
type Machine struct {
	CPU   *cpu.CPU
	Bus   *bus.Bus
	MMU   *mmu.MMU
	Cache *block.Cache
}

// StepOne fetches the instruction at CPU.PC (translating it as an
// instruction fetch), decodes it, and executes it. It returns a
// non-nil *Trap if the step faulted or trapped instead of completing.
func (m *Machine) StepOne() (*Trap, error) {
	paddr, tr, err := m.translate(m.CPU.PC, mmu.AccessFetch)
	if tr != nil || err != nil {
		return tr, err
	}
	word, err := m.Bus.Read32(paddr)
	if err != nil {
		return nil, err
	}
	in := decode.Decode(word)
	return m.execute(in)
}

// FetchBlock translates PC as an instruction fetch and returns the
// cached block at the resulting physical address, compiling one if
// none is cached yet (spec.md §4.10 steps d-e).
func (m *Machine) FetchBlock() (*block.Block, *Trap, error) {
	paddr, tr, err := m.translate(m.CPU.PC, mmu.AccessFetch)
	if tr != nil || err != nil {
		return nil, tr, err
	}
	if blk, ok := m.Cache.Lookup(paddr); ok {
		return blk, nil, nil
	}
	blk, err := m.Cache.Compile(m.Bus, paddr)
	if err != nil {
		return nil, nil, err
	}
	return blk, nil, nil
}

// ExecuteBlock runs every instruction in blk in order against m.CPU
// and m.Bus, stopping immediately if any instruction traps. The final
// instruction (always a terminator, by block.Cache.Compile's
// invariant) is responsible for advancing PC to its computed target;
// non-terminator instructions each advance PC by 4 as they execute.
func (m *Machine) ExecuteBlock(blk *block.Block) (*Trap, error) {
	for _, in := range blk.Instrs {
		tr, err := m.execute(in)
		if tr != nil || err != nil {
			return tr, err
		}
	}
	return nil, nil
}

func (m *Machine) translate(vaddr uint32, access int) (uint32, *Trap, error) {
	satp := m.CPU.CSR.Satp()
	if satp>>31 == 0 { // MODE bit clear: bare, no translation (also true in M-mode boot)
		return vaddr, nil, nil
	}
	if m.CPU.Priv == cpu.Machine {
		return vaddr, nil, nil
	}
	paddr, err := m.MMU.Translate(m.Bus, satp, vaddr, access, uint32(m.CPU.Priv), m.CPU.CSR.Mstatus())
	if err == nil {
		return paddr, nil, nil
	}
	var code uint32
	switch access {
	case mmu.AccessFetch:
		code = codeFor(err, instrPageFault, instrAccessFault)
	case mmu.AccessStore8, mmu.AccessStore16, mmu.AccessStore32, mmu.AccessStore64:
		code = codeFor(err, storePageFault, storeAccessFault)
	default:
		code = codeFor(err, loadPageFault, loadAccessFault)
	}
	return 0, &Trap{Code: code, Tval: vaddr}, nil
}

const (
	instrPageFault  = 12
	loadPageFault   = 13
	storePageFault  = 15
	instrAccessFault = 1
	loadAccessFault  = 5
	storeAccessFault = 7
)

func codeFor(err error, pageCode, accessCode uint32) uint32 {
	if f, ok := err.(*mmu.Fault); ok && f.Kind == mmu.FaultAccess {
		return accessCode
	}
	return pageCode
}

// illegal builds the illegal-instruction trap carrying the offending
// encoding as tval, per spec.md §7.
func illegal(raw uint32) *Trap {
	return &Trap{Code: 2, Tval: raw}
}
