// Package mmu implements the Sv32 two-level page walk plus the
// per-access-type software translation cache (TLB) described in
// spec.md §3/§4.4: nine direct-mapped entries, one per access class,
// each storing a "check" field (the virtual address whose page it
// caches) and a "lookup" field equal to (paddr XOR vaddr) & page mask,
// so that a hit recovers the physical address with a single XOR.
package mmu

import (
	"errors"
	"fmt"
)

// Access classes, one TLB slot each.
const (
	AccessFetch = iota
	AccessLoad8
	AccessLoad16
	AccessLoad32
	AccessLoad64
	AccessStore8
	AccessStore16
	AccessStore32
	AccessStore64
	numAccessClasses
)

const pageMask = 0xfffff000

// FaultKind distinguishes the two fault categories (page fault and
// access fault) a failed translation maps to.
type FaultKind int

const (
	FaultPage FaultKind = iota
	FaultAccess
)

// Fault describes a translation failure: which kind, for which
// operation (fetch/load/store), at which virtual address.
type Fault struct {
	Kind  FaultKind
	Op    int // one of the Access* constants
	Vaddr uint32
}

func (f *Fault) Error() string {
	return fmt.Sprintf("mmu: fault kind=%d op=%d vaddr=%#x", f.Kind, f.Op, f.Vaddr)
}

var ErrMisalignedSuperpage = errors.New("mmu: misaligned superpage (PPN[0] nonzero on a level-1 leaf)")

// PTE bit positions.
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteA = 1 << 6
	pteD = 1 << 7
)

// PhysMem is the narrow interface the walker needs to read/write page
// table entries; satisfied by pkg/rvcore/bus.Bus.
type PhysMem interface {
	Read32(paddr uint32) (uint32, error)
	Write32(paddr uint32, v uint32) error
}

type tlbEntry struct {
	valid bool
	check uint32
	lookup uint32
}

// TLB is the nine-entry, one-per-access-class software translation
// cache.
type TLB struct {
	entries    [numAccessClasses]tlbEntry
	generation uint64
}

// Lookup returns the physical address on a hit using the check/lookup
// XOR identity from spec.md §3, or (0, false) on a miss.
func (t *TLB) Lookup(access int, vaddr uint32) (uint32, bool) {
	e := &t.entries[access]
	if !e.valid {
		return 0, false
	}
	if (e.check^vaddr)&pageMask != 0 {
		return 0, false
	}
	return e.lookup ^ vaddr, true
}

// Fill installs a translation for (access, vaddr -> paddr).
func (t *TLB) Fill(access int, vaddr, paddr uint32) {
	t.entries[access] = tlbEntry{
		valid:  true,
		check:  vaddr,
		lookup: (paddr ^ vaddr) & pageMask,
	}
}

// InvalidateAll bumps the generation and drops every entry; called on
// satp writes and SFENCE.VMA. The generation counter is exposed mostly
// for testability (spec.md §8's "no TLB entry predating the event
// contributes to any translation" invariant); entries are cleared
// outright here rather than Lookup checking a generation, which is
// simpler for a 9-entry cache and avoids a second comparison on every hit.
func (t *TLB) InvalidateAll() {
	t.generation++
	for i := range t.entries {
		t.entries[i] = tlbEntry{}
	}
}

func (t *TLB) Generation() uint64 { return t.generation }

// MMU bundles the TLB with a Translate method performing the Sv32 walk
// on miss.
type MMU struct {
	TLB TLB
}

// New returns an MMU with an empty TLB.
func New() *MMU { return &MMU{} }

// Translate resolves vaddr for the given access class, privilege, and
// mstatus (for SUM/MXR), consulting the TLB first and walking the
// two-level Sv32 table on miss.
func (m *MMU) Translate(mem PhysMem, satp uint32, vaddr uint32, access int, priv uint32, mstatus uint32) (uint32, error) {
	if paddr, ok := m.TLB.Lookup(access, vaddr); ok {
		return paddr, nil
	}
	paddr, err := m.walk(mem, satp, vaddr, access, priv, mstatus)
	if err != nil {
		return 0, err
	}
	m.TLB.Fill(access, vaddr, paddr)
	return paddr, nil
}

const (
	privUser       = 0
	privSupervisor = 1
)

func (m *MMU) walk(mem PhysMem, satp uint32, vaddr uint32, access int, priv uint32, mstatus uint32) (uint32, error) {
	const (
		sum = 1 << 18
		mxr = 1 << 19
	)
	rootPPN := satp & 0x3fffff
	vpn1 := (vaddr >> 22) & 0x3ff
	vpn0 := (vaddr >> 12) & 0x3ff
	pageOff := vaddr & 0xfff

	pte1Addr := (rootPPN << 12) + vpn1*4
	pte1, err := mem.Read32(pte1Addr)
	if err != nil {
		return 0, &Fault{Kind: FaultAccess, Op: access, Vaddr: vaddr}
	}
	if pte1&pteV == 0 || (pte1&pteW != 0 && pte1&pteR == 0) {
		return 0, m.pageFault(access, vaddr)
	}

	isLeaf := pte1&(pteR|pteW|pteX) != 0
	var pte uint32
	var pteAddr uint32
	var physBase uint32
	var megapage bool

	if isLeaf {
		if pte1&0x000ffc00 != 0 {
			// PPN[0] (bits 19:10) of a level-1 leaf is reused as the 4-MiB
			// megapage's low PPN bits and must be zero.
			return 0, ErrMisalignedSuperpage
		}
		pte = pte1
		pteAddr = pte1Addr
		// A megapage's physical base comes from PPN[1] alone (bits 31:20
		// of the PTE, already verified free of any PPN[0] contribution
		// above): PPN[1] occupies a 4-MiB-aligned frame, so it lands at
		// bit 22 of the physical address rather than bit 12.
		physBase = (pte1 >> 20) << 22
		megapage = true
	} else {
		pte0Addr := ((pte1 >> 10) << 12) + vpn0*4
		pte0, err := mem.Read32(pte0Addr)
		if err != nil {
			return 0, &Fault{Kind: FaultAccess, Op: access, Vaddr: vaddr}
		}
		if pte0&pteV == 0 || (pte0&pteW != 0 && pte0&pteR == 0) || pte0&(pteR|pteW|pteX) == 0 {
			return 0, m.pageFault(access, vaddr)
		}
		pte = pte0
		pteAddr = pte0Addr
		physBase = (pte0 >> 10) << 12
	}

	if !m.permitted(pte, access, priv, mstatus, sum, mxr) {
		return 0, m.pageFault(access, vaddr)
	}

	// Accessed/dirty bit writeback.
	newPTE := pte | pteA
	if access >= AccessStore8 {
		newPTE |= pteD
	}
	if newPTE != pte {
		if err := mem.Write32(pteAddr, newPTE); err != nil {
			return 0, &Fault{Kind: FaultAccess, Op: access, Vaddr: vaddr}
		}
	}

	var paddr uint32
	if megapage {
		paddr = physBase | (vaddr & 0x3fffff)
	} else {
		paddr = physBase | pageOff
	}
	return paddr, nil
}

func (m *MMU) permitted(pte uint32, access int, priv uint32, mstatus, sum, mxr uint32) bool {
	u := pte&pteU != 0
	if priv == privUser && !u {
		return false
	}
	if priv == privSupervisor && u && mstatus&sum == 0 {
		return false
	}
	switch {
	case access == AccessFetch:
		return pte&pteX != 0
	case access >= AccessStore8:
		return pte&pteW != 0
	default: // load
		if pte&pteR != 0 {
			return true
		}
		return mstatus&mxr != 0 && pte&pteX != 0
	}
}

func (m *MMU) pageFault(access int, vaddr uint32) error {
	return &Fault{Kind: FaultPage, Op: access, Vaddr: vaddr}
}
