package mmu

import "testing"

// fakeMem is a flat byte-addressable page-table backing store, enough
// for the walker's Read32/Write32 needs.
type fakeMem struct {
	pages map[uint32]uint32
}

func newFakeMem() *fakeMem { return &fakeMem{pages: make(map[uint32]uint32)} }

func (m *fakeMem) Read32(addr uint32) (uint32, error) {
	return m.pages[addr], nil
}

func (m *fakeMem) Write32(addr uint32, v uint32) error {
	m.pages[addr] = v
	return nil
}

const (
	satpModeBit = 1 << 31
)

// buildTwoLevelMapping wires a root table at rootPPN and a leaf table so
// that vaddr translates to paddr through a 4-KiB page, with R/W/X/U bits
// as given and A/D clear.
func buildTwoLevelMapping(mem *fakeMem, rootPPN, vaddr, paddr uint32, rwxu uint32) {
	vpn1 := (vaddr >> 22) & 0x3ff
	vpn0 := (vaddr >> 12) & 0x3ff
	leafPPN := uint32(0x90000) // arbitrary leaf-table physical page
	mem.Write32((rootPPN<<12)+vpn1*4, (leafPPN<<10)|pteV)
	mem.Write32((leafPPN<<12)+vpn0*4, ((paddr>>12)<<10)|pteV|rwxu)
}

func TestTLBHitRecoversPaddrViaXOR(t *testing.T) {
	var tlb TLB
	tlb.Fill(AccessLoad32, 0xC0001234, 0x80001234)
	paddr, ok := tlb.Lookup(AccessLoad32, 0xC0001234)
	if !ok {
		t.Fatal("expected a hit for the exact filled vaddr")
	}
	if paddr != 0x80001234 {
		t.Fatalf("paddr = %#x, want 0x80001234", paddr)
	}
	// Another vaddr within the same page must hit too (per the XOR
	// identity), with the offset preserved from the new vaddr.
	paddr, ok = tlb.Lookup(AccessLoad32, 0xC0001abc)
	if !ok {
		t.Fatal("expected a hit for another vaddr in the same page")
	}
	if paddr != 0x80001abc {
		t.Fatalf("paddr = %#x, want 0x80001abc", paddr)
	}
}

func TestTLBMissesAcrossPageBoundary(t *testing.T) {
	var tlb TLB
	tlb.Fill(AccessLoad32, 0xC0000000, 0x80000000)
	if _, ok := tlb.Lookup(AccessLoad32, 0xC0001000); ok {
		t.Fatal("expected a miss for an address in a different page")
	}
}

func TestTLBMissesAfterInvalidateAll(t *testing.T) {
	var tlb TLB
	tlb.Fill(AccessFetch, 0x1000, 0x81000)
	tlb.InvalidateAll()
	if _, ok := tlb.Lookup(AccessFetch, 0x1000); ok {
		t.Fatal("expected a miss after InvalidateAll")
	}
}

func TestTLBEntriesArePerAccessClass(t *testing.T) {
	var tlb TLB
	tlb.Fill(AccessLoad32, 0x1000, 0x81000)
	if _, ok := tlb.Lookup(AccessStore32, 0x1000); ok {
		t.Fatal("a load-class fill must not satisfy a store-class lookup")
	}
}

func TestWalkFourKiBPage(t *testing.T) {
	mem := newFakeMem()
	rootPPN := uint32(0x80000)
	satp := satpModeBit | rootPPN
	buildTwoLevelMapping(mem, rootPPN, 0xC0000000, 0x80002000, pteR|pteW)

	m := New()
	paddr, err := m.Translate(mem, satp, 0xC0000004, AccessLoad32, privSupervisor, 0)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if paddr != 0x80002004 {
		t.Fatalf("paddr = %#x, want 0x80002004", paddr)
	}
}

func TestWalkSetsAccessedAndDirtyBits(t *testing.T) {
	mem := newFakeMem()
	rootPPN := uint32(0x80000)
	satp := satpModeBit | rootPPN
	buildTwoLevelMapping(mem, rootPPN, 0xC0000000, 0x80002000, pteR|pteW)

	m := New()
	if _, err := m.Translate(mem, satp, 0xC0000000, AccessLoad32, privSupervisor, 0); err != nil {
		t.Fatalf("load translate: %v", err)
	}
	leafAddr := uint32(0x90000<<12) + ((0xC0000000>>12)&0x3ff)*4
	pte := mem.pages[leafAddr]
	if pte&pteA == 0 {
		t.Fatal("expected A bit set after a load translation")
	}
	if pte&pteD != 0 {
		t.Fatal("D bit must not be set by a load")
	}

	m.TLB.InvalidateAll() // force the walker to run again instead of hitting the TLB
	if _, err := m.Translate(mem, satp, 0xC0000000, AccessStore32, privSupervisor, 0); err != nil {
		t.Fatalf("store translate: %v", err)
	}
	pte = mem.pages[leafAddr]
	if pte&pteD == 0 {
		t.Fatal("expected D bit set after a store translation")
	}
}

func TestMegapageMisalignedPPN0Faults(t *testing.T) {
	mem := newFakeMem()
	rootPPN := uint32(0x80000)
	satp := satpModeBit | rootPPN
	vpn1 := (uint32(0xC0000000) >> 22) & 0x3ff
	// PPN_full = 0x1 sets only PPN[0] (bits 19:10 of the PTE), leaving
	// PPN[1] zero: a misaligned superpage.
	mem.Write32((rootPPN<<12)+vpn1*4, (uint32(0x1)<<10)|pteV|pteR|pteW)

	m := New()
	_, err := m.Translate(mem, satp, 0xC0000000, AccessLoad32, privSupervisor, 0)
	if err != ErrMisalignedSuperpage {
		t.Fatalf("err = %v, want ErrMisalignedSuperpage", err)
	}
}

func TestMegapageWithOnlyPPN1SetIsNotMisaligned(t *testing.T) {
	mem := newFakeMem()
	rootPPN := uint32(0x80000)
	satp := satpModeBit | rootPPN
	vpn1 := (uint32(0xC0000000) >> 22) & 0x3ff
	// PPN_full = 0x200 << 10 sets only PPN[1] (bits 31:20): a legal
	// 4-MiB-aligned megapage.
	mem.Write32((rootPPN<<12)+vpn1*4, (uint32(0x200)<<20)|pteV|pteR|pteW)

	m := New()
	paddr, err := m.Translate(mem, satp, 0xC0000004, AccessLoad32, privSupervisor, 0)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if want := uint32(0x200) << 22; paddr != want+4 {
		t.Fatalf("paddr = %#x, want %#x", paddr, want+4)
	}
}

func TestUserPageInaccessibleToSupervisorWithoutSUM(t *testing.T) {
	mem := newFakeMem()
	rootPPN := uint32(0x80000)
	satp := satpModeBit | rootPPN
	buildTwoLevelMapping(mem, rootPPN, 0xC0000000, 0x80002000, pteR|pteW|pteU)

	m := New()
	if _, err := m.Translate(mem, satp, 0xC0000000, AccessLoad32, privSupervisor, 0); err == nil {
		t.Fatal("expected a page fault: Supervisor accessing a U page without SUM")
	}
	if _, err := m.Translate(mem, satp, 0xC0000000, AccessLoad32, privSupervisor, sumBitForTest); err != nil {
		t.Fatalf("SUM should permit Supervisor access to a U page: %v", err)
	}
}

const sumBitForTest = 1 << 18 // mirrors csr.MstatusSUM without importing csr

func TestWritePermissionRequiredForStore(t *testing.T) {
	mem := newFakeMem()
	rootPPN := uint32(0x80000)
	satp := satpModeBit | rootPPN
	buildTwoLevelMapping(mem, rootPPN, 0xC0000000, 0x80002000, pteR) // no W

	m := New()
	if _, err := m.Translate(mem, satp, 0xC0000000, AccessStore32, privSupervisor, 0); err == nil {
		t.Fatal("expected a page fault storing through a read-only mapping")
	}
}
