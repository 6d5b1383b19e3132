package interp

import "github.com/rvcore/rvcore/pkg/rvcore/mmu"

// load reads nbytes (1, 2, 4, or 8) from vaddr. Aligned accesses take
// a single translate+bus round trip at the matching access class;
// misaligned accesses are decomposed into byte accesses before ever
// reaching the bus, per spec.md §4.4's misaligned-access policy (the
// core does not trap on misaligned word/halfword loads/stores, unlike
// the strict RISC-V specification, because guest kernels assume
// hardware support for them).
func (m *Machine) load(vaddr uint32, nbytes int, signed bool) (uint32, *Trap, error) {
	var raw uint64
	if vaddr%uint32(nbytes) == 0 {
		access := loadAccessFor(nbytes)
		paddr, tr, err := m.translate(vaddr, access)
		if tr != nil || err != nil {
			return 0, tr, err
		}
		var rerr error
		switch nbytes {
		case 1:
			var v uint8
			v, rerr = m.Bus.Read8(paddr)
			raw = uint64(v)
		case 2:
			var v uint16
			v, rerr = m.Bus.Read16(paddr)
			raw = uint64(v)
		case 4:
			var v uint32
			v, rerr = m.Bus.Read32(paddr)
			raw = uint64(v)
		case 8:
			raw, rerr = m.Bus.Read64(paddr)
		}
		if rerr != nil {
			return 0, nil, rerr
		}
	} else {
		for i := 0; i < nbytes; i++ {
			paddr, tr, err := m.translate(vaddr+uint32(i), mmu.AccessLoad8)
			if tr != nil || err != nil {
				return 0, tr, err
			}
			b, err := m.Bus.Read8(paddr)
			if err != nil {
				return 0, nil, err
			}
			raw |= uint64(b) << (8 * uint(i))
		}
	}
	if !signed || nbytes == 8 {
		return uint32(raw), nil, nil
	}
	switch nbytes {
	case 1:
		return uint32(int32(int8(raw))), nil, nil
	case 2:
		return uint32(int32(int16(raw))), nil, nil
	default:
		return uint32(raw), nil, nil
	}
}

// load64 is used by the D extension for double-precision loads, which
// always read the full 8 bytes unsigned.
func (m *Machine) load64(vaddr uint32) (uint64, *Trap, error) {
	if vaddr%8 == 0 {
		paddr, tr, err := m.translate(vaddr, mmu.AccessLoad64)
		if tr != nil || err != nil {
			return 0, tr, err
		}
		v, err := m.Bus.Read64(paddr)
		return v, nil, err
	}
	var raw uint64
	for i := 0; i < 8; i++ {
		paddr, tr, err := m.translate(vaddr+uint32(i), mmu.AccessLoad8)
		if tr != nil || err != nil {
			return 0, tr, err
		}
		b, err := m.Bus.Read8(paddr)
		if err != nil {
			return 0, nil, err
		}
		raw |= uint64(b) << (8 * uint(i))
	}
	return raw, nil, nil
}

func (m *Machine) store(vaddr uint32, nbytes int, value uint64) (*Trap, error) {
	if vaddr%uint32(nbytes) == 0 {
		access := storeAccessFor(nbytes)
		paddr, tr, err := m.translate(vaddr, access)
		if tr != nil || err != nil {
			return tr, err
		}
		switch nbytes {
		case 1:
			return nil, m.Bus.Write8(paddr, uint8(value))
		case 2:
			return nil, m.Bus.Write16(paddr, uint16(value))
		case 4:
			return nil, m.Bus.Write32(paddr, uint32(value))
		case 8:
			return nil, m.Bus.Write64(paddr, value)
		}
	}
	for i := 0; i < nbytes; i++ {
		paddr, tr, err := m.translate(vaddr+uint32(i), mmu.AccessStore8)
		if tr != nil || err != nil {
			return tr, err
		}
		if err := m.Bus.Write8(paddr, uint8(value>>(8*uint(i)))); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func loadAccessFor(nbytes int) int {
	switch nbytes {
	case 1:
		return mmu.AccessLoad8
	case 2:
		return mmu.AccessLoad16
	case 4:
		return mmu.AccessLoad32
	default:
		return mmu.AccessLoad64
	}
}

func storeAccessFor(nbytes int) int {
	switch nbytes {
	case 1:
		return mmu.AccessStore8
	case 2:
		return mmu.AccessStore16
	case 4:
		return mmu.AccessStore32
	default:
		return mmu.AccessStore64
	}
}
