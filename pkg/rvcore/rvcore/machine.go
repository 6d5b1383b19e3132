// Package rvcore is the embeddable System driver spec.md §4.10 and §6
// describe: it owns the processor state, bus, and devices, runs the
// per-cycle-budget loop (interrupt reconciliation, idle-skip, fetch,
// block lookup/compile, execute, SBI interception, CLINT ticking), and
// exposes the constructor/LoadKernel/Run/UARTOutput surface the
// embedded interface names.
package rvcore

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/rvcore/rvcore/pkg/rvcore/block"
	"github.com/rvcore/rvcore/pkg/rvcore/bus"
	"github.com/rvcore/rvcore/pkg/rvcore/cpu"
	"github.com/rvcore/rvcore/pkg/rvcore/csr"
	"github.com/rvcore/rvcore/pkg/rvcore/device/clint"
	"github.com/rvcore/rvcore/pkg/rvcore/device/plic"
	"github.com/rvcore/rvcore/pkg/rvcore/device/uart"
	"github.com/rvcore/rvcore/pkg/rvcore/device/virtio"
	"github.com/rvcore/rvcore/pkg/rvcore/image"
	"github.com/rvcore/rvcore/pkg/rvcore/interp"
	"github.com/rvcore/rvcore/pkg/rvcore/mmu"
	"github.com/rvcore/rvcore/pkg/rvcore/sbi"
	"github.com/rvcore/rvcore/pkg/rvcore/trap"
)

// Fixed platform memory map, matching the addresses every riscv,virt
// device-tree and Linux driver expects (the same layout QEMU's "virt"
// machine and OpenSBI use), so unmodified kernel configs work unchanged.
const (
	bootROMBase = 0x00001000
	clintBase   = 0x02000000
	plicBase    = 0x0c000000
	uartBase    = 0x10000000
	virtioBase  = 0x10001000
	virtioStride = 0x1000

	ramBase = 0x80000000

	timebaseFreq = 10000000 // 10 MHz, the qemu-virt convention

	contextMachine    = 0
	contextSupervisor = 1

	uartIRQSource = 10
	virtioIRQBase = 1

	// clintTickBatch mirrors spec.md §4.10 step (h): the CLINT advances
	// in batches of 64 emulated cycles rather than once per instruction.
	clintTickBatch = 64
)

// Machine is the complete emulated system: one hart plus its bus and
// devices.
type Machine struct {
	CPU    *cpu.CPU
	Bus    *bus.Bus
	MMU    *mmu.MMU
	Cache  *block.Cache
	Interp *interp.Machine

	UART   *uart.UART
	CLINT  *clint.CLINT
	PLIC   *plic.PLIC
	VirtIO []*virtio.Device

	log *slog.Logger

	halted     bool
	cycleAccum uint64

	kernelEntry uint32
	dtbAddr     uint32
	hasInitrd   bool
	initrdStart uint32
	initrdEnd   uint32
	cmdline     string
}

// New returns a Machine with ramBytes of RAM and the platform's fixed
// device set already wired onto the bus, reset at the boot ROM.
func New(ramBytes int) *Machine {
	b := bus.New(ramBase, ramBytes)
	u := uart.New(uartBase)
	cl := clint.New(clintBase)
	pl := plic.New(plicBase)
	b.AddDevice(u)
	b.AddDevice(cl)
	b.AddDevice(pl)

	c := cpu.New()
	mm := mmu.New()
	bc := block.New(block.DefaultMaxLength)

	m := &Machine{
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		CPU:   c,
		Bus:   b,
		MMU:   mm,
		Cache: bc,
		UART:  u,
		CLINT: cl,
		PLIC:  pl,
	}
	m.Interp = &interp.Machine{CPU: c, Bus: b, MMU: mm, Cache: bc}

	// satp writes invalidate the TLB and the block cache; csr stays a
	// leaf package (no mmu/block import) by reaching back through this
	// callback instead, mirroring how the teacher keeps pkg/vm free of
	// a pkg/asm dependency.
	c.CSR.OnSatpWrite = func(uint32) {
		mm.TLB.InvalidateAll()
		bc.InvalidateAll()
	}

	c.PC = bootROMBase
	return m
}

// SetLogger replaces the Machine's logger (a discard logger by
// default, so embedders pay nothing unless they opt in).
func (m *Machine) SetLogger(l *slog.Logger) {
	if l != nil {
		m.log = l
	}
}

// AddVirtIODevice registers a VirtIO-MMIO window (e.g. for --fs) at the
// next free slot in the platform's VirtIO address range.
func (m *Machine) AddVirtIODevice(id virtio.DeviceID, config []byte) *virtio.Device {
	base := uint32(virtioBase + len(m.VirtIO)*virtioStride)
	d := virtio.New(base, id, config)
	m.Bus.AddDevice(d)
	m.VirtIO = append(m.VirtIO, d)
	return d
}

// LoadKernel places kernel (and, if initrdPath is non-empty, an
// initrd) into RAM, builds the boot ROM and device tree, and arrives at
// the reset state spec.md §6 describes: kernel at RAM base, initrd at a
// page-aligned high offset with a 64-KiB tail reserved, a0=hartid,
// a1=dtb address, PC at the boot ROM.
func (m *Machine) LoadKernel(kernelPath, initrdPath, cmdline string) error {
	kernel, err := image.Load(kernelPath)
	if err != nil {
		return err
	}

	var initrd []byte
	if initrdPath != "" {
		initrd, err = image.Load(initrdPath)
		if err != nil {
			return err
		}
	}

	ramSize := m.Bus.RAMSize()
	placement, err := image.Plan(ramSize, uint32(len(kernel)), uint32(len(initrd)), initrdPath != "")
	if err != nil {
		return err
	}

	ram := m.Bus.RAM()
	copy(ram[placement.KernelOffset:], kernel)

	const dtbReserve = 0x10000 // 64 KiB, generously above any real FDT this platform emits
	dtbOffset := align4k(placement.KernelOffset + uint32(len(kernel)))
	dtbLimit := ramSize - 64*1024
	if placement.HasInitrd {
		dtbLimit = placement.InitrdOffset
	}
	if dtbOffset+dtbReserve > dtbLimit {
		return fmt.Errorf("rvcore: no room left for the device tree blob between the kernel image and %#x", dtbLimit)
	}

	m.cmdline = cmdline
	m.kernelEntry = ramBase + placement.KernelOffset
	m.hasInitrd = placement.HasInitrd
	if placement.HasInitrd {
		copy(ram[placement.InitrdOffset:], initrd)
		m.initrdStart = ramBase + placement.InitrdOffset
		m.initrdEnd = m.initrdStart + placement.InitrdSize
	}

	dtb := BuildDTB(DTBConfig{
		RAMBase:      ramBase,
		RAMSize:      ramSize,
		TimebaseFreq: timebaseFreq,
		CLINTBase:    clintBase,
		PLICBase:     plicBase,
		UARTBase:     uartBase,
		VirtIOBases:  virtioBases(m.VirtIO),
		Bootargs:     cmdline,
		HasInitrd:    placement.HasInitrd,
		InitrdStart:  m.initrdStart,
		InitrdEnd:    m.initrdEnd,
	})
	if len(dtb) > dtbReserve {
		return fmt.Errorf("rvcore: generated device tree blob (%d bytes) exceeds its reserved window", len(dtb))
	}
	copy(ram[dtbOffset:], dtb)
	m.dtbAddr = ramBase + dtbOffset

	m.log.Debug("kernel loaded",
		"entry", m.kernelEntry,
		"dtb", m.dtbAddr,
		"initrd_start", m.initrdStart,
		"initrd_end", m.initrdEnd)

	rom := BuildBootROM(bootROMBase, m.kernelEntry)
	m.Bus.AddDevice(newROMDevice(bootROMBase, rom))

	m.CPU.PC = bootROMBase
	m.CPU.Priv = cpu.Machine
	m.CPU.SetGPR(10, 0)           // a0: hart id
	m.CPU.SetGPR(11, m.dtbAddr)   // a1: devicetree blob pointer
	return nil
}

func virtioBases(devs []*virtio.Device) []uint32 {
	bases := make([]uint32, len(devs))
	for i, d := range devs {
		bases[i] = d.Base()
	}
	return bases
}

func align4k(v uint32) uint32 {
	const page = 4096
	return (v + page - 1) &^ (page - 1)
}

// Run executes up to budget cycles (spec.md §4.10's run loop) and
// returns how many actually ran. It returns early, with the consumed
// count so far, on any host-side bus error; guest-visible faults never
// reach here as Go errors, only as traps.
func (m *Machine) Run(budget uint64) (uint64, error) {
	var executed uint64
	for executed < budget {
		if m.halted {
			return executed, nil
		}

		m.reconcileInterrupts()

		if cause, ok := trap.Pending(m.CPU.CSR, m.CPU.Priv); ok {
			m.CPU.WFI = false
			pc := trap.Inject(m.CPU.CSR, &m.CPU.Priv, cause, m.CPU.PC, 0)
			m.CPU.PC = pc
			continue
		}

		if m.CPU.WFI {
			delta := m.idleSkipDelta(budget - executed)
			m.CLINT.Tick(delta)
			m.CPU.CSR.SetTime(m.CLINT.Mtime())
			executed += delta
			continue
		}

		blk, tr, err := m.Interp.FetchBlock()
		if err != nil {
			return executed, err
		}
		if tr == nil {
			tr, err = m.Interp.ExecuteBlock(blk)
			if err != nil {
				return executed, err
			}
		}

		if tr != nil {
			if tr.SBICall {
				m.handleSBI()
			} else {
				cause := trap.Cause{Code: tr.Code, IsInterrupt: tr.IsInterrupt}
				pc := trap.Inject(m.CPU.CSR, &m.CPU.Priv, cause, m.CPU.PC, tr.Tval)
				m.CPU.PC = pc
			}
		}

		n := uint64(1)
		if blk != nil {
			n = uint64(len(blk.Instrs))
		}
		executed += n
		m.tickCLINT(n)
	}
	return executed, nil
}

func (m *Machine) tickCLINT(n uint64) {
	m.CPU.CSR.AddCycles(n)
	m.cycleAccum += n
	for m.cycleAccum >= clintTickBatch {
		m.CLINT.Tick(clintTickBatch)
		m.cycleAccum -= clintTickBatch
		m.CPU.CSR.SetTime(m.CLINT.Mtime())
	}
}

// idleSkipDelta computes how many cycles WFI can safely fast-forward:
// the distance to the next CLINT timer match, capped at the remaining
// budget so Run never overruns its caller's cycle accounting.
func (m *Machine) idleSkipDelta(remaining uint64) uint64 {
	mtime, cmp := m.CLINT.Mtime(), m.CLINT.Mtimecmp()
	if cmp <= mtime {
		return 1
	}
	delta := cmp - mtime
	if delta > remaining {
		delta = remaining
	}
	if delta == 0 {
		delta = 1
	}
	return delta
}

// reconcileInterrupts implements spec.md §4.10 step (a): raise the
// UART/VirtIO lines into the PLIC, then fold the PLIC's S-mode
// claimable state and the CLINT timer comparator into mip.SEIP/STIP.
// External and timer interrupts are modeled as already delegated to
// Supervisor: this boot ROM carries no real M-mode trap handler capable
// of relaying them itself, which is a deliberate simplification (see
// DESIGN.md) since the spec does not mandate reproducing OpenSBI's
// M-mode firmware behavior, only that SBI requests are serviced.
func (m *Machine) reconcileInterrupts() {
	if m.UART.HasInterrupt() {
		m.PLIC.Raise(uartIRQSource)
	}
	for i, d := range m.VirtIO {
		if d.Pending() {
			m.PLIC.Raise(uint32(virtioIRQBase + i))
		}
	}
	m.CPU.CSR.SetExternalMip(csr.MipSEIP, m.PLIC.ExternalPending(contextSupervisor))
	m.CPU.CSR.SetExternalMip(csr.MipSTIP, m.CLINT.TimerPending())
	m.CPU.CSR.SetExternalMip(csr.MipMSIP, m.CLINT.SoftwarePending())
}

// UARTOutput drains and returns every byte the guest has written to
// the serial console since the last call.
func (m *Machine) UARTOutput() []byte {
	return m.UART.TakeOutput()
}

// FeedUARTInput deposits host input bytes into the UART receive FIFO,
// as spec.md §5 describes happening between Run batches.
func (m *Machine) FeedUARTInput(b []byte) {
	for _, c := range b {
		m.UART.Enqueue(c)
	}
}

// Halted reports whether the guest has requested shutdown via the SBI
// SRST extension.
func (m *Machine) Halted() bool { return m.halted }

// handleSBI services an ECALL trapped from Supervisor mode via
// pkg/rvcore/sbi and advances PC by four itself, since the SBI
// boundary never goes through pkg/rvcore/trap (spec.md §4.5/§6).
func (m *Machine) handleSBI() {
	sbi.Handle(m)
	m.CPU.PC += 4
}

// A, SetA, SetTimer, ReadGuestString, ConsoleWrite, ConsoleReadByte,
// and RequestShutdown implement sbi.Machine.
func (m *Machine) A(n int) uint32      { return m.CPU.GPR[10+n] }
func (m *Machine) SetA(n int, v uint32) { m.CPU.SetGPR(uint32(10+n), v) }

func (m *Machine) SetTimer(cmp uint64) { m.CLINT.SetMtimecmp(cmp) }

func (m *Machine) ConsoleWrite(b []byte) { m.UART.ConsoleWrite(b) }

func (m *Machine) ConsoleReadByte() (byte, bool) { return m.UART.TakeInputByte() }

func (m *Machine) RequestShutdown() {
	m.log.Info("guest requested shutdown")
	m.halted = true
}

// ReadGuestString reads length bytes from guest physical memory
// starting at addr, for SBI calls (e.g. DBCN) that pass a guest
// buffer pointer rather than an immediate value.
func (m *Machine) ReadGuestString(addr uint32, length uint32) ([]byte, error) {
	out := make([]byte, length)
	for i := uint32(0); i < length; i++ {
		b, err := m.Bus.Read8(addr + i)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// romDevice is a read-only MMIO window over a fixed []uint32 program,
// for the boot ROM: the only device in this tree whose content is
// supplied by the System driver rather than generated by guest writes.
type romDevice struct {
	base uint32
	word []uint32
}

func newROMDevice(base uint32, words []uint32) *romDevice {
	return &romDevice{base: base, word: words}
}

func (r *romDevice) Base() uint32 { return r.base }
func (r *romDevice) Size() uint32 { return uint32(len(r.word)) * 4 }

func (r *romDevice) Read(addr uint32, size int) (uint64, error) {
	off := addr - r.base
	idx := off / 4
	shift := (off % 4) * 8
	if int(idx) >= len(r.word) {
		return 0, fmt.Errorf("rvcore: boot ROM read out of range at %#x", addr)
	}
	w := r.word[idx]
	switch size {
	case 4:
		return uint64(w), nil
	case 2:
		return uint64(uint16(w >> shift)), nil
	case 1:
		return uint64(uint8(w >> shift)), nil
	default:
		return 0, fmt.Errorf("rvcore: unsupported boot ROM read size %d", size)
	}
}

func (r *romDevice) Write(addr uint32, size int, v uint64) error {
	return nil // boot ROM is read-only; writes are silently ignored
}
