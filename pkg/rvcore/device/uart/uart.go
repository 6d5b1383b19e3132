// Package uart implements a 16550-compatible serial device register
// window, as spec.md §4.7 specifies: receive/transmit FIFOs, IER/IIR,
// LCR/MCR shadows, a divisor latch, and the interrupt-flags bitfield
// whose receive-data-available bit clears on RBR read and whose
// transmit-holding-empty bit is consumed exactly once by an IIR read.
package uart

import "sync"

// Register offsets (DLAB=0 view unless noted).
const (
	RegRBR = 0x0 // receive buffer (read), also THR (write)
	RegTHR = 0x0
	RegDLL = 0x0 // divisor latch low (DLAB=1)
	RegIER = 0x1
	RegDLM = 0x1 // divisor latch high (DLAB=1)
	RegIIR = 0x2
	RegFCR = 0x2
	RegLCR = 0x3
	RegMCR = 0x4
	RegLSR = 0x5
	RegMSR = 0x6
	RegSCR = 0x7
)

// Line status register bits.
const (
	LSRDataReady       = 1 << 0
	LSRTransmitEmpty   = 1 << 5
	LSRTransmitIdle    = 1 << 6
)

// Interrupt-enable / interrupt-flags bits.
const (
	IERRxAvailable   = 1 << 0
	IERTxEmpty       = 1 << 1

	flagRxAvailable = 1 << 0
	flagTxEmpty     = 1 << 1
)

const fifoDepth = 16

// UART is a 16550-compatible device occupying an 8-byte MMIO window.
type UART struct {
	mu sync.Mutex

	base uint32

	rx []byte
	tx []byte

	ier uint32
	lcr uint32
	mcr uint32
	dll uint32
	dlm uint32
	scr uint32

	flags uint32 // interrupt-flags bitfield; see package doc
}

// New returns a UART device whose 8-byte register window starts at
// base (conventionally the platform's fixed UART address).
func New(base uint32) *UART {
	return &UART{base: base}
}

func (u *UART) Base() uint32 { return u.base }
func (u *UART) Size() uint32 { return 8 }

// Enqueue deposits a byte into the receive FIFO, as the System driver
// does between run batches when feeding host input (spec.md §5). It
// sets the receive-data-available flag.
func (u *UART) Enqueue(b byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.rx) >= fifoDepth {
		return // FIFO full: drop, matching real 16550 overrun behavior
	}
	u.rx = append(u.rx, b)
	u.flags |= flagRxAvailable
}

// TakeOutput drains and returns every byte written to THR since the
// last call, for the System driver's UARTOutput().
func (u *UART) TakeOutput() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.tx
	u.tx = nil
	return out
}

// HasInterrupt reports whether any interrupt-flags bit is set whose
// enable bit is also set, per spec.md §4.7.
func (u *UART) HasInterrupt() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pendingLocked()
}

func (u *UART) pendingLocked() bool {
	if u.flags&flagRxAvailable != 0 && u.ier&IERRxAvailable != 0 {
		return true
	}
	if u.flags&flagTxEmpty != 0 && u.ier&IERTxEmpty != 0 {
		return true
	}
	return false
}

// ConsoleWrite appends bytes directly to the transmit side, bypassing
// THR/LSR register semantics entirely, for the SBI legacy console and
// DBCN extensions (spec.md §4.5), which address the UART as a byte
// stream rather than through MMIO registers.
func (u *UART) ConsoleWrite(b []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tx = append(u.tx, b...)
}

// TakeInputByte pops one byte directly from the receive FIFO, for the
// SBI legacy getchar call, returning ok=false if the FIFO is empty.
func (u *UART) TakeInputByte() (byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.rx) == 0 {
		return 0, false
	}
	b := u.rx[0]
	u.rx = u.rx[1:]
	if len(u.rx) == 0 {
		u.flags &^= flagRxAvailable
	}
	return b, true
}

func (u *UART) Read(addr uint32, size int) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	reg := addr - u.base
	dlab := u.lcr&0x80 != 0
	switch reg {
	case RegRBR:
		if dlab {
			return uint64(u.dll), nil
		}
		if len(u.rx) == 0 {
			return 0, nil
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		if len(u.rx) == 0 {
			u.flags &^= flagRxAvailable
		}
		return uint64(b), nil
	case RegIER:
		if dlab {
			return uint64(u.dlm), nil
		}
		return uint64(u.ier), nil
	case RegIIR:
		iir := u.iirLocked()
		// Reading IIR consumes the transmit-holding-empty flag exactly
		// once, per 16550 convention and spec.md §8.
		u.flags &^= flagTxEmpty
		return uint64(iir), nil
	case RegLCR:
		return uint64(u.lcr), nil
	case RegMCR:
		return uint64(u.mcr), nil
	case RegLSR:
		lsr := uint32(LSRTransmitEmpty | LSRTransmitIdle)
		if len(u.rx) > 0 {
			lsr |= LSRDataReady
		}
		return uint64(lsr), nil
	case RegMSR:
		return 0, nil
	case RegSCR:
		return uint64(u.scr), nil
	}
	return 0, nil
}

// iirLocked computes the interrupt-identification register: the
// lowest-numbered pending source wins per 16550 priority (receive line
// status > rx-available > tx-empty), bit 0 clear iff an interrupt is
// pending.
func (u *UART) iirLocked() uint32 {
	switch {
	case u.flags&flagRxAvailable != 0 && u.ier&IERRxAvailable != 0:
		return 0x04 // rx data available
	case u.flags&flagTxEmpty != 0 && u.ier&IERTxEmpty != 0:
		return 0x02 // thr empty
	default:
		return 0x01 // no interrupt pending
	}
}

func (u *UART) Write(addr uint32, size int, v uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	reg := addr - u.base
	dlab := u.lcr&0x80 != 0
	switch reg {
	case RegTHR:
		if dlab {
			u.dll = uint32(v) & 0xff
			return nil
		}
		u.tx = append(u.tx, byte(v))
		u.flags |= flagTxEmpty // consumed by the next IIR read
	case RegIER:
		if dlab {
			u.dlm = uint32(v) & 0xff
			return nil
		}
		u.ier = uint32(v) & 0x0f
	case RegFCR:
		if v&0x2 != 0 {
			u.rx = nil
		}
		if v&0x4 != 0 {
			u.tx = nil
		}
	case RegLCR:
		u.lcr = uint32(v) & 0xff
	case RegMCR:
		u.mcr = uint32(v) & 0xff
	case RegSCR:
		u.scr = uint32(v) & 0xff
	}
	return nil
}
