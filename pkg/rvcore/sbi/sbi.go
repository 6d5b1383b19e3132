// Package sbi implements the Supervisor Binary Interface hook: the
// System driver intercepts an environment call trap from Supervisor
// mode before it ever reaches pkg/rvcore/trap, reads a7/a6/a0..a5,
// dispatches to the requested extension, and writes a0 (and a1 where
// the extension specifies a secondary value) directly into the
// guest's registers, per spec.md §4.5 and §6.
//
// The extension/function dispatch table and error-code convention
// here are grounded in the HandleSBI excerpt from the tinyrange-cc
// RISC-V hypervisor (other_examples reference file): legacy
// putchar/getchar, a BASE probe extension, a TIME extension driving
// the CLINT comparator, IPI/SRST as single-hart no-ops/halts.
package sbi

// Extension IDs.
const (
	ExtLegacyPutchar = 0x01
	ExtLegacyGetchar = 0x02
	ExtBase          = 0x10
	ExtDBCN          = 0x4442434e // "DBCN"
	ExtTimer         = 0x54494d45 // "TIME"
	ExtIPI           = 0x735049   // "sPI"
	ExtSRST          = 0x53525354 // "SRST"
)

// BASE extension function IDs.
const (
	BaseGetSpecVersion = 0
	BaseGetImplID      = 1
	BaseGetImplVersion = 2
	BaseProbeExtension = 3
	BaseGetMvendorID   = 4
	BaseGetMarchID     = 5
	BaseGetMimplID     = 6
)

// TIME extension function IDs.
const TimerSetTimer = 0

// DBCN extension function IDs.
const (
	DBCNWrite     = 0
	DBCNRead      = 1
	DBCNWriteByte = 2
)

// SRST function IDs and types/reasons.
const (
	SRSTReset = 0
)

// Standard SBI error codes.
const (
	Success           = 0
	ErrFailed         = -1
	ErrNotSupported   = -2
	ErrInvalidParam   = -3
	ErrDenied         = -4
	ErrInvalidAddress = -5
)

const implID = 0x52564352 // "RVCR", an arbitrary but stable SBI impl-id

// Machine is the narrow surface the SBI hook needs from the embedding
// System driver: register access, UART output, the CLINT comparator,
// and a way to request a guest halt.
type Machine interface {
	A(n int) uint32
	SetA(n int, v uint32)
	ConsoleWrite(b []byte)
	ConsoleReadByte() (byte, bool)
	SetTimer(cmp uint64)
	ReadGuestString(addr uint32, length uint32) ([]byte, error)
	RequestShutdown()
}

// Handle dispatches one ECALL-from-Supervisor trap. It always writes
// a0 (and a1 when the extension defines one) before returning; the
// caller is responsible for advancing PC by four afterward, per
// spec.md §6.
func Handle(m Machine) {
	ext := m.A(7)
	fid := m.A(6)

	var a0, a1 int64ret
	switch ext {
	case ExtLegacyPutchar:
		m.ConsoleWrite([]byte{byte(m.A(0))})
		a0 = 0

	case ExtLegacyGetchar:
		if b, ok := m.ConsoleReadByte(); ok {
			a0 = int64ret(b)
		} else {
			a0 = -1
		}

	case ExtBase:
		a0, a1 = handleBase(fid, m)

	case ExtDBCN:
		a0, a1 = handleDBCN(fid, m)

	case ExtTimer:
		if fid == TimerSetTimer {
			cmp := uint64(m.A(0)) | uint64(m.A(1))<<32
			m.SetTimer(cmp)
			a0 = Success
		} else {
			a0 = ErrNotSupported
		}

	case ExtIPI:
		// Single-hart core: there is no other hart to signal, so every
		// IPI request trivially succeeds.
		a0 = Success

	case ExtSRST:
		m.RequestShutdown()
		a0 = Success

	default:
		a0 = ErrNotSupported
	}

	m.SetA(0, uint32(a0))
	m.SetA(1, uint32(a1))
}

// int64ret lets the dispatch arms above assign either an SBI error
// code or an unsigned return value without a type-conversion dance at
// every call site.
type int64ret = int64

func handleBase(fid uint32, m Machine) (int64ret, int64ret) {
	switch fid {
	case BaseGetSpecVersion:
		return Success, 0x000002 // spec v0.2
	case BaseGetImplID:
		return Success, implID
	case BaseGetImplVersion:
		return Success, 1
	case BaseProbeExtension:
		ext := m.A(0)
		switch ext {
		case ExtBase, ExtDBCN, ExtTimer, ExtIPI, ExtSRST, ExtLegacyPutchar, ExtLegacyGetchar:
			return Success, 1
		default:
			return Success, 0
		}
	case BaseGetMvendorID, BaseGetMarchID, BaseGetMimplID:
		return Success, 0
	}
	return ErrNotSupported, 0
}

func handleDBCN(fid uint32, m Machine) (int64ret, int64ret) {
	switch fid {
	case DBCNWriteByte:
		m.ConsoleWrite([]byte{byte(m.A(0))})
		return Success, 0
	case DBCNWrite:
		numBytes := m.A(0)
		addr := m.A(1) // low 32 bits of a guest physical address
		buf, err := m.ReadGuestString(addr, numBytes)
		if err != nil {
			return ErrInvalidAddress, 0
		}
		m.ConsoleWrite(buf)
		return Success, int64ret(len(buf))
	case DBCNRead:
		return Success, 0 // no buffered input protocol implemented; 0 bytes read
	}
	return ErrNotSupported, 0
}
