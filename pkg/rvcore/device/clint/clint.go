// Package clint implements the Core-Local Interruptor: a monotonic
// mtime counter, a per-hart mtimecmp comparator, and msip, as spec.md
// §4.7 specifies. This single-hart implementation only needs hart 0's
// registers. The comparator scheduling idiom (track a target tick and
// compare whenever TimerPending is asked rather than arming a callback) is
// grounded in rcornwell-S370/emu/event's discrete event queue, scaled
// down to the one-shot timer Linux's sbi_timer driver actually needs.
package clint

// MMIO layout, relative to Base(): msip at 0x0000, mtimecmp (64-bit)
// at 0x4000, mtime (64-bit) at 0xbff8 — the standard SiFive CLINT
// layout every Linux riscv,clint0-compatible driver expects.
const (
	offMSIP     = 0x0000
	offMTimeCmp = 0x4000
	offMTime    = 0xbff8
)

const size = 0x10000

// CLINT is the core-local interruptor.
type CLINT struct {
	base      uint32
	mtime     uint64
	mtimecmp  uint64
	msip      uint32
}

// New returns a CLINT occupying a 64-KiB window at base.
func New(base uint32) *CLINT {
	return &CLINT{base: base, mtimecmp: ^uint64(0)}
}

func (c *CLINT) Base() uint32 { return c.base }
func (c *CLINT) Size() uint32 { return size }

// Tick advances mtime by n; it reports nothing. The caller reads
// TimerPending afterwards and reconciles it into mip on every loop
// iteration, since the timer line is level-triggered and must track the
// comparator continuously rather than edge-trigger once.
func (c *CLINT) Tick(n uint64) {
	c.mtime += n
}

// TimerPending reports mtime >= mtimecmp, the machine timer interrupt
// line.
func (c *CLINT) TimerPending() bool {
	return c.mtime >= c.mtimecmp
}

// SoftwarePending reports the machine software interrupt line (msip's
// low bit).
func (c *CLINT) SoftwarePending() bool {
	return c.msip&1 != 0
}

// Mtime returns the current tick count, used by the System driver's
// WFI idle-skip to compute time-to-next-match.
func (c *CLINT) Mtime() uint64     { return c.mtime }
func (c *CLINT) Mtimecmp() uint64  { return c.mtimecmp }

// SetMtimecmp implements the TIME SBI extension's sbi_set_timer.
func (c *CLINT) SetMtimecmp(v uint64) { c.mtimecmp = v }

func (c *CLINT) Read(addr uint32, size int) (uint64, error) {
	off := addr - c.base
	switch {
	case off == offMSIP && size == 4:
		return uint64(c.msip), nil
	case off == offMTimeCmp && size == 8:
		return c.mtimecmp, nil
	case off == offMTimeCmp && size == 4:
		return uint64(uint32(c.mtimecmp)), nil
	case off == offMTimeCmp+4 && size == 4:
		return uint64(uint32(c.mtimecmp >> 32)), nil
	case off == offMTime && size == 8:
		return c.mtime, nil
	case off == offMTime && size == 4:
		return uint64(uint32(c.mtime)), nil
	case off == offMTime+4 && size == 4:
		return uint64(uint32(c.mtime >> 32)), nil
	}
	return 0, nil
}

func (c *CLINT) Write(addr uint32, size int, v uint64) error {
	off := addr - c.base
	switch {
	case off == offMSIP:
		c.msip = uint32(v) & 1
	case off == offMTimeCmp && size == 8:
		c.mtimecmp = v
	case off == offMTimeCmp && size == 4:
		c.mtimecmp = (c.mtimecmp &^ 0xffffffff) | uint64(uint32(v))
	case off == offMTimeCmp+4 && size == 4:
		c.mtimecmp = (c.mtimecmp & 0xffffffff) | (uint64(uint32(v)) << 32)
	case off == offMTime && size == 8:
		c.mtime = v
	}
	return nil
}
