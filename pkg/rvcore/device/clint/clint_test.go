package clint

import "testing"

func TestTimerPendingTracksMtimeVsMtimecmp(t *testing.T) {
	c := New(0x2000000)
	if c.TimerPending() {
		t.Fatal("a fresh CLINT has mtimecmp at max: timer must not be pending")
	}
	c.SetMtimecmp(100)
	c.Tick(50)
	if c.TimerPending() {
		t.Fatal("mtime (50) < mtimecmp (100): timer must not be pending yet")
	}
	c.Tick(50)
	if !c.TimerPending() {
		t.Fatal("mtime (100) >= mtimecmp (100): timer must be pending")
	}
}

func TestSoftwarePendingTracksMSIPLowBit(t *testing.T) {
	c := New(0x2000000)
	if c.SoftwarePending() {
		t.Fatal("msip starts clear")
	}
	c.Write(c.Base()+offMSIP, 4, 1)
	if !c.SoftwarePending() {
		t.Fatal("expected SoftwarePending after writing msip=1")
	}
	c.Write(c.Base()+offMSIP, 4, 0)
	if c.SoftwarePending() {
		t.Fatal("expected SoftwarePending to clear after writing msip=0")
	}
}

func TestMSIPOnlyHonorsLowBit(t *testing.T) {
	c := New(0x2000000)
	c.Write(c.Base()+offMSIP, 4, 0xfffffffe) // every bit but bit 0
	if c.SoftwarePending() {
		t.Fatal("only msip bit 0 should be able to raise the software interrupt")
	}
}

func TestMtimecmp64BitSplitReadWrite(t *testing.T) {
	c := New(0x2000000)
	c.Write(c.Base()+offMTimeCmp, 4, 0x11223344)
	c.Write(c.Base()+offMTimeCmp+4, 4, 0x55667788)
	if c.Mtimecmp() != 0x5566778811223344 {
		t.Fatalf("mtimecmp = %#x, want 0x5566778811223344", c.Mtimecmp())
	}
	lo, _ := c.Read(c.Base()+offMTimeCmp, 4)
	hi, _ := c.Read(c.Base()+offMTimeCmp+4, 4)
	if lo != 0x11223344 || hi != 0x55667788 {
		t.Fatalf("split read = %#x/%#x, want 0x11223344/0x55667788", lo, hi)
	}
}

func TestMtime64BitReadAfterTick(t *testing.T) {
	c := New(0x2000000)
	c.Tick(0x100000001)
	v, _ := c.Read(c.Base()+offMTime, 8)
	if v != 0x100000001 {
		t.Fatalf("mtime = %#x, want 0x100000001", v)
	}
}
