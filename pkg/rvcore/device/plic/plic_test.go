package plic

import "testing"

const (
	contextMachine    = 0
	contextSupervisor = 1
)

func TestClaimPicksHighestPriorityEnabledSource(t *testing.T) {
	p := New(0xc000000)
	p.priority[3] = 1
	p.priority[7] = 5
	p.enable[contextSupervisor] = 1<<3 | 1<<7
	p.Raise(3)
	p.Raise(7)

	if got := p.Claim(contextSupervisor); got != 7 {
		t.Fatalf("Claim = %d, want 7 (higher priority)", got)
	}
	// source 7 is now claimed and no longer pending; source 3 remains.
	if got := p.Claim(contextSupervisor); got != 3 {
		t.Fatalf("second Claim = %d, want 3", got)
	}
	if got := p.Claim(contextSupervisor); got != 0 {
		t.Fatalf("third Claim = %d, want 0 (nothing left pending)", got)
	}
}

func TestClaimIgnoresDisabledSources(t *testing.T) {
	p := New(0xc000000)
	p.priority[5] = 1
	p.Raise(5) // pending, but never enabled for any context
	if got := p.Claim(contextSupervisor); got != 0 {
		t.Fatalf("Claim = %d, want 0 (source not enabled)", got)
	}
}

func TestClaimIgnoresPriorityZero(t *testing.T) {
	p := New(0xc000000)
	p.enable[contextSupervisor] = 1 << 2
	p.Raise(2) // priority left at zero: "never interrupt" per PLIC semantics
	if got := p.Claim(contextSupervisor); got != 0 {
		t.Fatalf("Claim = %d, want 0 (priority zero never claimable)", got)
	}
}

func TestClaimRespectsThreshold(t *testing.T) {
	p := New(0xc000000)
	p.priority[4] = 3
	p.enable[contextSupervisor] = 1 << 4
	p.threshold[contextSupervisor] = 3
	p.Raise(4)
	if got := p.Claim(contextSupervisor); got != 0 {
		t.Fatalf("Claim = %d, want 0 (priority must strictly exceed threshold)", got)
	}
}

func TestExternalPendingReflectsClaimableSource(t *testing.T) {
	p := New(0xc000000)
	if p.ExternalPending(contextSupervisor) {
		t.Fatal("expected no external pending on a fresh PLIC")
	}
	p.priority[1] = 1
	p.enable[contextSupervisor] = 1 << 1
	p.Raise(1)
	if !p.ExternalPending(contextSupervisor) {
		t.Fatal("expected external pending once a claimable source is raised")
	}
	p.Claim(contextSupervisor)
	if p.ExternalPending(contextSupervisor) {
		t.Fatal("expected external pending to drop once the source is claimed")
	}
}

func TestCompleteClearsClaimedBit(t *testing.T) {
	p := New(0xc000000)
	p.priority[6] = 1
	p.enable[contextSupervisor] = 1 << 6
	p.Raise(6)
	p.Claim(contextSupervisor)
	if p.claimed&(1<<6) == 0 {
		t.Fatal("expected source 6 marked claimed")
	}
	p.Complete(contextSupervisor, 6)
	if p.claimed&(1<<6) != 0 {
		t.Fatal("expected Complete to clear the claimed bit")
	}
}

func TestRaiseIgnoresSourceZero(t *testing.T) {
	p := New(0xc000000)
	p.Raise(0)
	if p.pending != 0 {
		t.Fatal("source 0 is reserved for \"no interrupt\" and must never become pending")
	}
}

func TestMMIOEnableRegisterRoundTrip(t *testing.T) {
	p := New(0xc000000)
	p.Write(p.Base()+offEnableBase+enableStride*contextSupervisor, 4, 0x55)
	v, _ := p.Read(p.Base()+offEnableBase+enableStride*contextSupervisor, 4)
	if v != 0x55 {
		t.Fatalf("enable readback = %#x, want 0x55", v)
	}
}

func TestMMIOClaimRegisterReadInvokesClaim(t *testing.T) {
	p := New(0xc000000)
	p.priority[9] = 2
	p.Write(p.Base()+offEnableBase+enableStride*contextSupervisor, 4, 1<<9)
	p.Raise(9)

	addr := p.Base() + offContextBase + contextStride*contextSupervisor + offClaim
	v, _ := p.Read(addr, 4)
	if v != 9 {
		t.Fatalf("claim register read = %d, want 9", v)
	}
	if p.pending&(1<<9) != 0 {
		t.Fatal("expected the MMIO claim read to clear the pending bit")
	}
}

func TestMMIOClaimRegisterWriteInvokesComplete(t *testing.T) {
	p := New(0xc000000)
	p.priority[9] = 2
	p.Write(p.Base()+offEnableBase+enableStride*contextSupervisor, 4, 1<<9)
	p.Raise(9)
	p.Claim(contextSupervisor)

	addr := p.Base() + offContextBase + contextStride*contextSupervisor + offClaim
	p.Write(addr, 4, 9)
	if p.claimed&(1<<9) != 0 {
		t.Fatal("expected the MMIO claim register write to complete source 9")
	}
}
