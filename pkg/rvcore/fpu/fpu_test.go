package fpu

import (
	"math"
	"testing"
)

func TestNaNBoxRoundTrip(t *testing.T) {
	bits := math.Float32bits(3.25)
	boxed := Box32(bits)
	if got := Unbox32(boxed); got != bits {
		t.Fatalf("Unbox32(Box32(x)) = %#x, want %#x", got, bits)
	}
	if F32(boxed) != 3.25 {
		t.Fatalf("F32(boxed) = %v, want 3.25", F32(boxed))
	}
}

func TestUnboxRejectsUnboxedValue(t *testing.T) {
	// Upper 32 bits not all ones: not a legally NaN-boxed single.
	notBoxed := uint64(0x12345678)
	got := Unbox32(notBoxed)
	if got != 0x7fc00000 {
		t.Fatalf("Unbox32(unboxed) = %#x, want canonical quiet NaN 0x7fc00000", got)
	}
}

func TestCvtWSExactConversionReportsNoInexact(t *testing.T) {
	_, flags := CvtWS(4.0)
	if flags != 0 {
		t.Fatalf("exact conversion of 4.0 reported flags %#x, want 0", flags)
	}
}

func TestCvtWSInexactConversionSetsFlag(t *testing.T) {
	v, flags := CvtWS(4.5)
	if v != 4 {
		t.Fatalf("round-to-even 4.5 -> %d, want 4", v)
	}
	if flags&FlagNX == 0 {
		t.Fatalf("inexact conversion of 4.5 did not set FlagNX, flags=%#x", flags)
	}
}

func TestCvtWSNaNSaturatesToMaxInt32(t *testing.T) {
	v, flags := CvtWS(float32(math.NaN()))
	if v != math.MaxInt32 {
		t.Fatalf("CvtWS(NaN) = %d, want MaxInt32", v)
	}
	if flags&FlagNV == 0 {
		t.Fatal("CvtWS(NaN) did not set the invalid flag")
	}
}

func TestCvtWUSNaNSaturatesToAllOnes(t *testing.T) {
	v, flags := CvtWUS(float32(math.NaN()))
	if v != 0xffffffff {
		t.Fatalf("CvtWUS(NaN) = %#x, want 0xffffffff", v)
	}
	if flags&FlagNV == 0 {
		t.Fatal("CvtWUS(NaN) did not set the invalid flag")
	}
}

func TestCvtWSOutOfRangeSaturates(t *testing.T) {
	v, flags := CvtWS(1e20)
	if v != math.MaxInt32 {
		t.Fatalf("CvtWS(1e20) = %d, want MaxInt32", v)
	}
	if flags&FlagNV == 0 {
		t.Fatal("out-of-range conversion did not set the invalid flag")
	}

	v2, _ := CvtWS(-1e20)
	if v2 != math.MinInt32 {
		t.Fatalf("CvtWS(-1e20) = %d, want MinInt32", v2)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		f    float64
		bit  uint32
	}{
		{"-inf", math.Inf(-1), 1 << 0},
		{"negative normal", -2.0, 1 << 1},
		{"-0", math.Copysign(0, -1), 1 << 3},
		{"+0", 0, 1 << 4},
		{"positive normal", 2.0, 1 << 6},
		{"+inf", math.Inf(1), 1 << 7},
		{"NaN", math.NaN(), 1 << 9},
	}
	for _, c := range cases {
		if got := Classify(c.f); got != c.bit {
			t.Errorf("Classify(%s) = %#x, want %#x", c.name, got, c.bit)
		}
	}
}

func TestRoundTowardsZeroTruncates(t *testing.T) {
	if got := Round(1.75, RTZ); got != 1.0 {
		t.Fatalf("Round(1.75, RTZ) = %v, want 1.0", got)
	}
	if got := Round(-1.75, RTZ); got != -1.0 {
		t.Fatalf("Round(-1.75, RTZ) = %v, want -1.0", got)
	}
}

func TestRoundDownAndUp(t *testing.T) {
	if got := Round(1.1, RDN); got != 1.0 {
		t.Fatalf("Round(1.1, RDN) = %v, want 1.0", got)
	}
	if got := Round(1.1, RUP); got != 2.0 {
		t.Fatalf("Round(1.1, RUP) = %v, want 2.0", got)
	}
}

func TestRoundNearestMaxMagnitudeBreaksTiesAwayFromZero(t *testing.T) {
	if got := Round(2.5, RMM); got != 3.0 {
		t.Fatalf("Round(2.5, RMM) = %v, want 3.0", got)
	}
	if got := Round(-2.5, RMM); got != -3.0 {
		t.Fatalf("Round(-2.5, RMM) = %v, want -3.0", got)
	}
	if got := Round(2.25, RMM); got != 2.0 {
		t.Fatalf("Round(2.25, RMM) = %v, want 2.0 (nearest, no tie)", got)
	}
}

func TestRoundNearestEvenDefersToHostRounding(t *testing.T) {
	// RNE leaves the already-correctly-rounded intermediate untouched;
	// the tie-to-even behavior itself comes from the host FPU.
	if got := Round(2.5, RNE); got != 2.5 {
		t.Fatalf("Round(2.5, RNE) = %v, want the value passed through", got)
	}
}
