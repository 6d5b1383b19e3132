package image

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestLoadPassesThroughUncompressedImage(t *testing.T) {
	data := []byte("not compressed at all")
	path := filepath.Join(t.TempDir(), "plain.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Load = %q, want the file contents unchanged", got)
	}
}

func TestLoadDecompressesZstdByMagic(t *testing.T) {
	data := bytes.Repeat([]byte("kernel image payload "), 100)
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	compressed := enc.EncodeAll(data, nil)
	enc.Close()
	if !bytes.HasPrefix(compressed, zstdMagic) {
		t.Fatal("encoder output does not carry the zstd frame magic")
	}

	path := filepath.Join(t.TempDir(), "kernel.zst")
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decompressed image does not match the original payload")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.bin")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestPlanKernelAtOffsetZero(t *testing.T) {
	p, err := Plan(64<<20, 4096, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if p.KernelOffset != 0 {
		t.Fatalf("KernelOffset = %#x, want 0", p.KernelOffset)
	}
	if p.HasInitrd {
		t.Fatal("HasInitrd set without an initrd")
	}
}

func TestPlanInitrdPageAlignedBelowReservedTail(t *testing.T) {
	const ramSize = 1 << 20
	const initrdSize = 5000
	p, err := Plan(ramSize, 4096, initrdSize, true)
	if err != nil {
		t.Fatal(err)
	}
	if p.InitrdOffset%pageSize != 0 {
		t.Fatalf("InitrdOffset %#x is not page aligned", p.InitrdOffset)
	}
	if p.InitrdOffset+initrdSize > ramSize-tailReserve {
		t.Fatalf("initrd end %#x intrudes into the reserved tail", p.InitrdOffset+initrdSize)
	}
	// Highest such offset: one page lower would waste a page.
	if p.InitrdOffset+pageSize+initrdSize <= ramSize-tailReserve {
		t.Fatalf("InitrdOffset %#x is not the highest page-aligned placement", p.InitrdOffset)
	}
}

func TestPlanRejectsOversizedImages(t *testing.T) {
	if _, err := Plan(1<<20, 2<<20, 0, false); err == nil {
		t.Fatal("expected an error for a kernel larger than RAM")
	}
	if _, err := Plan(1<<20, 4096, 1<<20, true); err == nil {
		t.Fatal("expected an error for an initrd that leaves no reserved tail")
	}
	if _, err := Plan(1<<20, 900<<10, 200<<10, true); err == nil {
		t.Fatal("expected an error when the initrd placement overlaps the kernel")
	}
}
