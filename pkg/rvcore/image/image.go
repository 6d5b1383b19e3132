// Package image implements kernel and initrd loading: zstd-magic
// detection and decompression, and the RAM placement rules spec.md §6's
// embedded surface describes (kernel at RAM base, initrd at a
// page-aligned high offset with a 64-KiB tail reserved).
package image

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the four-byte frame magic number
// (RFC 8478 §3.1.1) that identifies a zstd-compressed image.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// tailReserve is the fixed 64-KiB window left untouched at the top of
// RAM, per spec.md §6, for the kernel's own post-initrd bump allocations
// (boot-time page tables, early memblock reservations).
const tailReserve = 64 * 1024

const pageSize = 4096

// Load reads path, transparently decompressing it if it carries a zstd
// frame header.
func Load(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	if !bytes.HasPrefix(raw, zstdMagic) {
		return raw, nil
	}
	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("image: zstd: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("image: zstd decompress: %w", err)
	}
	return out, nil
}

// Placement describes where a loaded kernel and (optional) initrd land
// inside a RAM window of the given size.
type Placement struct {
	KernelOffset uint32
	InitrdOffset uint32
	InitrdSize   uint32
	HasInitrd    bool
}

// Plan computes a Placement for a kernel of kernelSize bytes and an
// optional initrd of initrdSize bytes within a RAM window of ramSize
// bytes: the kernel goes at offset zero, the initrd at the highest
// page-aligned offset that still leaves tailReserve bytes free at the
// top of RAM.
func Plan(ramSize uint32, kernelSize uint32, initrdSize uint32, hasInitrd bool) (Placement, error) {
	p := Placement{KernelOffset: 0}
	if kernelSize > ramSize {
		return p, fmt.Errorf("image: kernel (%d bytes) does not fit in %d bytes of RAM", kernelSize, ramSize)
	}
	if !hasInitrd {
		return p, nil
	}
	if initrdSize+tailReserve > ramSize {
		return p, fmt.Errorf("image: initrd (%d bytes) plus reserved tail does not fit in %d bytes of RAM", initrdSize, ramSize)
	}
	top := ramSize - tailReserve
	off := (top - initrdSize) &^ (pageSize - 1)
	if off < kernelSize {
		return p, fmt.Errorf("image: initrd offset %#x overlaps the kernel image (ends at %#x)", off, kernelSize)
	}
	p.InitrdOffset = off
	p.InitrdSize = initrdSize
	p.HasInitrd = true
	return p, nil
}
