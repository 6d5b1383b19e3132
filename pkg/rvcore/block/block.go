// Package block implements the basic-block cache: a mapping from
// physical address to a compiled sequence of decoded instructions,
// with O(1) bulk invalidation via a generation counter, as spec.md
// §3/§4.9 describe.
package block

import "github.com/rvcore/rvcore/pkg/rvcore/decode"

// DefaultMaxLength bounds compiled block length, per spec.md §4.9's
// recommendation.
const DefaultMaxLength = 64

// Block is a compiled sequence of decoded instructions starting at a
// physical address and ending with a terminator (a branch,
// unconditional/indirect jump, or SYSTEM/FENCE.I/SFENCE.VMA
// instruction). Invariant: no instruction except the last ever
// transfers control or affects address translation.
type Block struct {
	StartPaddr uint32
	Instrs     []decode.Instruction
	Generation uint64
}

// Reader is the narrow interface block compilation needs: successive
// 32-bit instruction fetches against physical addresses.
type Reader interface {
	Read32(paddr uint32) (uint32, error)
}

// Cache maps physical address to compiled Block, invalidated in bulk
// by bumping Generation; a lookup whose block predates the current
// generation misses as if the cache were empty, which is what gives
// FENCE.I/SFENCE.VMA/satp-write invalidation O(1) cost regardless of
// how many blocks are cached.
type Cache struct {
	blocks     map[uint32]*Block
	generation uint64
	maxLength  int
}

// New returns an empty Cache bounding compiled blocks to maxLength
// instructions (DefaultMaxLength if zero).
func New(maxLength int) *Cache {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Cache{blocks: make(map[uint32]*Block), maxLength: maxLength}
}

// Lookup returns the cached block at paddr if one exists and its
// generation matches the cache's current generation.
func (c *Cache) Lookup(paddr uint32) (*Block, bool) {
	b, ok := c.blocks[paddr]
	if !ok || b.Generation != c.generation {
		return nil, false
	}
	return b, true
}

// Compile reads successive 32-bit words from r starting at paddr,
// decoding each and appending to a new block until a terminator
// instruction is reached (included) or the cache's maxLength is hit,
// then stores and returns the compiled block.
func (c *Cache) Compile(r Reader, paddr uint32) (*Block, error) {
	b := &Block{StartPaddr: paddr, Generation: c.generation}
	addr := paddr
	for len(b.Instrs) < c.maxLength {
		word, err := r.Read32(addr)
		if err != nil {
			if len(b.Instrs) == 0 {
				return nil, err
			}
			break // partial block on a fetch fault mid-compile: stop here
		}
		in := decode.Decode(word)
		b.Instrs = append(b.Instrs, in)
		if decode.IsTerminator(in) {
			break
		}
		addr += 4
	}
	c.blocks[paddr] = b
	return b, nil
}

// InvalidateAll bumps the generation counter; every previously
// compiled block becomes unreachable via Lookup without needing to be
// visited or freed individually.
func (c *Cache) InvalidateAll() {
	c.generation++
}

func (c *Cache) Generation() uint64 { return c.generation }
