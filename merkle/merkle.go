// Package merkle implements the sparse 64-level binary Merkle tree over
// the 2^64 physical address space: a fixed keyed hash over 8-byte
// leaves, with precomputed pristine-subtree hashes so unmapped address
// ranges never need to be materialized or even walked. The hash family
// is golang.org/x/crypto/sha3's legacy Keccak-256.
package merkle

import (
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/go-rvm/rvm/pma"
)

// HashSize is the output width of the tree's hash function, in bytes.
const HashSize = 32

// Hash is a single Merkle node hash.
type Hash [HashSize]byte

// RootLog2Size is the log2 of the address space covered by the tree's root.
const RootLog2Size = 64

// LeafLog2Size is the log2 of a leaf's byte width (8 bytes).
const LeafLog2Size = 3

// PageLog2Size is the log2 of pma.PageSize, the granularity at which
// dirty-page bookkeeping operates.
var PageLog2Size = log2(pma.PageSize)

func log2(n int) int {
	l := 0
	for (1 << uint(l)) < n {
		l++
	}
	return l
}

func init() {
	if sha3.NewLegacyKeccak256().Size() != HashSize {
		panic("merkle: unexpected keccak digest size")
	}
}

func keccak(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d) //nolint:errcheck // hash.Hash.Write never errors
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// pristine[level] is the hash of a fully-zero subtree spanning 2^level
// bytes. pristine[0] is the leaf hash of eight zero bytes.
var pristine [RootLog2Size + 1]Hash

func init() {
	pristine[0] = keccak(make([]byte, 1<<LeafLog2Size))
	for l := 1; l <= RootLog2Size; l++ {
		pristine[l] = keccak(pristine[l-1][:], pristine[l-1][:])
	}
}

// PristineHash returns the precomputed hash of an all-zero subtree
// spanning 2^level bytes.
func PristineHash(level int) Hash {
	return pristine[level]
}

// LeafHash hashes an 8-byte leaf word the same way the tree hashes memory
// leaves internally. Exported so access logging/replay can recompute a
// leaf hash from a raw word value without a live Tree.
func LeafHash(word [8]byte) Hash {
	return keccak(word[:])
}

// Source is the read side of the PMA table the tree hashes over.
type Source interface {
	Entries() []*pma.Entry
}

// Tree is a sparse Merkle tree over a pma.Table. It never materializes
// unmapped subtrees; NodeHash short-circuits to the pristine hash for any
// address range the PMA table does not cover.
type Tree struct {
	table Source

	// pageRoot caches the page-root hash (level PageLog2Size): for memory
	// pages until they are next marked dirty, for device pages until the
	// next Update.
	pageRoot map[uint64]Hash

	// upper caches composed hashes above the page level, keyed by
	// (level, address). Invalidated in bulk on Update when any page is
	// dirty, and along the path of every device page on each Update:
	// correctness does not depend on precise invalidation (hashing
	// is a pure function of content), only the cache's own consistency.
	upper map[upperKey]Hash
}

type upperKey struct {
	level int
	addr  uint64
}

// New creates a Tree hashing over table.
func New(table Source) *Tree {
	return &Tree{
		table:    table,
		pageRoot: make(map[uint64]Hash),
		upper:    make(map[upperKey]Hash),
	}
}

// scratchPool avoids reallocating a page buffer on every device peek.
var scratchPool = make([]byte, pma.PageSize)

// readLeaf returns the 8 bytes at addr, or the zero word if addr falls
// outside any mapped PMA entry or on a pristine device page.
func (t *Tree) readLeaf(addr uint64) [8]byte {
	var out [8]byte
	e := t.resolve(addr)
	if e == nil {
		return out
	}
	if e.IsMemory() {
		off := addr - e.Start
		copy(out[:], e.Data[off:off+8])
		return out
	}
	if e.Drv == nil || e.Drv.Peek == nil {
		return out
	}
	pageOff := (addr - e.Start) / pma.PageSize * pma.PageSize
	data, ok := e.Drv.Peek(pageOff, scratchPool)
	if !ok || data == nil {
		return out
	}
	within := (addr - e.Start) - pageOff
	copy(out[:], data[within:within+8])
	return out
}

// resolve returns the PMA entry covering addr, or nil if none does.
func (t *Tree) resolve(addr uint64) *pma.Entry {
	for _, e := range t.table.Entries() {
		if e.IsSentinel() {
			continue
		}
		if addr >= e.Start && addr < e.Start+e.Length {
			return e
		}
	}
	return nil
}

// overlapsAny reports whether any PMA entry intersects [addr, addr+size).
func (t *Tree) overlapsAny(addr, size uint64) bool {
	end := addr + size // size <= 2^64 in practice is covered by level<64 callers; level 64 is handled separately
	for _, e := range t.table.Entries() {
		if e.IsSentinel() {
			continue
		}
		eEnd := e.Start + e.Length
		if addr < eEnd && e.Start < end {
			return true
		}
	}
	return false
}

// NodeHash returns the hash of the subtree spanning 2^level bytes starting
// at addr (addr must be aligned to 2^level).
func (t *Tree) NodeHash(level int, addr uint64) Hash {
	if level == 0 {
		leaf := t.readLeaf(addr)
		return keccak(leaf[:])
	}
	size := uint64(1) << uint(level-1)
	if level < RootLog2Size && !t.overlapsAny(addr, uint64(1)<<uint(level)) {
		return pristine[level]
	}
	if level >= PageLog2Size {
		key := upperKey{level, addr}
		if level > PageLog2Size {
			if h, ok := t.upper[key]; ok {
				return h
			}
		} else if h, ok := t.pageRoot[addr]; ok {
			return h
		}
	}
	left := t.NodeHash(level-1, addr)
	right := t.NodeHash(level-1, addr+size)
	h := keccak(left[:], right[:])
	if level > PageLog2Size {
		t.upper[upperKey{level, addr}] = h
	} else if level == PageLog2Size {
		t.pageRoot[addr] = h
	}
	return h
}

// Update rehashes every dirty page and clears their dirty bits, drops the
// cached hashes of device pages, then invalidates the composed cache above
// the page level so the next Root or Proof call recomposes it from the
// fresh page roots. Root and Proof call it automatically.
func (t *Tree) Update() {
	dirtied := false
	for _, e := range t.table.Entries() {
		if e.IsSentinel() {
			continue
		}
		if !e.IsMemory() {
			// Device pages have no dirty bits and Peek may return new
			// content at any time, so their page roots and every cached
			// ancestor are dropped and recomposed on demand.
			for addr := e.Start; addr < e.Start+e.Length; addr += pma.PageSize {
				delete(t.pageRoot, addr)
				for l := PageLog2Size + 1; l <= RootLog2Size; l++ {
					delete(t.upper, upperKey{l, addr &^ (uint64(1)<<uint(l) - 1)})
				}
			}
			continue
		}
		for page := range e.Dirty {
			if !e.Dirty[page] {
				continue
			}
			addr := e.Start + uint64(page)*pma.PageSize
			delete(t.pageRoot, addr)
			t.pageRoot[addr] = t.computePageRoot(addr)
			e.Dirty[page] = false
			dirtied = true
		}
	}
	if dirtied || len(t.upper) == 0 {
		t.upper = make(map[upperKey]Hash)
	}
}

func (t *Tree) computePageRoot(addr uint64) Hash {
	if PageLog2Size == 0 {
		return t.NodeHash(0, addr)
	}
	left := t.nodeHashNoCache(PageLog2Size-1, addr)
	right := t.nodeHashNoCache(PageLog2Size-1, addr+uint64(1)<<uint(PageLog2Size-1))
	return keccak(left[:], right[:])
}

// nodeHashNoCache is NodeHash without any cache: computePageRoot uses it
// below the page root, and VerifyMerkleTree uses it to recompute the
// whole tree from scratch.
func (t *Tree) nodeHashNoCache(level int, addr uint64) Hash {
	if level == 0 {
		leaf := t.readLeaf(addr)
		return keccak(leaf[:])
	}
	size := uint64(1) << uint(level-1)
	if level < RootLog2Size && !t.overlapsAny(addr, uint64(1)<<uint(level)) {
		return pristine[level]
	}
	left := t.nodeHashNoCache(level-1, addr)
	right := t.nodeHashNoCache(level-1, addr+size)
	return keccak(left[:], right[:])
}

// Root forces Update and returns the current root hash.
func (t *Tree) Root() Hash {
	t.Update()
	return t.NodeHash(RootLog2Size, 0)
}

// Proof is a Merkle inclusion/exclusion proof for an aligned address range.
type Proof struct {
	Address    uint64
	Log2Size   int
	TargetHash Hash
	RootHash   Hash
	Siblings   []Hash // len == RootLog2Size - Log2Size, ordered leaf-to-root
}

// GetProof forces Update and returns the proof for the aligned range
// [addr, addr+2^log2Size).
func (t *Tree) GetProof(addr uint64, log2Size int) (*Proof, error) {
	if log2Size < LeafLog2Size || log2Size > RootLog2Size {
		return nil, fmt.Errorf("merkle: log2Size %d out of range [%d,%d]", log2Size, LeafLog2Size, RootLog2Size)
	}
	if addr&(uint64(1)<<uint(log2Size)-1) != 0 && log2Size < 64 {
		return nil, fmt.Errorf("merkle: address %#x not aligned to 2^%d", addr, log2Size)
	}
	t.Update()

	target := t.NodeHash(log2Size, addr)
	siblings := make([]Hash, 0, RootLog2Size-log2Size)
	nodeAddr := addr
	for level := log2Size; level < RootLog2Size; level++ {
		siblingAddr := nodeAddr ^ (uint64(1) << uint(level))
		siblings = append(siblings, t.NodeHash(level, siblingAddr))
		nodeAddr &^= uint64(1) << uint(level)
	}
	root := t.NodeHash(RootLog2Size, 0)
	return &Proof{
		Address:    addr,
		Log2Size:   log2Size,
		TargetHash: target,
		RootHash:   root,
		Siblings:   siblings,
	}, nil
}

// FoldProof recomputes the root implied by a node hash and its sibling
// chain, climbing from level up to the root. Used by Replay to turn a
// logged (OldWord or NewWord, Siblings) pair into a root hash without ever
// touching a live Tree.
func FoldProof(addr uint64, level int, node Hash, siblings []Hash) (Hash, error) {
	if len(siblings) != RootLog2Size-level {
		return Hash{}, fmt.Errorf("merkle: expected %d siblings at level %d, got %d", RootLog2Size-level, level, len(siblings))
	}
	cur := node
	a := addr
	for i, l := 0, level; l < RootLog2Size; i, l = i+1, l+1 {
		sib := siblings[i]
		if a&(uint64(1)<<uint(l)) == 0 {
			cur = keccak(cur[:], sib[:])
		} else {
			cur = keccak(sib[:], cur[:])
		}
		a &^= uint64(1) << uint(l)
	}
	return cur, nil
}

// VerifyProof recomputes the root implied by target and the sibling chain
// and compares it against root. Used both by Tree.VerifyMerkleTree and by
// the stand-alone verify package, which holds no Tree at all.
func VerifyProof(addr uint64, log2Size int, target Hash, siblings []Hash, root Hash) bool {
	got, err := FoldProof(addr, log2Size, target, siblings)
	return err == nil && got == root
}

// VerifyMerkleTree recomputes the whole tree from scratch, ignoring every
// cache, and reports whether it matches the cached root.
func (t *Tree) VerifyMerkleTree() bool {
	cached := t.Root()
	fresh := t.nodeHashNoCache(RootLog2Size, 0)
	return cached == fresh
}

// VerifyDirtyPageMaps reports whether every memory page currently marked
// clean still hashes to its cached page-root, i.e. no write slipped past
// the dirty-bit bookkeeping.
func (t *Tree) VerifyDirtyPageMaps() bool {
	for _, e := range t.table.Entries() {
		if e.IsSentinel() || !e.IsMemory() {
			continue
		}
		for page, dirty := range e.Dirty {
			if dirty {
				continue
			}
			addr := e.Start + uint64(page)*pma.PageSize
			cached, ok := t.pageRoot[addr]
			if !ok {
				continue
			}
			if t.computePageRoot(addr) != cached {
				return false
			}
		}
	}
	return true
}
