// Package tree implements the fixed-depth, append-only incremental Merkle
// tree that accumulates voter identities, its snapshots, and the history of
// roots the tree has held.
//
// Insertion keeps one cached left node per level (filled) and precomputed
// empty subtree hashes (zero levels), so appending a leaf and recomputing the
// path of the most recent leaf are both O(depth).
package tree

import (
	"errors"
	"fmt"

	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/types"
)

// MaxDepth bounds the tree height so the capacity fits an uint64 index.
const MaxDepth = 32

var (
	ErrInvalidDepth        = errors.New("invalid tree depth")
	ErrLeafIndexOutOfRange = errors.New("leaf index out of range")
	ErrEmptySnapshot       = errors.New("empty snapshot")
)

// Tree is the incremental Merkle accumulator. It is not safe for concurrent
// use; the owner serializes access.
type Tree struct {
	hasher     hash.Hasher
	depth      int
	zeroNode   types.HexBytes
	zeroLevels []types.HexBytes
	filled     []types.HexBytes
	root       types.HexBytes
	index      uint64
}

// New returns an empty tree of the given depth. The zero node is the hash of
// 32 zero bytes.
func New(hasher hash.Hasher, depth int) (*Tree, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	t := &Tree{
		hasher:   hasher,
		depth:    depth,
		zeroNode: hasher.Hash(make([]byte, 32)),
		filled:   make([]types.HexBytes, depth),
	}
	t.CalculateZeroLevels()
	return t, nil
}

// CalculateZeroLevels fills the empty subtree hashes from the zero node:
// level 0 is the zero node and each level hashes the previous one with
// itself. Rerunning it with the same zero node gives the same result.
func (t *Tree) CalculateZeroLevels() {
	levels := make([]types.HexBytes, t.depth)
	levels[0] = t.zeroNode.Clone()
	for i := 1; i < t.depth; i++ {
		levels[i] = t.hasher.HashPair(levels[i-1], levels[i-1])
	}
	t.zeroLevels = levels
}

// InsertLeaf appends leaf at the next free index and updates the root.
// Callers must check Full first: inserting into a full tree panics.
func (t *Tree) InsertLeaf(leaf []byte) {
	if t.Full() {
		panic(fmt.Sprintf("tree: insert into full tree (capacity %d)", t.Capacity()))
	}
	cur := types.HexBytes(leaf).Clone()
	idx := t.index
	for i := 0; i < t.depth; i++ {
		if idx%2 == 0 {
			t.filled[i] = cur
			cur = t.hasher.HashPair(cur, t.zeroLevels[i])
		} else {
			cur = t.hasher.HashPair(t.filled[i], cur)
		}
		idx /= 2
	}
	t.root = cur
	t.index++
}

// RootForLeafAt recomputes the root for leaf at leafIndex, using the cached
// left nodes for odd positions and the zero levels for even ones. The result
// is meaningful on the tree state right before the leaf was inserted
// (leafIndex == Index()) and right after (leafIndex == Index()-1); both give
// the root the tree held after that insertion.
func (t *Tree) RootForLeafAt(leaf []byte, leafIndex uint64) ([]byte, error) {
	if leafIndex > t.index || leafIndex >= t.Capacity() {
		return nil, fmt.Errorf("%w: %d (next free %d, capacity %d)",
			ErrLeafIndexOutOfRange, leafIndex, t.index, t.Capacity())
	}
	siblings, bits := t.path(leafIndex)
	cur := types.HexBytes(leaf)
	for i := range siblings {
		if bits[i] {
			cur = t.hasher.HashPair(siblings[i], cur)
		} else {
			cur = t.hasher.HashPair(cur, siblings[i])
		}
	}
	return cur, nil
}

// Path returns the sibling at every level and whether the node on the path
// is a right child, following the same rule as RootForLeafAt.
func (t *Tree) Path(leafIndex uint64) ([]types.HexBytes, []bool, error) {
	if leafIndex > t.index || leafIndex >= t.Capacity() {
		return nil, nil, fmt.Errorf("%w: %d", ErrLeafIndexOutOfRange, leafIndex)
	}
	siblings, bits := t.path(leafIndex)
	return siblings, bits, nil
}

func (t *Tree) path(leafIndex uint64) ([]types.HexBytes, []bool) {
	siblings := make([]types.HexBytes, t.depth)
	bits := make([]bool, t.depth)
	idx := leafIndex
	for i := 0; i < t.depth; i++ {
		if idx%2 == 0 {
			siblings[i] = t.zeroLevels[i]
		} else {
			siblings[i] = t.filled[i]
			bits[i] = true
		}
		idx /= 2
	}
	return siblings, bits
}

// Root returns the current root, or nil before the first insertion.
func (t *Tree) Root() types.HexBytes {
	return t.root.Clone()
}

// Index returns the next free leaf position, which is also the number of
// leaves inserted so far.
func (t *Tree) Index() uint64 {
	return t.index
}

// Depth returns the tree height.
func (t *Tree) Depth() int {
	return t.depth
}

// Capacity returns the maximum number of leaves, 2^depth.
func (t *Tree) Capacity() uint64 {
	return uint64(1) << t.depth
}

// Full reports whether no more leaves fit.
func (t *Tree) Full() bool {
	return t.index >= t.Capacity()
}

// Hasher returns the hash function of the tree.
func (t *Tree) Hasher() hash.Hasher {
	return t.hasher
}

// ZeroNode returns the empty leaf value.
func (t *Tree) ZeroNode() types.HexBytes {
	return t.zeroNode.Clone()
}

// ZeroLevels returns a copy of the empty subtree hashes per level.
func (t *Tree) ZeroLevels() []types.HexBytes {
	return types.CloneSlice(t.zeroLevels)
}

