package tree

import (
	"fmt"

	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/types"
)

// Snapshot is a detached copy of the tree state. Registrants keep the
// snapshot taken right before their leaf was inserted, and later restore it to
// rebuild their membership path at Snapshot.Index.
type Snapshot struct {
	Hasher     string           `json:"hasher" cbor:"hasher"`
	Depth      int              `json:"depth" cbor:"depth"`
	ZeroNode   types.HexBytes   `json:"zeroNode" cbor:"zeroNode"`
	ZeroLevels []types.HexBytes `json:"zeroLevels" cbor:"zeroLevels"`
	Filled     []types.HexBytes `json:"filled" cbor:"filled"`
	Root       types.HexBytes   `json:"root,omitempty" cbor:"root,omitempty"`
	Index      uint64           `json:"index" cbor:"index"`
}

// Snapshot returns a deep copy of the current state.
func (t *Tree) Snapshot() *Snapshot {
	return &Snapshot{
		Hasher:     t.hasher.Name(),
		Depth:      t.depth,
		ZeroNode:   t.zeroNode.Clone(),
		ZeroLevels: types.CloneSlice(t.zeroLevels),
		Filled:     types.CloneSlice(t.filled),
		Root:       t.root.Clone(),
		Index:      t.index,
	}
}

// Restore rebuilds a tree from a snapshot, resolving the hasher by name.
func Restore(s *Snapshot) (*Tree, error) {
	if s == nil {
		return nil, ErrEmptySnapshot
	}
	h, err := hash.FromName(s.Hasher)
	if err != nil {
		return nil, err
	}
	return RestoreWith(s, h)
}

// RestoreWith rebuilds a tree from a snapshot with an explicit hasher. The
// stored zero levels are kept as they are; the zero node must match the
// hasher.
func RestoreWith(s *Snapshot, hasher hash.Hasher) (*Tree, error) {
	if s == nil {
		return nil, ErrEmptySnapshot
	}
	if s.Depth < 1 || s.Depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, s.Depth)
	}
	if len(s.ZeroLevels) != s.Depth || len(s.Filled) != s.Depth {
		return nil, fmt.Errorf("snapshot levels do not match depth %d", s.Depth)
	}
	if !types.HexBytes(hasher.Hash(make([]byte, 32))).Equal(s.ZeroNode) {
		return nil, fmt.Errorf("snapshot zero node does not match hasher %s", hasher.Name())
	}
	t := &Tree{
		hasher:     hasher,
		depth:      s.Depth,
		zeroNode:   s.ZeroNode.Clone(),
		zeroLevels: types.CloneSlice(s.ZeroLevels),
		filled:     types.CloneSlice(s.Filled),
		root:       s.Root.Clone(),
		index:      s.Index,
	}
	if t.index > t.Capacity() {
		return nil, fmt.Errorf("%w: snapshot index %d", ErrLeafIndexOutOfRange, s.Index)
	}
	return t, nil
}
