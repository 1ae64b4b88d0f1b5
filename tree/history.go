package tree

import (
	"github.com/vocdoni/cypherpoll/types"
)

// RootHistory is the ordered list of roots the tree has held. With a zero
// size it grows without bound; with a positive size only the most recent
// roots are kept and older ones stop being recognized.
type RootHistory struct {
	size  int
	roots []types.HexBytes
	count map[string]int
}

// NewRootHistory returns an empty history keeping at most size roots, or all
// of them if size is zero or negative.
func NewRootHistory(size int) *RootHistory {
	return &RootHistory{
		size:  max(size, 0),
		count: make(map[string]int),
	}
}

// Push appends root, evicting the oldest entry when the window is full.
func (h *RootHistory) Push(root []byte) {
	r := types.HexBytes(root).Clone()
	h.roots = append(h.roots, r)
	h.count[string(r)]++
	if h.size > 0 && len(h.roots) > h.size {
		evicted := h.roots[0]
		h.roots = h.roots[1:]
		if h.count[string(evicted)]--; h.count[string(evicted)] == 0 {
			delete(h.count, string(evicted))
		}
	}
}

// Contains reports whether root is in the history.
func (h *RootHistory) Contains(root []byte) bool {
	return h.count[string(root)] > 0
}

// Missing returns the first of roots absent from the history, or nil if all
// of them are present.
func (h *RootHistory) Missing(roots []types.HexBytes) types.HexBytes {
	for _, r := range roots {
		if !h.Contains(r) {
			return r
		}
	}
	return nil
}

// Roots returns a copy of the history, oldest first.
func (h *RootHistory) Roots() []types.HexBytes {
	return types.CloneSlice(h.roots)
}

// Latest returns the last n roots, or all of them if n is larger than the
// history or not positive.
func (h *RootHistory) Latest(n int) []types.HexBytes {
	if n <= 0 || n >= len(h.roots) {
		return h.Roots()
	}
	return types.CloneSlice(h.roots[len(h.roots)-n:])
}

// Len returns the number of roots kept.
func (h *RootHistory) Len() int {
	return len(h.roots)
}

// Size returns the window size, zero when unbounded.
func (h *RootHistory) Size() int {
	return h.size
}
