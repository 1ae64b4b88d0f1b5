package tree

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/cypherpoll/types"
)

func TestRootHistoryUnbounded(t *testing.T) {
	c := qt.New(t)

	h := NewRootHistory(0)
	for i := byte(0); i < 100; i++ {
		h.Push([]byte{i})
	}
	c.Assert(h.Len(), qt.Equals, 100)
	c.Assert(h.Contains([]byte{0}), qt.IsTrue)
	c.Assert(h.Contains([]byte{200}), qt.IsFalse)
	c.Assert(h.Missing([]types.HexBytes{{0}, {99}}), qt.IsNil)
	c.Assert(h.Missing([]types.HexBytes{{0}, {150}, {151}}), qt.DeepEquals, types.HexBytes{150})
	c.Assert(h.Latest(2), qt.DeepEquals, []types.HexBytes{{98}, {99}})
	c.Assert(h.Latest(0), qt.HasLen, 100)
}

func TestRootHistoryWindow(t *testing.T) {
	c := qt.New(t)

	h := NewRootHistory(3)
	for i := byte(1); i <= 5; i++ {
		h.Push([]byte{i})
	}
	c.Assert(h.Roots(), qt.DeepEquals, []types.HexBytes{{3}, {4}, {5}})
	// evicted but once valid
	c.Assert(h.Contains([]byte{1}), qt.IsFalse)
	c.Assert(h.Contains([]byte{2}), qt.IsFalse)
	c.Assert(h.Contains([]byte{3}), qt.IsTrue)

	// a repeated root stays known while any copy is in the window
	h.Push([]byte{3})
	c.Assert(h.Roots(), qt.DeepEquals, []types.HexBytes{{4}, {5}, {3}})
	c.Assert(h.Contains([]byte{3}), qt.IsTrue)
}

func TestRootHistoryCopies(t *testing.T) {
	c := qt.New(t)

	h := NewRootHistory(0)
	root := []byte{1, 2}
	h.Push(root)
	root[0] = 9
	c.Assert(h.Contains([]byte{1, 2}), qt.IsTrue)
	out := h.Roots()
	out[0][0] = 7
	c.Assert(h.Contains([]byte{1, 2}), qt.IsTrue)
}
