package testutil

import (
	"bytes"
)

// StubHasher is a transparent hasher for tests: Hash wraps the input as
// "h(...)" and HashPair as "(left,right)", so expected tree nodes can be
// written by hand.
type StubHasher struct{}

func (StubHasher) Name() string { return "stub" }

func (StubHasher) Hash(data []byte) []byte {
	return bytes.Join([][]byte{[]byte("h("), data, []byte(")")}, nil)
}

func (StubHasher) HashPair(left, right []byte) []byte {
	return bytes.Join([][]byte{[]byte("("), left, []byte(","), right, []byte(")")}, nil)
}
