// Package testutil holds deterministic fixtures shared by the package tests:
// voters with fixed keys and seeds, filled trees and a passthrough proof
// system.
package testutil

import (
	"fmt"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/cypherpoll/circuit"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/crypto/signatures/ethereum"
	"github.com/vocdoni/cypherpoll/identity"
	"github.com/vocdoni/cypherpoll/tree"
	"github.com/vocdoni/cypherpoll/types"
)

// Voter is a registrant with a deterministic key and nullifier.
type Voter struct {
	Signer           *ethereum.Signer
	ExternalIdentity string
	PublicKey        string
	Nullifier        types.HexBytes
	Leaf             types.HexBytes
	Vote             string

	// set once the leaf is inserted
	Snapshot  *tree.Snapshot
	LeafIndex uint64
}

// NewVoter returns the n-th deterministic voter.
func NewVoter(c *qt.C, h hash.Hasher, n int, params circuit.Params, vote string) *Voter {
	signer, err := ethereum.NewSignerFromSeed([]byte(fmt.Sprintf("voter-key-%d", n)))
	c.Assert(err, qt.IsNil)
	id := identity.New(h)
	nullifier, err := id.GenerateNullifier([]byte(fmt.Sprintf("voter-seed-%d", n)))
	c.Assert(err, qt.IsNil)
	var bound *string
	if params.BindVote {
		bound = &vote
	}
	leaf, err := id.DeriveIdentity(ethereum.RawPubKey(&signer.PublicKey), bound)
	c.Assert(err, qt.IsNil)
	return &Voter{
		Signer:           signer,
		ExternalIdentity: fmt.Sprintf("voter%d", n),
		PublicKey:        signer.CompressedPublicKey().Hex(),
		Nullifier:        nullifier,
		Leaf:             leaf,
		Vote:             vote,
	}
}

// Sign signs data with the voter key.
func (v *Voter) Sign(c *qt.C, data []byte) types.HexBytes {
	sig, err := v.Signer.Sign(data)
	c.Assert(err, qt.IsNil)
	return sig.Bytes()
}

// Inputs builds the prover inputs of the voter against history.
func (v *Voter) Inputs(history []types.HexBytes) *circuit.Inputs {
	return &circuit.Inputs{
		RootHistory: history,
		Snapshot:    v.Snapshot,
		LeafIndex:   v.LeafIndex,
		Nullifier:   v.Nullifier,
		PublicKey:   v.PublicKey,
		Vote:        v.Vote,
	}
}

// FillTree inserts the given number of filler leaves and then the leaves of
// voters, recording each voter snapshot. It returns the root history.
func FillTree(c *qt.C, h hash.Hasher, depth, fillers int, voters ...*Voter) []types.HexBytes {
	t, err := tree.New(h, depth)
	c.Assert(err, qt.IsNil)
	history := tree.NewRootHistory(0)
	for i := 0; i < fillers; i++ {
		t.InsertLeaf(h.Hash([]byte(fmt.Sprintf("filler-%d", i))))
		history.Push(t.Root())
	}
	for _, v := range voters {
		v.Snapshot = t.Snapshot()
		v.LeafIndex = t.Index()
		t.InsertLeaf(v.Leaf)
		history.Push(t.Root())
	}
	return history.Roots()
}
