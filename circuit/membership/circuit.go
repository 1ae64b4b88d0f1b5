// Package membership is the Groth16 backend of the voting circuit, over
// BN254 with MiMC as the tree and leaf hash. It proves, without revealing the
// leaf or its position, that
//
//	leaf = MiMC(nullifier, pk[0:32], pk[32:64], vote)
//	root(leaf, path) ∈ Roots
//
// The vote is always part of the leaf: a vote that is only a public input
// would be unconstrained and could be swapped by whoever relays the proof.
package membership

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// Circuit is the gnark membership circuit. Siblings, PathBits and Roots are
// sized with NewPlaceholder; every witness must use the same sizes.
type Circuit struct {
	Nullifier frontend.Variable   `gnark:",public"`
	Vote      frontend.Variable   `gnark:",public"`
	Roots     []frontend.Variable `gnark:",public"`

	PublicKey [2]frontend.Variable
	Siblings  []frontend.Variable
	// PathBits[i] is 1 when the path node at level i is a right child.
	PathBits []frontend.Variable
}

// NewPlaceholder returns an unassigned circuit for a tree of depth levels
// and slots candidate roots.
func NewPlaceholder(depth, slots int) *Circuit {
	return &Circuit{
		Roots:    make([]frontend.Variable, slots),
		Siblings: make([]frontend.Variable, depth),
		PathBits: make([]frontend.Variable, depth),
	}
}

func (c *Circuit) Define(api frontend.API) error {
	if len(c.Siblings) != len(c.PathBits) {
		return fmt.Errorf("siblings and path bits differ in length")
	}
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Nullifier, c.PublicKey[0], c.PublicKey[1], c.Vote)
	node := h.Sum()

	for i := range c.Siblings {
		api.AssertIsBoolean(c.PathBits[i])
		left := api.Select(c.PathBits[i], c.Siblings[i], node)
		right := api.Select(c.PathBits[i], node, c.Siblings[i])
		h.Reset()
		h.Write(left, right)
		node = h.Sum()
	}

	// the recomputed root must equal one of the public roots
	product := frontend.Variable(1)
	for _, root := range c.Roots {
		product = api.Mul(product, api.Sub(node, root))
	}
	api.AssertIsEqual(product, 0)
	return nil
}
