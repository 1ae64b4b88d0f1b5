package circuit

import (
	"fmt"

	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/identity"
	"github.com/vocdoni/cypherpoll/tree"
	"github.com/vocdoni/cypherpoll/types"
)

// ProverLogic is the statement every backend proves, evaluated natively:
//
//  1. the public key is a valid secp256k1 point
//  2. leaf = Leaf(nullifier, key, vote if bound)
//  3. root = root of leaf at LeafIndex in the snapshot
//  4. root is one of RootHistory
//
// It returns the journal, or an error when no proof can exist for inputs.
func ProverLogic(hasher hash.Hasher, params Params, inputs *Inputs) (*Journal, error) {
	if inputs == nil || inputs.Snapshot == nil {
		return nil, fmt.Errorf("%w: missing snapshot", ErrInvalidInputs)
	}
	if len(inputs.Nullifier) == 0 {
		return nil, fmt.Errorf("%w: missing nullifier", ErrInvalidInputs)
	}
	pubKey, err := identity.ParsePublicKey(inputs.PublicKey)
	if err != nil {
		return nil, err
	}
	var vote *string
	if params.BindVote {
		vote = &inputs.Vote
	}
	leaf := identity.Leaf(hasher, inputs.Nullifier, pubKey, vote)

	t, err := tree.RestoreWith(inputs.Snapshot, hasher)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInputs, err)
	}
	root, err := t.RootForLeafAt(leaf, inputs.LeafIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInputs, err)
	}
	if !contains(inputs.RootHistory, root) {
		return nil, fmt.Errorf("%w: %x", ErrRootNotInHistory, root)
	}
	return &Journal{
		Nullifier:   inputs.Nullifier.Clone(),
		RootHistory: types.CloneSlice(inputs.RootHistory),
		Vote:        inputs.Vote,
	}, nil
}

func contains(roots []types.HexBytes, root []byte) bool {
	for _, r := range roots {
		if r.Equal(root) {
			return true
		}
	}
	return false
}

