package client

import (
	"fmt"

	"github.com/vocdoni/cypherpoll/api"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/storage"
	"github.com/vocdoni/cypherpoll/tree"
)

// checkRegistration recomputes the root of the voter leaf in the returned
// snapshot and checks it is the root the node reported.
func checkRegistration(hasher hash.Hasher, voter *storage.Voter, reg *api.RegisterResponse) error {
	if reg.Snapshot == nil {
		return fmt.Errorf("node returned no snapshot")
	}
	if reg.Snapshot.Index != reg.LeafIndex {
		return fmt.Errorf("snapshot index %d differs from leaf index %d", reg.Snapshot.Index, reg.LeafIndex)
	}
	t, err := tree.RestoreWith(reg.Snapshot, hasher)
	if err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	root, err := t.RootForLeafAt(voter.Leaf, reg.LeafIndex)
	if err != nil {
		return err
	}
	if !reg.Root.Equal(root) {
		return fmt.Errorf("snapshot root %x differs from registered root %s", root, reg.Root)
	}
	return nil
}
