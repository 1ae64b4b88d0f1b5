package membership

import (
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/identity"
	"github.com/vocdoni/cypherpoll/internal/testutil"
	"github.com/vocdoni/cypherpoll/tree"
	"github.com/vocdoni/cypherpoll/types"
)

func hexPubKey(key string) (types.HexBytes, error) {
	return identity.ParsePublicKey(key)
}

func restore(c *qt.C, v *testutil.Voter) *tree.Tree {
	t, err := tree.RestoreWith(v.Snapshot, hash.MiMCHasher{})
	c.Assert(err, qt.IsNil)
	return t
}
