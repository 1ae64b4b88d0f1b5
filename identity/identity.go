// Package identity derives the secret nullifier and the public leaf that a
// voter registers in the tree.
//
//	nullifier = H(seed)
//	leaf      = H(nullifier ‖ X ‖ Y [‖ vote])
//
// The vote is part of the leaf only when the poll binds votes at
// registration. In that mode the choice is fixed the moment the leaf is
// inserted, and a later proof can only carry that same vote.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/crypto/signatures/ethereum"
	"github.com/vocdoni/cypherpoll/types"
)

// SeedSize is the length of the random seed of a nullifier.
const SeedSize = 32

var (
	ErrAlreadyGenerated   = errors.New("nullifier already generated")
	ErrNullifierMissing   = errors.New("nullifier not generated")
	ErrAlreadyDerived     = errors.New("identity already derived")
	ErrMalformedPublicKey = errors.New("malformed public key")
)

// UniqueIdentity holds the secret and public halves of one registration. A
// handle generates its nullifier once and derives its leaf once.
type UniqueIdentity struct {
	hasher    hash.Hasher
	nullifier types.HexBytes
	leaf      types.HexBytes
}

// New returns an empty identity handle.
func New(hasher hash.Hasher) *UniqueIdentity {
	return &UniqueIdentity{hasher: hasher}
}

// FromNullifier returns a handle for a nullifier generated earlier, for
// instance one loaded from the client store.
func FromNullifier(hasher hash.Hasher, nullifier []byte) *UniqueIdentity {
	return &UniqueIdentity{hasher: hasher, nullifier: types.HexBytes(nullifier).Clone()}
}

// GenerateNullifier hashes seed into the nullifier of this handle.
func (u *UniqueIdentity) GenerateNullifier(seed []byte) (types.HexBytes, error) {
	if u.nullifier != nil {
		return nil, ErrAlreadyGenerated
	}
	u.nullifier = u.hasher.Hash(seed)
	return u.nullifier.Clone(), nil
}

// DeriveIdentity computes the leaf from the nullifier, the 64 byte public
// key and, if bound, the vote.
func (u *UniqueIdentity) DeriveIdentity(publicKey []byte, vote *string) (types.HexBytes, error) {
	if u.nullifier == nil {
		return nil, ErrNullifierMissing
	}
	if u.leaf != nil {
		return nil, ErrAlreadyDerived
	}
	u.leaf = Leaf(u.hasher, u.nullifier, publicKey, vote)
	return u.leaf.Clone(), nil
}

// Nullifier returns the nullifier, or nil if not generated yet.
func (u *UniqueIdentity) Nullifier() types.HexBytes {
	return u.nullifier.Clone()
}

// Identity returns the leaf, or nil if not derived yet.
func (u *UniqueIdentity) Identity() types.HexBytes {
	return u.leaf.Clone()
}

// Leaf is the stateless leaf derivation.
func Leaf(hasher hash.Hasher, nullifier, publicKey []byte, vote *string) types.HexBytes {
	data := make([]byte, 0, len(nullifier)+len(publicKey)+32)
	data = append(data, nullifier...)
	data = append(data, publicKey...)
	if vote != nil {
		data = append(data, []byte(*vote)...)
	}
	return hasher.Hash(data)
}

// RandomSeed returns SeedSize bytes from crypto/rand.
func RandomSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("could not read random seed: %w", err)
	}
	return seed, nil
}

// ParsePublicKey decodes a hex secp256k1 public key, compressed or not, with
// or without 0x prefix, and returns its 64 byte X ‖ Y form.
func ParsePublicKey(key string) (types.HexBytes, error) {
	raw, err := types.HexStringToHexBytes(strings.TrimSpace(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
	}
	pub, err := ethereum.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
	}
	return ethereum.RawPubKey(pub), nil
}

// KeyAuthorized reports whether submitted matches any of the listed key
// blocks once both sides are normalized. Listed entries that do not parse
// are skipped.
func KeyAuthorized(submitted string, listed []string) bool {
	want, err := ParsePublicKey(submitted)
	if err != nil {
		return false
	}
	for _, block := range listed {
		block = strings.ReplaceAll(block, "\r\n", "")
		block = strings.ReplaceAll(block, "\n", "")
		key, err := ParsePublicKey(block)
		if err != nil {
			continue
		}
		if key.Equal(want) {
			return true
		}
	}
	return false
}
