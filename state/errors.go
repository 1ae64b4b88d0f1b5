package state

import (
	"errors"

	"github.com/vocdoni/cypherpoll/keyauth"
)

var (
	// ErrMalformedRequest is returned for requests missing required fields.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrKeyAuthority is returned when the key authority cannot be queried.
	ErrKeyAuthority = errors.New("key authority unavailable")
	// ErrUnauthorizedKey is returned when the key is not listed for the identity.
	ErrUnauthorizedKey = errors.New("public key not authorized for identity")
	// ErrInvalidSignature is returned when the challenge signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidChallenge is returned for unknown, expired or reused challenges.
	ErrInvalidChallenge = errors.New("invalid or expired challenge")
	// ErrDuplicateIdentitySource is returned when the identity already registered.
	ErrDuplicateIdentitySource = errors.New("identity already registered")
	// ErrCapacityExhausted is returned when the tree has no free leaves left.
	ErrCapacityExhausted = errors.New("registration tree is full")

	// ErrInvalidProof is returned when the vote proof does not verify.
	ErrInvalidProof = errors.New("invalid proof")
	// ErrInvalidVote is returned for empty votes or votes outside the options.
	ErrInvalidVote = errors.New("invalid vote")
	// ErrDuplicateNullifier is returned when the nullifier already voted.
	ErrDuplicateNullifier = errors.New("nullifier already used")
	// ErrUnrecognizedRoot is returned when a journal root is not in the history.
	ErrUnrecognizedRoot = errors.New("unrecognized root")
)

func isNotFound(err error) bool {
	return errors.Is(err, keyauth.ErrIdentityNotFound)
}
