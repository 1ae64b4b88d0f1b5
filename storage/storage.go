/*
Package storage persists the client side artifacts of a voter in a pebble
key-value store.

# Storage Organization

Keys are namespaced by prefix, followed by the external identity:

  - v/ : identity → Voter (nullifier, snapshot, roots, receipt), CBOR encoded
  - k/ : identity → signing key of the identity
*/
package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/vocdoni/cypherpoll/tree"
	"github.com/vocdoni/cypherpoll/types"
)

var (
	voterPrefix = []byte("v/")
	keyPrefix   = []byte("k/")
)

// Receipt records an accepted vote.
type Receipt struct {
	ID     string    `json:"voteId" cbor:"1,keyasint"`
	Vote   string    `json:"vote" cbor:"2,keyasint"`
	CastAt time.Time `json:"castAt" cbor:"3,keyasint"`
}

// Voter holds everything a voter needs to prove membership later. The
// nullifier is secret.
type Voter struct {
	ExternalIdentity string           `json:"externalIdentity" cbor:"1,keyasint"`
	ServerURL        string           `json:"serverUrl" cbor:"2,keyasint"`
	PublicKey        string           `json:"publicKey" cbor:"3,keyasint"`
	Nullifier        types.HexBytes   `json:"nullifier" cbor:"4,keyasint"`
	Vote             string           `json:"vote,omitempty" cbor:"5,keyasint,omitempty"`
	Leaf             types.HexBytes   `json:"leaf" cbor:"6,keyasint"`
	Snapshot         *tree.Snapshot   `json:"snapshot,omitempty" cbor:"7,keyasint,omitempty"`
	LeafIndex        uint64           `json:"leafIndex" cbor:"8,keyasint"`
	RootHistory      []types.HexBytes `json:"rootHistory,omitempty" cbor:"9,keyasint,omitempty"`
	RegisteredAt     time.Time        `json:"registeredAt" cbor:"10,keyasint"`
	Receipt          *Receipt         `json:"receipt,omitempty" cbor:"11,keyasint,omitempty"`
}

// Registered reports whether the voter holds a registration snapshot.
func (v *Voter) Registered() bool {
	return v.Snapshot != nil
}

// Store is the voter artifact store.
type Store struct {
	db *db
	// serializes read-modify-write updates
	mu sync.Mutex
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	d, err := openDB(dir, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: d}, nil
}

// OpenInMemory returns a store that lives in memory, for tests and
// ephemeral runs.
func OpenInMemory() (*Store, error) {
	d, err := openDB("", vfs.NewMem())
	if err != nil {
		return nil, err
	}
	return &Store{db: d}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.close()
}

func voterKey(identity string) []byte {
	return append(append([]byte{}, voterPrefix...), identity...)
}

func signingKey(identity string) []byte {
	return append(append([]byte{}, keyPrefix...), identity...)
}

// SaveVoter stores v under its external identity, replacing any previous
// record.
func (s *Store) SaveVoter(v *Voter) error {
	if v == nil || v.ExternalIdentity == "" {
		return fmt.Errorf("voter without external identity")
	}
	data, err := EncodeArtifact(v)
	if err != nil {
		return fmt.Errorf("encode voter: %w", err)
	}
	return s.db.set(voterKey(v.ExternalIdentity), data)
}

// Voter returns the record of identity or ErrNotFound.
func (s *Store) Voter(identity string) (*Voter, error) {
	data, err := s.db.get(voterKey(identity))
	if err != nil {
		return nil, err
	}
	v := &Voter{}
	if err := DecodeArtifact(data, v); err != nil {
		return nil, fmt.Errorf("decode voter %s: %w", identity, err)
	}
	return v, nil
}

// UpdateVoter applies fn to the stored record of identity and saves it.
func (s *Store) UpdateVoter(identity string, fn func(*Voter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.Voter(identity)
	if err != nil {
		return err
	}
	if err := fn(v); err != nil {
		return err
	}
	v.ExternalIdentity = identity
	return s.SaveVoter(v)
}

// Voters returns every stored record, ordered by identity.
func (s *Store) Voters() ([]*Voter, error) {
	var (
		voters []*Voter
		derr   error
	)
	err := s.db.iterate(voterPrefix, func(k, v []byte) bool {
		voter := &Voter{}
		if derr = DecodeArtifact(v, voter); derr != nil {
			derr = fmt.Errorf("decode voter %s: %w", k, derr)
			return false
		}
		voters = append(voters, voter)
		return true
	})
	if err != nil {
		return nil, err
	}
	return voters, derr
}

// DeleteVoter removes the record and signing key of identity.
func (s *Store) DeleteVoter(identity string) error {
	if err := s.db.delete(voterKey(identity)); err != nil {
		return err
	}
	return s.db.delete(signingKey(identity))
}

// SaveKey stores the signing key of identity.
func (s *Store) SaveKey(identity string, key types.HexBytes) error {
	return s.db.set(signingKey(identity), key)
}

// Key returns the signing key of identity or ErrNotFound.
func (s *Store) Key(identity string) (types.HexBytes, error) {
	return s.db.get(signingKey(identity))
}
