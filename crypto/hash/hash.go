// Package hash defines the 2-to-1 compression function used by the voting
// tree and the identity commitments, along with the implementations a node
// can be configured with.
package hash

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	SHA256    = "sha256"
	Keccak256 = "keccak256"
	Poseidon  = "poseidon"
	MiMC      = "mimc"

	// Default is the hasher used when none is configured.
	Default = SHA256
)

// ErrUnknownHasher is returned by FromName for unregistered names.
var ErrUnknownHasher = errors.New("unknown hasher")

// Hasher hashes byte strings and combines two tree nodes into their parent.
// Implementations must be deterministic and safe for concurrent use.
type Hasher interface {
	// Name identifies the hasher in snapshots and node info.
	Name() string
	// Hash returns the digest of data.
	Hash(data []byte) []byte
	// HashPair returns the parent node of left and right.
	HashPair(left, right []byte) []byte
}

var registry = map[string]func() Hasher{
	SHA256:    func() Hasher { return SHA256Hasher{} },
	Keccak256: func() Hasher { return Keccak256Hasher{} },
	Poseidon:  func() Hasher { return PoseidonHasher{} },
	MiMC:      func() Hasher { return MiMCHasher{} },
}

// FromName returns the hasher registered under name.
func FromName(name string) (Hasher, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHasher, name)
	}
	return fn(), nil
}

// Names lists the registered hashers, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SHA256Hasher is plain sha256; HashPair hashes the concatenation.
type SHA256Hasher struct{}

func (SHA256Hasher) Name() string { return SHA256 }

func (SHA256Hasher) Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func (SHA256Hasher) HashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// Keccak256Hasher is the Ethereum keccak256.
type Keccak256Hasher struct{}

func (Keccak256Hasher) Name() string { return Keccak256 }

func (Keccak256Hasher) Hash(data []byte) []byte {
	return ethcrypto.Keccak256(data)
}

func (Keccak256Hasher) HashPair(left, right []byte) []byte {
	return ethcrypto.Keccak256(left, right)
}
