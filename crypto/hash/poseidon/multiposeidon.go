// Package poseidon provides helpers around the iden3 Poseidon hash over the
// BN254 scalar field: hashing arbitrary byte strings and pairs of nodes.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// chunkSize keeps every chunk strictly below the field modulus.
const chunkSize = 31

// MultiPoseidon computes the Poseidon hash of a variable number of big.Int
// inputs. Inputs are hashed in chunks of 16 and the chunk hashes are hashed
// again, recursively, until a single value remains.
func MultiPoseidon(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	if len(inputs) <= 16 {
		return poseidon.Hash(inputs)
	}
	hashes := make([]*big.Int, 0, (len(inputs)+15)/16)
	for i := 0; i < len(inputs); i += 16 {
		end := min(i+16, len(inputs))
		hash, err := poseidon.Hash(inputs[i:end])
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	if len(hashes) == 1 {
		return hashes[0], nil
	}
	return MultiPoseidon(hashes...)
}

// HashBytes hashes data by prefixing its length and splitting it into
// 31-byte big-endian chunks.
func HashBytes(data []byte) (*big.Int, error) {
	inputs := []*big.Int{big.NewInt(int64(len(data)))}
	for i := 0; i < len(data); i += chunkSize {
		end := min(i+chunkSize, len(data))
		inputs = append(inputs, new(big.Int).SetBytes(data[i:end]))
	}
	return MultiPoseidon(inputs...)
}

// HashPair hashes two values after reducing them into the field.
func HashPair(left, right []byte) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{ToField(left), ToField(right)})
}

// ToField interprets b as a big-endian integer reduced modulo the BN254
// scalar field.
func ToField(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	return v.Mod(v, constants.Q)
}
