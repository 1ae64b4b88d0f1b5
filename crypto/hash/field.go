package hash

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/vocdoni/cypherpoll/crypto/hash/poseidon"
)

// FieldSize is the byte length of a BN254 scalar field element.
const FieldSize = fr.Bytes

// PoseidonHasher hashes over the BN254 scalar field with iden3 Poseidon.
type PoseidonHasher struct{}

func (PoseidonHasher) Name() string { return Poseidon }

func (PoseidonHasher) Hash(data []byte) []byte {
	h, err := poseidon.HashBytes(data)
	if err != nil {
		// only reachable with inputs outside the field, which HashBytes never builds
		panic(err)
	}
	return fieldBytes(h)
}

func (PoseidonHasher) HashPair(left, right []byte) []byte {
	h, err := poseidon.HashPair(left, right)
	if err != nil {
		panic(err)
	}
	return fieldBytes(h)
}

// MiMCHasher is the BN254 MiMC sponge from gnark-crypto. Input is absorbed in
// 32-byte big-endian blocks reduced modulo r; a trailing partial block is
// left-padded with zeros. The membership circuit computes the same function.
type MiMCHasher struct{}

func (MiMCHasher) Name() string { return MiMC }

func (MiMCHasher) Hash(data []byte) []byte {
	return mimcSum(FieldBlocks(data)...)
}

func (MiMCHasher) HashPair(left, right []byte) []byte {
	return mimcSum(ToElement(left), ToElement(right))
}

// FieldBlocks splits data into 32-byte blocks and reduces each one into the
// scalar field.
func FieldBlocks(data []byte) []fr.Element {
	blocks := make([]fr.Element, 0, (len(data)+FieldSize-1)/FieldSize)
	for i := 0; i < len(data); i += FieldSize {
		end := min(i+FieldSize, len(data))
		blocks = append(blocks, ToElement(data[i:end]))
	}
	return blocks
}

// ToElement interprets b as a big-endian integer reduced modulo r.
func ToElement(b []byte) fr.Element {
	var e fr.Element
	e.SetBigInt(new(big.Int).SetBytes(b))
	return e
}

// IsCanonical reports whether b is exactly the 32-byte encoding of a field
// element, meaning it is not an alias of a smaller value.
func IsCanonical(b []byte) bool {
	if len(b) != FieldSize {
		return false
	}
	return new(big.Int).SetBytes(b).Cmp(fr.Modulus()) < 0
}

func mimcSum(elements ...fr.Element) []byte {
	h := mimc.NewMiMC()
	for _, e := range elements {
		b := e.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			// canonical encodings are always accepted
			panic(err)
		}
	}
	return h.Sum(nil)
}

func fieldBytes(v *big.Int) []byte {
	out := make([]byte, FieldSize)
	return v.FillBytes(out)
}
