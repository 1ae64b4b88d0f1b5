// Package ethereum provides cryptographic operations for Ethereum ECDSA signatures.
// Registrants prove possession of their secp256k1 key by signing the
// registration challenge with it, and the dev proof backend seals journals
// with a signer from this package.
package ethereum

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/cypherpoll/types"
)

const (
	// SignatureLength is the size of an ECDSA signature in bytes
	SignatureLength = ethcrypto.SignatureLength
	// SignatureMinLength is the size of a signature without recovery byte
	SignatureMinLength = SignatureLength - 1
	// CompressedPubKeyLength is the size of a compressed public key
	CompressedPubKeyLength = 33
	// UncompressedPubKeyLength is the size of a 0x04 prefixed public key
	UncompressedPubKeyLength = 65
	// RawPubKeyLength is the size of the X ‖ Y coordinates of a public key
	RawPubKeyLength = 64
	// SigningPrefix is the prefix added when hashing Ethereum messages
	SigningPrefix = "\u0019Ethereum Signed Message:\n"
	// HashLength is the size of a keccak256 hash
	HashLength = 32
)

// ErrInvalidPublicKey is returned when a byte string is not a secp256k1 point.
var ErrInvalidPublicKey = errors.New("invalid secp256k1 public key")

// ECDSASignature represents an Ethereum ECDSA signature with R and S components.
// The components are stored as big.Int values within the secp256k1 curve field.
type ECDSASignature struct {
	R        *big.Int `json:"r"`
	S        *big.Int `json:"s"`
	recovery byte
}

// New creates a new ECDSASignature from a raw 64 or 65 byte payload.
func New(signature []byte) (*ECDSASignature, error) {
	if len(signature) < SignatureMinLength {
		return nil, fmt.Errorf("signature length is less than %d", SignatureMinLength)
	}
	sig := new(ECDSASignature).SetBytes(signature)
	if sig == nil {
		return nil, fmt.Errorf("wrong signature bytes")
	}
	return sig, nil
}

// HexToSignature decodes the provided hex string and parses it with New.
func HexToSignature(hexSignature string) (*ECDSASignature, error) {
	bSignature, err := types.HexStringToHexBytes(hexSignature)
	if err != nil {
		return nil, err
	}
	return New(bSignature)
}

// Valid method checks if the ECDSASignature is valid. A signature is valid if
// both R and S values are not nil.
func (sig *ECDSASignature) Valid() bool {
	return sig.R != nil && sig.S != nil
}

// Bytes returns the 65 byte R ‖ S ‖ V encoding, with V in the 0-3 range
// expected by ethcrypto.SigToPub.
func (sig *ECDSASignature) Bytes() []byte {
	out := make([]byte, SignatureLength)
	sig.R.FillBytes(out[:32])
	sig.S.FillBytes(out[32:64])
	out[64] = sig.recovery
	return out
}

// SetBytes sets the ECDSASignature from a byte slice. The byte slice should be
// at least 64 bytes long, where the first 64 bytes are the R and S values. A
// 65th recovery byte may use the 27/28 Ethereum convention. It returns nil if
// the recovery byte is out of range.
func (sig *ECDSASignature) SetBytes(signature []byte) *ECDSASignature {
	if len(signature) < SignatureMinLength {
		return nil
	}
	sig.R = new(big.Int).SetBytes(signature[:32])
	sig.S = new(big.Int).SetBytes(signature[32:64])
	sig.recovery = 0
	if len(signature) == SignatureLength {
		v := signature[64]
		if v >= 27 {
			v -= 27
		}
		if v > 3 {
			return nil
		}
		sig.recovery = v
	}
	return sig
}

// Verify checks that sig is a valid signature of message produced by
// expectedAddress, by recovering the public key and comparing its derived
// address. It returns the recovered uncompressed public key.
func (sig *ECDSASignature) Verify(message []byte, expectedAddress common.Address) (bool, []byte) {
	if !sig.Valid() {
		return false, nil
	}
	pubKey, err := ethcrypto.SigToPub(HashMessage(message), sig.Bytes())
	if err != nil {
		return false, nil
	}
	return bytes.Equal(ethcrypto.PubkeyToAddress(*pubKey).Bytes(), expectedAddress.Bytes()), ethcrypto.FromECDSAPub(pubKey)
}

// VerifyPubKey checks sig against a known public key. The recovery byte is
// not trusted: R ‖ S is checked directly against the key.
func (sig *ECDSASignature) VerifyPubKey(message []byte, pubKey *ecdsa.PublicKey) bool {
	if !sig.Valid() || pubKey == nil {
		return false
	}
	return ethcrypto.VerifySignature(ethcrypto.FromECDSAPub(pubKey), HashMessage(message), sig.Bytes()[:64])
}

// String returns a string representation of the ECDSASignature.
func (sig *ECDSASignature) String() string {
	return fmt.Sprintf("R: %s, S: %s, Recovery: %d", sig.R.String(), sig.S.String(), sig.recovery)
}

// AddrFromSignature recovers the Ethereum address that created the signature of a message.
func AddrFromSignature(message []byte, signature *ECDSASignature) (common.Address, error) {
	if signature == nil || !signature.Valid() {
		return common.Address{}, fmt.Errorf("signature is nil")
	}
	pubKey, err := ethcrypto.SigToPub(HashMessage(message), signature.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("sigToPub %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pubKey), nil
}

// ParsePubKey accepts a compressed (33 bytes), uncompressed (65 bytes) or raw
// X ‖ Y (64 bytes) secp256k1 public key.
func ParsePubKey(key []byte) (*ecdsa.PublicKey, error) {
	var (
		pub *ecdsa.PublicKey
		err error
	)
	switch len(key) {
	case CompressedPubKeyLength:
		pub, err = ethcrypto.DecompressPubkey(key)
	case UncompressedPubKeyLength:
		pub, err = ethcrypto.UnmarshalPubkey(key)
	case RawPubKeyLength:
		pub, err = ethcrypto.UnmarshalPubkey(append([]byte{0x04}, key...))
	default:
		return nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidPublicKey, len(key))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// RawPubKey returns the 64 byte X ‖ Y encoding of pub.
func RawPubKey(pub *ecdsa.PublicKey) []byte {
	return ethcrypto.FromECDSAPub(pub)[1:]
}

// Verifier checks registration signatures made with Ethereum keys.
type Verifier struct{}

// Verify reports whether signature is a valid Ethereum signed message of
// data by publicKey, given in any encoding accepted by ParsePubKey.
func (Verifier) Verify(publicKey, data, signature []byte) bool {
	pub, err := ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := New(signature)
	if err != nil {
		return false
	}
	return sig.VerifyPubKey(data, pub)
}
