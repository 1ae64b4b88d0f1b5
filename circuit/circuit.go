// Package circuit defines the contract between voters, proof backends and
// the node: the private inputs a prover consumes, the public journal a proof
// commits to, and the ProofSystem interface every backend implements.
package circuit

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/cypherpoll/tree"
	"github.com/vocdoni/cypherpoll/types"
)

var (
	// ErrRootNotInHistory aborts proving: the recomputed root is not one of
	// the roots the prover claims, so no valid proof exists.
	ErrRootNotInHistory = errors.New("recomputed root not in root history")
	// ErrInvalidProof wraps every verification failure.
	ErrInvalidProof = errors.New("invalid proof")
	// ErrCircuitMismatch is returned when a proof targets another circuit.
	ErrCircuitMismatch = errors.New("circuit identifier mismatch")
	// ErrInvalidInputs is returned for inputs that cannot form a witness.
	ErrInvalidInputs = errors.New("invalid circuit inputs")
)

// Params are the protocol settings shared by voters and the node.
type Params struct {
	// BindVote includes the vote in the leaf, fixing it at registration.
	BindVote bool `json:"bindVote" cbor:"bindVote"`
}

// Inputs are the private prover inputs.
type Inputs struct {
	RootHistory []types.HexBytes `json:"rootHistory" cbor:"rootHistory"`
	Snapshot    *tree.Snapshot   `json:"snapshot" cbor:"snapshot"`
	// LeafIndex is the position of the voter leaf. For the snapshot returned
	// at registration it equals Snapshot.Index.
	LeafIndex uint64         `json:"leafIndex" cbor:"leafIndex"`
	Nullifier types.HexBytes `json:"nullifier" cbor:"nullifier"`
	// PublicKey is the hex encoded secp256k1 key, compressed or not.
	PublicKey string `json:"publicKey" cbor:"publicKey"`
	Vote      string `json:"vote" cbor:"vote"`
}

// Journal is the public output of a proof, the only facts a verifier trusts.
type Journal struct {
	Nullifier   types.HexBytes   `json:"nullifier" cbor:"nullifier"`
	RootHistory []types.HexBytes `json:"rootHistory" cbor:"rootHistory"`
	Vote        string           `json:"vote" cbor:"vote"`
}

// Proof is the opaque artifact a voter submits.
type Proof struct {
	CircuitID string         `json:"circuitId" cbor:"circuitId"`
	Seal      types.HexBytes `json:"seal" cbor:"seal"`
	Journal   types.HexBytes `json:"journal" cbor:"journal"`
}

// ProofSystem proves and verifies the membership statement. Both operations
// may take from seconds to minutes and must honour ctx.
type ProofSystem interface {
	// CircuitID identifies the circuit and its keys. Proofs for any other ID
	// are rejected.
	CircuitID() string
	// Prove runs the prover and returns a proof over the journal.
	Prove(ctx context.Context, inputs *Inputs) (*Proof, error)
	// Verify checks the proof and returns its decoded journal. Errors wrap
	// ErrInvalidProof.
	Verify(ctx context.Context, proof *Proof) (*Journal, error)
}

var journalEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeJournal returns the deterministic CBOR encoding of j.
func EncodeJournal(j *Journal) ([]byte, error) {
	data, err := journalEncMode.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode journal: %w", err)
	}
	return data, nil
}

// DecodeJournal parses a journal encoded with EncodeJournal.
func DecodeJournal(data []byte) (*Journal, error) {
	j := &Journal{}
	if err := cbor.Unmarshal(data, j); err != nil {
		return nil, fmt.Errorf("decode journal: %w", err)
	}
	return j, nil
}

// CheckCircuit returns an ErrInvalidProof error if proof is nil or targets
// another circuit than id.
func CheckCircuit(id string, proof *Proof) error {
	if proof == nil {
		return fmt.Errorf("%w: empty proof", ErrInvalidProof)
	}
	if proof.CircuitID != id {
		return fmt.Errorf("%w: %w: got %q, expected %q", ErrInvalidProof, ErrCircuitMismatch, proof.CircuitID, id)
	}
	return nil
}
