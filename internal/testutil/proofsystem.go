package testutil

import (
	"context"
	"fmt"

	"github.com/vocdoni/cypherpoll/circuit"
)

// PassthroughCircuitID is the circuit ID of Passthrough.
const PassthroughCircuitID = "passthrough"

// Passthrough is a proof system without cryptography: Prove copies the
// inputs into the journal and Verify accepts any proof whose seal is not
// "invalid". Tests use it to submit arbitrary journals.
type Passthrough struct{}

var _ circuit.ProofSystem = Passthrough{}

func (Passthrough) CircuitID() string { return PassthroughCircuitID }

func (Passthrough) Prove(_ context.Context, inputs *circuit.Inputs) (*circuit.Proof, error) {
	return JournalProof(&circuit.Journal{
		Nullifier:   inputs.Nullifier,
		RootHistory: inputs.RootHistory,
		Vote:        inputs.Vote,
	}), nil
}

func (Passthrough) Verify(_ context.Context, proof *circuit.Proof) (*circuit.Journal, error) {
	if err := circuit.CheckCircuit(PassthroughCircuitID, proof); err != nil {
		return nil, err
	}
	if string(proof.Seal) == "invalid" {
		return nil, fmt.Errorf("%w: rejected seal", circuit.ErrInvalidProof)
	}
	j, err := circuit.DecodeJournal(proof.Journal)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", circuit.ErrInvalidProof, err)
	}
	return j, nil
}

// JournalProof wraps j in a passthrough proof.
func JournalProof(j *circuit.Journal) *circuit.Proof {
	data, err := circuit.EncodeJournal(j)
	if err != nil {
		panic(err)
	}
	return &circuit.Proof{CircuitID: PassthroughCircuitID, Seal: []byte("ok"), Journal: data}
}

// InvalidProof is a passthrough proof that fails verification.
func InvalidProof(j *circuit.Journal) *circuit.Proof {
	p := JournalProof(j)
	p.Seal = []byte("invalid")
	return p
}
