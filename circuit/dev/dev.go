// Package dev is a development proof backend. It evaluates the prover logic
// natively and seals the journal with an ECDSA signature of a trusted dev
// prover key, so a node accepts exactly the journals that key vouches for.
// It provides no zero-knowledge: the prover sees the private inputs.
package dev

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/cypherpoll/circuit"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/crypto/signatures/ethereum"
)

// System implements circuit.ProofSystem.
type System struct {
	hasher  hash.Hasher
	params  circuit.Params
	signer  *ethereum.Signer
	address common.Address
}

var _ circuit.ProofSystem = (*System)(nil)

// New returns a system that can both prove and verify.
func New(hasher hash.Hasher, params circuit.Params, signer *ethereum.Signer) *System {
	return &System{
		hasher:  hasher,
		params:  params,
		signer:  signer,
		address: signer.Address(),
	}
}

// NewVerifier returns a system that only verifies seals from address.
func NewVerifier(hasher hash.Hasher, params circuit.Params, address common.Address) *System {
	return &System{hasher: hasher, params: params, address: address}
}

// CircuitID includes every setting a journal depends on.
func (s *System) CircuitID() string {
	return fmt.Sprintf("dev/%s/bind=%t/%s", s.hasher.Name(), s.params.BindVote, strings.ToLower(s.address.Hex()))
}

// Prove runs circuit.ProverLogic and signs the resulting journal.
func (s *System) Prove(ctx context.Context, inputs *circuit.Inputs) (*circuit.Proof, error) {
	if s.signer == nil {
		return nil, fmt.Errorf("dev prover has no signing key")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	journal, err := circuit.ProverLogic(s.hasher, s.params, inputs)
	if err != nil {
		return nil, err
	}
	data, err := circuit.EncodeJournal(journal)
	if err != nil {
		return nil, err
	}
	sig, err := s.signer.Sign(s.sealMessage(data))
	if err != nil {
		return nil, fmt.Errorf("seal journal: %w", err)
	}
	return &circuit.Proof{
		CircuitID: s.CircuitID(),
		Seal:      sig.Bytes(),
		Journal:   data,
	}, nil
}

// Verify checks the seal was produced by the dev prover key over this
// circuit and journal.
func (s *System) Verify(ctx context.Context, proof *circuit.Proof) (*circuit.Journal, error) {
	if err := circuit.CheckCircuit(s.CircuitID(), proof); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := ethereum.New(proof.Seal)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", circuit.ErrInvalidProof, err)
	}
	if ok, _ := sig.Verify(s.sealMessage(proof.Journal), s.address); !ok {
		return nil, fmt.Errorf("%w: seal not signed by %s", circuit.ErrInvalidProof, s.address.Hex())
	}
	journal, err := circuit.DecodeJournal(proof.Journal)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", circuit.ErrInvalidProof, err)
	}
	return journal, nil
}

func (s *System) sealMessage(journal []byte) []byte {
	return ethereum.HashRaw([]byte(s.CircuitID()), journal)
}
