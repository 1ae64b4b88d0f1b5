package api

import (
	"github.com/vocdoni/cypherpoll/circuit"
	"github.com/vocdoni/cypherpoll/state"
	"github.com/vocdoni/cypherpoll/types"
)

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Data             types.HexBytes `json:"data"`
	Signature        types.HexBytes `json:"signature"`
	PublicKey        string         `json:"publicKey"`
	Leaf             types.HexBytes `json:"leaf"`
	ExternalIdentity string         `json:"externalIdentity"`
}

// RegisterResponse is returned by POST /register.
type RegisterResponse = state.Registration

// Proof is the wire form of a circuit.Proof.
type Proof struct {
	CircuitID string         `json:"circuitId"`
	Seal      types.HexBytes `json:"seal"`
	Journal   types.HexBytes `json:"journal"`
}

// NewProof converts a circuit proof into its wire form.
func NewProof(p *circuit.Proof) *Proof {
	return &Proof{CircuitID: p.CircuitID, Seal: p.Seal, Journal: p.Journal}
}

// CircuitProof converts back into a circuit proof.
func (p *Proof) CircuitProof() *circuit.Proof {
	return &circuit.Proof{CircuitID: p.CircuitID, Seal: p.Seal, Journal: p.Journal}
}

// VoteRequest is the body of POST /vote.
type VoteRequest struct {
	Proof *Proof `json:"proof"`
}

// VoteResponse is returned by POST /vote.
type VoteResponse = state.Receipt

// InfoResponse is returned by GET /info.
type InfoResponse = state.Info

// ChallengeResponse is returned by GET /challenge.
type ChallengeResponse = state.Challenge

// RootsResponse is returned by GET /roots.
type RootsResponse struct {
	Roots []types.HexBytes `json:"roots"`
}

// ResultsResponse is returned by GET /results.
type ResultsResponse = state.Results
