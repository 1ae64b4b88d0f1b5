package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/cypherpoll/circuit"
	"github.com/vocdoni/cypherpoll/circuit/dev"
	"github.com/vocdoni/cypherpoll/circuit/membership"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/crypto/signatures/ethereum"
	"github.com/vocdoni/cypherpoll/keyauth"
	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/state"
)

// Proof backends.
const (
	ProverDev     = "dev"
	ProverGroth16 = "groth16"
)

// ProverConfig selects and configures the proof backend.
type ProverConfig struct {
	Type string
	// DevKey is the dev prover private key, or only its address on a
	// verifying node.
	DevKey string
	// Artifacts is the directory written by the setup command.
	Artifacts string
	BindVote  bool
}

// KeysConfig configures the key authority.
type KeysConfig struct {
	Endpoint  string
	Token     string
	Static    string
	CacheSize int
	CacheTTL  time.Duration
}

// PollConfig describes a poll served by a node.
type PollConfig struct {
	Depth           int
	Hasher          string
	RootHistorySize int
	VoteOptions     []string
	Challenges      bool
	ChallengeTTL    time.Duration
	Prover          ProverConfig
	Keys            KeysConfig
}

// NewProofSystem builds the configured backend. With verifierOnly the
// groth16 proving key is not loaded.
func NewProofSystem(conf ProverConfig, hasherName string, verifierOnly bool) (circuit.ProofSystem, error) {
	params := circuit.Params{BindVote: conf.BindVote}
	switch conf.Type {
	case ProverDev, "":
		hasher, err := hash.FromName(hasherName)
		if err != nil {
			return nil, err
		}
		if key := strings.TrimPrefix(conf.DevKey, "0x"); len(key) == 2*common.AddressLength {
			if !common.IsHexAddress(key) {
				return nil, fmt.Errorf("invalid dev prover address %q", conf.DevKey)
			}
			return dev.NewVerifier(hasher, params, common.HexToAddress(key)), nil
		}
		signer, err := ethereum.NewSignerFromHex(conf.DevKey)
		if err != nil {
			return nil, fmt.Errorf("invalid dev prover key: %w", err)
		}
		return dev.New(hasher, params, signer), nil
	case ProverGroth16:
		if hasherName != hash.MiMC {
			return nil, fmt.Errorf("groth16 prover requires the %s hasher, got %s", hash.MiMC, hasherName)
		}
		artifacts, err := membership.Load(conf.Artifacts, verifierOnly)
		if err != nil {
			return nil, fmt.Errorf("load groth16 artifacts: %w", err)
		}
		return membership.New(params, artifacts)
	default:
		return nil, fmt.Errorf("unknown prover type %q", conf.Type)
	}
}

// NewAuthority returns a static authority when a file is configured and
// an HTTP one otherwise.
func NewAuthority(conf KeysConfig) (keyauth.Authority, error) {
	if conf.Static != "" {
		log.Infow("using static key authority", "file", conf.Static)
		return keyauth.LoadStatic(conf.Static)
	}
	log.Infow("using HTTP key authority", "endpoint", conf.Endpoint)
	return keyauth.NewHTTP(keyauth.HTTPConfig{
		Endpoint:  conf.Endpoint,
		Token:     conf.Token,
		CacheSize: conf.CacheSize,
		CacheTTL:  conf.CacheTTL,
	})
}

// NewState assembles the state machine of a poll.
func NewState(conf PollConfig) (*state.State, error) {
	hasher, err := hash.FromName(conf.Hasher)
	if err != nil {
		return nil, err
	}
	proofs, err := NewProofSystem(conf.Prover, conf.Hasher, true)
	if err != nil {
		return nil, err
	}
	if m, ok := proofs.(*membership.System); ok && m.Depth() != conf.Depth {
		return nil, fmt.Errorf("groth16 artifacts are for depth %d, poll depth is %d", m.Depth(), conf.Depth)
	}
	authority, err := NewAuthority(conf.Keys)
	if err != nil {
		return nil, err
	}
	var challenges *state.ChallengeStore
	if conf.Challenges {
		challenges = state.NewChallengeStore(conf.ChallengeTTL, 0)
	}
	st, err := state.New(state.Config{
		Hasher:          hasher,
		Depth:           conf.Depth,
		RootHistorySize: conf.RootHistorySize,
		Params:          circuit.Params{BindVote: conf.Prover.BindVote},
		VoteOptions:     conf.VoteOptions,
		Authority:       authority,
		Signatures:      ethereum.Verifier{},
		ProofSystem:     proofs,
		Challenges:      challenges,
	})
	if err != nil {
		return nil, err
	}
	log.Infow("poll ready",
		"depth", conf.Depth,
		"hasher", hasher.Name(),
		"circuitId", proofs.CircuitID(),
		"rootHistorySize", conf.RootHistorySize,
		"challenges", conf.Challenges)
	return st, nil
}
