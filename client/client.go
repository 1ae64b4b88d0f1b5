// Package client runs the voter side of a poll: it keeps the secret
// nullifier and the registration snapshot in the local store, registers
// against a node and later proves membership to cast a vote.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vocdoni/cypherpoll/api"
	apiclient "github.com/vocdoni/cypherpoll/api/client"
	"github.com/vocdoni/cypherpoll/circuit"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/crypto/signatures/ethereum"
	"github.com/vocdoni/cypherpoll/identity"
	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/storage"
)

// DefaultProveTimeout bounds proof generation.
const DefaultProveTimeout = 10 * time.Minute

var (
	ErrAlreadyRegistered = errors.New("identity already registered from this store")
	ErrNotRegistered     = errors.New("identity not registered from this store")
	ErrAlreadyVoted      = errors.New("identity already voted from this store")
	ErrVoteMismatch      = errors.New("vote differs from the vote bound at registration")
)

// Config holds the collaborators of a Client.
type Config struct {
	Store *storage.Store
	API   *apiclient.HTTPclient
	// Prover generates the vote proofs. Its circuit must match the node's.
	Prover       circuit.ProofSystem
	ProveTimeout time.Duration
}

// Client is a voter client bound to one node.
type Client struct {
	store        *storage.Store
	api          *apiclient.HTTPclient
	prover       circuit.ProofSystem
	proveTimeout time.Duration
}

// New returns a client.
func New(conf Config) (*Client, error) {
	if conf.Store == nil || conf.API == nil {
		return nil, fmt.Errorf("client requires a store and an API client")
	}
	if conf.ProveTimeout <= 0 {
		conf.ProveTimeout = DefaultProveTimeout
	}
	return &Client{
		store:        conf.Store,
		api:          conf.API,
		prover:       conf.Prover,
		proveTimeout: conf.ProveTimeout,
	}, nil
}

// Register derives a nullifier and a leaf for externalIdentity, signs the
// registration data with signer and registers the leaf. The nullifier is
// stored before the request is sent, so a failed registration can be
// retried with the same secret.
func (c *Client) Register(ctx context.Context, externalIdentity string, signer *ethereum.Signer, vote string) (*storage.Voter, error) {
	info, err := c.api.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch poll info: %w", err)
	}
	hasher, err := hash.FromName(info.Hasher)
	if err != nil {
		return nil, err
	}
	if info.BindVote && vote == "" {
		return nil, fmt.Errorf("the poll binds votes at registration, a vote is required")
	}

	voter, err := c.store.Voter(externalIdentity)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if voter, err = c.newVoter(hasher, externalIdentity, signer, vote, info.BindVote); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case voter.Registered():
		return nil, ErrAlreadyRegistered
	case voter.PublicKey != signer.CompressedPublicKey().Hex(), info.BindVote && voter.Vote != vote:
		// the stored leaf commits to another key or vote
		if voter, err = c.newVoter(hasher, externalIdentity, signer, vote, info.BindVote); err != nil {
			return nil, err
		}
	}

	data, err := c.registrationData(ctx, info.Challenges)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return nil, err
	}
	reg, err := c.api.Register(ctx, &api.RegisterRequest{
		Data:             data,
		Signature:        sig.Bytes(),
		PublicKey:        voter.PublicKey,
		Leaf:             voter.Leaf,
		ExternalIdentity: externalIdentity,
	})
	if err != nil {
		return nil, err
	}
	// the snapshot must reproduce the root the node answered with
	if err := checkRegistration(hasher, voter, reg); err != nil {
		return nil, err
	}

	voter.Snapshot = reg.Snapshot
	voter.LeafIndex = reg.LeafIndex
	voter.RootHistory = reg.RootHistory
	voter.RegisteredAt = time.Now()
	if err := c.store.SaveVoter(voter); err != nil {
		return nil, fmt.Errorf("registered but could not store the snapshot: %w", err)
	}
	log.Infow("registered", "identity", externalIdentity, "leafIndex", reg.LeafIndex, "server", c.api.Host())
	return voter, nil
}

func (c *Client) newVoter(hasher hash.Hasher, externalIdentity string, signer *ethereum.Signer, vote string, bind bool) (*storage.Voter, error) {
	seed, err := identity.RandomSeed()
	if err != nil {
		return nil, err
	}
	uid := identity.New(hasher)
	nullifier, err := uid.GenerateNullifier(seed)
	if err != nil {
		return nil, err
	}
	var bound *string
	if bind {
		bound = &vote
	}
	leaf, err := uid.DeriveIdentity(ethereum.RawPubKey(&signer.PublicKey), bound)
	if err != nil {
		return nil, err
	}
	voter := &storage.Voter{
		ExternalIdentity: externalIdentity,
		ServerURL:        c.api.Host(),
		PublicKey:        signer.CompressedPublicKey().Hex(),
		Nullifier:        nullifier,
		Vote:             vote,
		Leaf:             leaf,
	}
	if err := c.store.SaveVoter(voter); err != nil {
		return nil, fmt.Errorf("could not store nullifier: %w", err)
	}
	return voter, nil
}

func (c *Client) registrationData(ctx context.Context, challenges bool) ([]byte, error) {
	if challenges {
		ch, err := c.api.Challenge(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not get a challenge: %w", err)
		}
		return ch.Data, nil
	}
	return identity.RandomSeed()
}

// Vote builds the membership proof of externalIdentity against the node's
// current roots and submits it. An empty vote uses the vote stored at
// registration.
func (c *Client) Vote(ctx context.Context, externalIdentity, vote string) (*storage.Receipt, error) {
	if c.prover == nil {
		return nil, fmt.Errorf("client has no prover")
	}
	voter, err := c.store.Voter(externalIdentity)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}
	if !voter.Registered() {
		return nil, ErrNotRegistered
	}
	if voter.Receipt != nil {
		return nil, ErrAlreadyVoted
	}
	info, err := c.api.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch poll info: %w", err)
	}
	if info.CircuitID != c.prover.CircuitID() {
		return nil, fmt.Errorf("%w: node runs %s, prover is %s", circuit.ErrCircuitMismatch, info.CircuitID, c.prover.CircuitID())
	}
	if vote == "" {
		vote = voter.Vote
	}
	if info.BindVote && vote != voter.Vote {
		return nil, ErrVoteMismatch
	}
	roots, err := c.api.Roots(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch roots: %w", err)
	}

	proveCtx, cancel := context.WithTimeout(ctx, c.proveTimeout)
	defer cancel()
	start := time.Now()
	proof, err := c.prover.Prove(proveCtx, &circuit.Inputs{
		RootHistory: roots.Roots,
		Snapshot:    voter.Snapshot,
		LeafIndex:   voter.LeafIndex,
		Nullifier:   voter.Nullifier,
		PublicKey:   voter.PublicKey,
		Vote:        vote,
	})
	if err != nil {
		return nil, fmt.Errorf("could not prove membership: %w", err)
	}
	log.Infow("membership proof generated", "identity", externalIdentity, "took", time.Since(start).String())

	resp, err := c.api.Vote(ctx, api.NewProof(proof))
	if err != nil {
		return nil, err
	}
	receipt := &storage.Receipt{ID: resp.ID, Vote: resp.Vote, CastAt: time.Now()}
	if err := c.store.UpdateVoter(externalIdentity, func(v *storage.Voter) error {
		v.Receipt = receipt
		return nil
	}); err != nil {
		log.Warnw("vote accepted but receipt not stored", "identity", externalIdentity, "voteId", receipt.ID, "error", err)
	}
	log.Infow("vote accepted", "identity", externalIdentity, "voteId", receipt.ID)
	return receipt, nil
}
