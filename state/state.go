// Package state holds the registration tree, the root history and the two
// uniqueness sets of a poll, and implements the register and vote
// operations on top of them.
//
// A single mutex guards the whole aggregate. Signature checks, key
// authority lookups and proof verification happen before taking it, so the
// critical sections only check the sets and update the tree.
package state

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/cypherpoll/circuit"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/identity"
	"github.com/vocdoni/cypherpoll/keyauth"
	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/tree"
	"github.com/vocdoni/cypherpoll/types"
)

const (
	// DefaultDepth matches a poll of 32 voters.
	DefaultDepth = 5
	// MaxLeafSize bounds the leaf accepted in a registration.
	MaxLeafSize = 64
)

// receiptNamespace derives vote receipt IDs from nullifiers.
var receiptNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("cypherpoll/vote"))

// SignatureVerifier checks a signature by publicKey over data.
type SignatureVerifier interface {
	Verify(publicKey, data, signature []byte) bool
}

// Config holds the collaborators and settings of a State.
type Config struct {
	Hasher hash.Hasher
	Depth  int
	// RootHistorySize keeps only the most recent roots when positive.
	RootHistorySize int
	Params          circuit.Params
	// VoteOptions restricts the accepted votes when not empty.
	VoteOptions []string

	Authority   keyauth.Authority
	Signatures  SignatureVerifier
	ProofSystem circuit.ProofSystem
	// Challenges, if set, requires registrations to sign an issued challenge.
	Challenges *ChallengeStore
}

// RegisterRequest is a registration as received from a client.
type RegisterRequest struct {
	Data             types.HexBytes
	Signature        types.HexBytes
	PublicKey        string
	Leaf             types.HexBytes
	ExternalIdentity string
}

// Registration is handed back to the registrant. Snapshot is the tree right
// before the leaf was inserted, so LeafIndex equals Snapshot.Index.
type Registration struct {
	Snapshot    *tree.Snapshot   `json:"snapshot"`
	LeafIndex   uint64           `json:"leafIndex"`
	Root        types.HexBytes   `json:"root"`
	RootHistory []types.HexBytes `json:"rootHistory"`
}

// Receipt acknowledges an accepted vote.
type Receipt struct {
	ID        string         `json:"voteId"`
	Vote      string         `json:"vote"`
	Nullifier types.HexBytes `json:"nullifier"`
}

// Ballot is a recorded vote.
type Ballot struct {
	Receipt
	Roots    int       `json:"roots"`
	CastedAt time.Time `json:"castedAt"`
}

// Results is the public tally.
type Results struct {
	Tally   map[string]uint64 `json:"tally"`
	Ballots int               `json:"ballots"`
	Voters  uint64            `json:"voters"`
}

// Info describes the poll settings to clients.
type Info struct {
	Depth           int      `json:"depth"`
	Capacity        uint64   `json:"capacity"`
	Size            uint64   `json:"size"`
	Hasher          string   `json:"hasher"`
	CircuitID       string   `json:"circuitId"`
	BindVote        bool     `json:"bindVote"`
	RootHistorySize int      `json:"rootHistorySize"`
	VoteOptions     []string `json:"voteOptions,omitempty"`
	Challenges      bool     `json:"challenges"`
}

// State is the poll state machine.
type State struct {
	conf Config

	mu         sync.Mutex
	tree       *tree.Tree
	history    *tree.RootHistory
	leaves     []types.HexBytes
	identities map[string]struct{}
	nullifiers map[string]struct{}
	ballots    []Ballot
	tally      map[string]uint64
}

// New returns an empty poll.
func New(conf Config) (*State, error) {
	if conf.Hasher == nil {
		conf.Hasher = hash.SHA256Hasher{}
	}
	if conf.Depth == 0 {
		conf.Depth = DefaultDepth
	}
	if conf.Authority == nil || conf.Signatures == nil || conf.ProofSystem == nil {
		return nil, fmt.Errorf("state requires a key authority, a signature verifier and a proof system")
	}
	t, err := tree.New(conf.Hasher, conf.Depth)
	if err != nil {
		return nil, err
	}
	return &State{
		conf:       conf,
		tree:       t,
		history:    tree.NewRootHistory(conf.RootHistorySize),
		identities: make(map[string]struct{}),
		nullifiers: make(map[string]struct{}),
		tally:      make(map[string]uint64),
	}, nil
}

// Register authenticates the request and inserts its leaf. Either every
// mutation happens or none does.
func (s *State) Register(ctx context.Context, req *RegisterRequest) (*Registration, error) {
	if req == nil || req.ExternalIdentity == "" || len(req.Leaf) == 0 || len(req.Leaf) > MaxLeafSize {
		return nil, ErrMalformedRequest
	}
	pubKey, err := identity.ParsePublicKey(req.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	id := s.conf.Authority.Canonical(req.ExternalIdentity)
	if id == "" {
		return nil, ErrMalformedRequest
	}
	keys, err := s.conf.Authority.Keys(ctx, id)
	switch {
	case err == nil:
	case isNotFound(err):
		return nil, fmt.Errorf("%w: %w", ErrUnauthorizedKey, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrKeyAuthority, err)
	}
	if !identity.KeyAuthorized(req.PublicKey, keys) {
		return nil, ErrUnauthorizedKey
	}
	if !s.conf.Signatures.Verify(pubKey, req.Data, req.Signature) {
		return nil, ErrInvalidSignature
	}
	if s.conf.Challenges != nil {
		if err := s.conf.Challenges.Consume(req.Data); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[id]; ok {
		return nil, ErrDuplicateIdentitySource
	}
	if s.tree.Full() {
		return nil, ErrCapacityExhausted
	}
	snapshot := s.tree.Snapshot()
	s.tree.InsertLeaf(req.Leaf)
	root := s.tree.Root()
	s.history.Push(root)
	s.leaves = append(s.leaves, req.Leaf.Clone())
	s.identities[id] = struct{}{}

	log.Infow("identity registered",
		"identity", id,
		"leafIndex", snapshot.Index,
		"root", root.String())
	return &Registration{
		Snapshot:    snapshot,
		LeafIndex:   snapshot.Index,
		Root:        root,
		RootHistory: s.history.Roots(),
	}, nil
}

// Vote verifies the proof and, if its nullifier is fresh and all of its
// roots are known, records the vote.
func (s *State) Vote(ctx context.Context, proof *circuit.Proof) (*Receipt, error) {
	journal, err := s.conf.ProofSystem.Verify(ctx, proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if err := s.checkVote(journal.Vote); err != nil {
		return nil, err
	}
	if len(journal.Nullifier) == 0 {
		return nil, fmt.Errorf("%w: empty nullifier", ErrInvalidProof)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nullifiers[string(journal.Nullifier)]; ok {
		return nil, ErrDuplicateNullifier
	}
	if len(journal.RootHistory) == 0 {
		log.Warnw("vote without roots rejected", "nullifier", journal.Nullifier.String())
		return nil, fmt.Errorf("%w: journal has no roots", ErrUnrecognizedRoot)
	}
	if missing := s.history.Missing(journal.RootHistory); missing != nil {
		log.Warnw("vote with unrecognized root rejected",
			"root", missing.String(),
			"nullifier", journal.Nullifier.String())
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedRoot, missing.String())
	}

	receipt := Receipt{
		ID:        uuid.NewSHA1(receiptNamespace, journal.Nullifier).String(),
		Vote:      journal.Vote,
		Nullifier: journal.Nullifier.Clone(),
	}
	s.nullifiers[string(journal.Nullifier)] = struct{}{}
	s.ballots = append(s.ballots, Ballot{Receipt: receipt, Roots: len(journal.RootHistory), CastedAt: time.Now()})
	s.tally[journal.Vote]++
	log.Infow("vote accepted", "voteId", receipt.ID, "vote", receipt.Vote)
	return &receipt, nil
}

func (s *State) checkVote(vote string) error {
	if vote == "" {
		return fmt.Errorf("%w: empty vote", ErrInvalidVote)
	}
	if len(s.conf.VoteOptions) > 0 && !slices.Contains(s.conf.VoteOptions, vote) {
		return fmt.Errorf("%w: %q is not an option", ErrInvalidVote, vote)
	}
	return nil
}

// IssueChallenge returns a new registration challenge.
func (s *State) IssueChallenge() (*Challenge, error) {
	if s.conf.Challenges == nil {
		return nil, fmt.Errorf("challenges disabled")
	}
	return s.conf.Challenges.Issue()
}

// Info returns the poll settings and current size.
func (s *State) Info() *Info {
	s.mu.Lock()
	size := s.tree.Index()
	s.mu.Unlock()
	return &Info{
		Depth:           s.conf.Depth,
		Capacity:        uint64(1) << s.conf.Depth,
		Size:            size,
		Hasher:          s.conf.Hasher.Name(),
		CircuitID:       s.conf.ProofSystem.CircuitID(),
		BindVote:        s.conf.Params.BindVote,
		RootHistorySize: s.conf.RootHistorySize,
		VoteOptions:     slices.Clone(s.conf.VoteOptions),
		Challenges:      s.conf.Challenges != nil,
	}
}

// Roots returns the recognized roots, oldest first.
func (s *State) Roots() []types.HexBytes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Roots()
}

// Leaves returns the registered leaves in insertion order.
func (s *State) Leaves() []types.HexBytes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneSlice(s.leaves)
}

// Results returns the tally so far.
func (s *State) Results() *Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	tally := make(map[string]uint64, len(s.tally))
	for k, v := range s.tally {
		tally[k] = v
	}
	return &Results{Tally: tally, Ballots: len(s.ballots), Voters: s.tree.Index()}
}

// Ballots returns the recorded ballots sorted by cast time.
func (s *State) Ballots() []Ballot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.ballots)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CastedAt.Before(out[j].CastedAt) })
	return out
}
