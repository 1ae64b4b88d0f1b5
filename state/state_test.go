package state_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/cypherpoll/circuit"
	"github.com/vocdoni/cypherpoll/circuit/dev"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/crypto/signatures/ethereum"
	"github.com/vocdoni/cypherpoll/internal/testutil"
	"github.com/vocdoni/cypherpoll/keyauth"
	"github.com/vocdoni/cypherpoll/state"
	"github.com/vocdoni/cypherpoll/types"
)

var challengeData = []byte("register me")

type fixture struct {
	state   *state.State
	voters  []*testutil.Voter
	proofs  circuit.ProofSystem
	authKey keyauth.Static
}

type option func(*state.Config)

func newFixture(c *qt.C, voters int, opts ...option) *fixture {
	h := hash.SHA256Hasher{}
	f := &fixture{authKey: keyauth.Static{}, proofs: testutil.Passthrough{}}
	for i := 0; i < voters; i++ {
		v := testutil.NewVoter(c, h, i, circuit.Params{}, "yes")
		f.voters = append(f.voters, v)
		f.authKey[v.ExternalIdentity] = []string{"some other key", v.PublicKey + "\r\n"}
	}
	conf := state.Config{
		Hasher:      h,
		Depth:       5,
		Authority:   f.authKey,
		Signatures:  ethereum.Verifier{},
		ProofSystem: f.proofs,
	}
	for _, opt := range opts {
		opt(&conf)
	}
	f.proofs = conf.ProofSystem
	st, err := state.New(conf)
	c.Assert(err, qt.IsNil)
	f.state = st
	return f
}

func (f *fixture) request(c *qt.C, v *testutil.Voter) *state.RegisterRequest {
	return &state.RegisterRequest{
		Data:             challengeData,
		Signature:        v.Sign(c, challengeData),
		PublicKey:        v.PublicKey,
		Leaf:             v.Leaf,
		ExternalIdentity: v.ExternalIdentity,
	}
}

func (f *fixture) register(c *qt.C, v *testutil.Voter) *state.Registration {
	reg, err := f.state.Register(context.Background(), f.request(c, v))
	c.Assert(err, qt.IsNil)
	v.Snapshot = reg.Snapshot
	v.LeafIndex = reg.LeafIndex
	return reg
}

func TestRegister(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 2)

	reg := f.register(c, f.voters[0])
	c.Assert(reg.LeafIndex, qt.Equals, uint64(0))
	c.Assert(reg.Snapshot.Index, qt.Equals, uint64(0))
	c.Assert(reg.RootHistory, qt.HasLen, 1)
	c.Assert(reg.RootHistory[0], qt.DeepEquals, reg.Root)

	reg = f.register(c, f.voters[1])
	c.Assert(reg.LeafIndex, qt.Equals, uint64(1))
	c.Assert(reg.RootHistory, qt.HasLen, 2)
	c.Assert(f.state.Leaves(), qt.DeepEquals, []types.HexBytes{f.voters[0].Leaf, f.voters[1].Leaf})
	c.Assert(f.state.Info().Size, qt.Equals, uint64(2))
}

func TestRegisterIdentityOnce(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 1)
	v := f.voters[0]
	f.register(c, v)

	// same identity, different leaf
	req := f.request(c, v)
	req.Leaf = hash.SHA256Hasher{}.Hash([]byte("another leaf"))
	_, err := f.state.Register(context.Background(), req)
	c.Assert(err, qt.ErrorIs, state.ErrDuplicateIdentitySource)
	c.Assert(f.state.Leaves(), qt.HasLen, 1)
	c.Assert(f.state.Roots(), qt.HasLen, 1)
}

func TestRegisterIdentityCaseVariants(t *testing.T) {
	c := qt.New(t)
	voters := map[string]*testutil.Voter{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// user names resolve case-insensitively, as on GitHub
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/users/"), "/keys")
		for id, v := range voters {
			if strings.EqualFold(id, name) {
				_, _ = fmt.Fprintf(w, `[{"key":%q}]`, v.PublicKey)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	authority, err := keyauth.NewHTTP(keyauth.HTTPConfig{Endpoint: srv.URL + "/users/" + keyauth.IdentityPlaceholder + "/keys"})
	c.Assert(err, qt.IsNil)

	f := newFixture(c, 1, func(conf *state.Config) { conf.Authority = authority })
	v := f.voters[0]
	voters[v.ExternalIdentity] = v
	f.register(c, v)

	for _, variant := range []string{strings.ToUpper(v.ExternalIdentity), " " + v.ExternalIdentity, "Voter0"} {
		req := f.request(c, v)
		req.ExternalIdentity = variant
		req.Leaf = hash.SHA256Hasher{}.Hash([]byte("leaf for " + variant))
		_, err := f.state.Register(context.Background(), req)
		c.Assert(err, qt.ErrorIs, state.ErrDuplicateIdentitySource, qt.Commentf("identity %q", variant))
	}
	c.Assert(f.state.Leaves(), qt.HasLen, 1)

	req := f.request(c, v)
	req.ExternalIdentity = "   "
	_, err = f.state.Register(context.Background(), req)
	c.Assert(err, qt.ErrorIs, state.ErrMalformedRequest)
}

func TestRegisterRejections(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 2)
	v, other := f.voters[0], f.voters[1]

	tests := []struct {
		name   string
		mutate func(*state.RegisterRequest)
		err    error
	}{
		{"missing identity", func(r *state.RegisterRequest) { r.ExternalIdentity = "" }, state.ErrMalformedRequest},
		{"missing leaf", func(r *state.RegisterRequest) { r.Leaf = nil }, state.ErrMalformedRequest},
		{"bad public key", func(r *state.RegisterRequest) { r.PublicKey = "0x1234" }, state.ErrMalformedRequest},
		{"unknown identity", func(r *state.RegisterRequest) { r.ExternalIdentity = "stranger" }, state.ErrUnauthorizedKey},
		{"key of another identity", func(r *state.RegisterRequest) {
			r.PublicKey = other.PublicKey
			r.Signature = other.Sign(c, r.Data)
		}, state.ErrUnauthorizedKey},
		{"signature over other data", func(r *state.RegisterRequest) { r.Data = []byte("other data") }, state.ErrInvalidSignature},
		{"signature by other key", func(r *state.RegisterRequest) { r.Signature = other.Sign(c, r.Data) }, state.ErrInvalidSignature},
	}
	for _, test := range tests {
		c.Run(test.name, func(c *qt.C) {
			req := f.request(c, v)
			test.mutate(req)
			_, err := f.state.Register(context.Background(), req)
			c.Assert(err, qt.ErrorIs, test.err)
		})
	}
	c.Assert(f.state.Leaves(), qt.HasLen, 0)
	c.Assert(f.state.Roots(), qt.HasLen, 0)
}

type failingAuthority struct{}

func (failingAuthority) Canonical(identity string) string { return identity }

func (failingAuthority) Keys(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("%w: status 500", keyauth.ErrUpstream)
}

func TestRegisterAuthorityDown(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 1, func(conf *state.Config) { conf.Authority = failingAuthority{} })
	_, err := f.state.Register(context.Background(), f.request(c, f.voters[0]))
	c.Assert(err, qt.ErrorIs, state.ErrKeyAuthority)
}

func TestRegisterCapacity(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 33)
	for i := 0; i < 32; i++ {
		f.register(c, f.voters[i])
	}
	_, err := f.state.Register(context.Background(), f.request(c, f.voters[32]))
	c.Assert(err, qt.ErrorIs, state.ErrCapacityExhausted)
	c.Assert(f.state.Leaves(), qt.HasLen, 32)
	c.Assert(f.state.Roots(), qt.HasLen, 32)
}

func TestRegisterChallenges(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 2, func(conf *state.Config) {
		conf.Challenges = state.NewChallengeStore(0, 0)
	})
	c.Assert(f.state.Info().Challenges, qt.IsTrue)

	// unissued data
	_, err := f.state.Register(context.Background(), f.request(c, f.voters[0]))
	c.Assert(err, qt.ErrorIs, state.ErrInvalidChallenge)

	ch, err := f.state.IssueChallenge()
	c.Assert(err, qt.IsNil)
	req := f.request(c, f.voters[0])
	req.Data = ch.Data
	req.Signature = f.voters[0].Sign(c, ch.Data)
	_, err = f.state.Register(context.Background(), req)
	c.Assert(err, qt.IsNil)

	// a challenge is single use
	req = f.request(c, f.voters[1])
	req.Data = ch.Data
	req.Signature = f.voters[1].Sign(c, ch.Data)
	_, err = f.state.Register(context.Background(), req)
	c.Assert(err, qt.ErrorIs, state.ErrInvalidChallenge)
}

func TestVote(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 3)
	for _, v := range f.voters {
		f.register(c, v)
	}
	roots := f.state.Roots()
	proof := testutil.JournalProof(&circuit.Journal{
		Nullifier:   f.voters[0].Nullifier,
		RootHistory: roots[1:],
		Vote:        "yes",
	})
	receipt, err := f.state.Vote(context.Background(), proof)
	c.Assert(err, qt.IsNil)
	c.Assert(receipt.Vote, qt.Equals, "yes")
	c.Assert(receipt.Nullifier, qt.DeepEquals, f.voters[0].Nullifier)
	c.Assert(receipt.ID, qt.Not(qt.Equals), "")

	// replay
	_, err = f.state.Vote(context.Background(), proof)
	c.Assert(err, qt.ErrorIs, state.ErrDuplicateNullifier)

	res := f.state.Results()
	c.Assert(res.Tally, qt.DeepEquals, map[string]uint64{"yes": 1})
	c.Assert(res.Ballots, qt.Equals, 1)
	c.Assert(res.Voters, qt.Equals, uint64(3))
	c.Assert(f.state.Ballots(), qt.HasLen, 1)
}

func TestVoteRejections(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 1, func(conf *state.Config) { conf.VoteOptions = []string{"yes", "no"} })
	f.register(c, f.voters[0])
	roots := f.state.Roots()
	nullifier := f.voters[0].Nullifier

	tests := []struct {
		name  string
		proof *circuit.Proof
		err   error
	}{
		{"invalid proof", testutil.InvalidProof(&circuit.Journal{Nullifier: nullifier, RootHistory: roots, Vote: "yes"}), state.ErrInvalidProof},
		{"other circuit", &circuit.Proof{CircuitID: "other", Seal: []byte("ok")}, state.ErrInvalidProof},
		{"unknown root", testutil.JournalProof(&circuit.Journal{
			Nullifier:   nullifier,
			RootHistory: []types.HexBytes{roots[0], hash.SHA256Hasher{}.Hash([]byte("forged"))},
			Vote:        "yes",
		}), state.ErrUnrecognizedRoot},
		{"no roots", testutil.JournalProof(&circuit.Journal{Nullifier: nullifier, Vote: "yes"}), state.ErrUnrecognizedRoot},
		{"empty vote", testutil.JournalProof(&circuit.Journal{Nullifier: nullifier, RootHistory: roots}), state.ErrInvalidVote},
		{"not an option", testutil.JournalProof(&circuit.Journal{Nullifier: nullifier, RootHistory: roots, Vote: "maybe"}), state.ErrInvalidVote},
		{"empty nullifier", testutil.JournalProof(&circuit.Journal{RootHistory: roots, Vote: "yes"}), state.ErrInvalidProof},
	}
	for _, test := range tests {
		c.Run(test.name, func(c *qt.C) {
			_, err := f.state.Vote(context.Background(), test.proof)
			c.Assert(err, qt.ErrorIs, test.err)
		})
	}
	// nothing was consumed by the rejected attempts
	_, err := f.state.Vote(context.Background(), testutil.JournalProof(&circuit.Journal{
		Nullifier: nullifier, RootHistory: roots, Vote: "no",
	}))
	c.Assert(err, qt.IsNil)
	c.Assert(f.state.Results().Tally, qt.DeepEquals, map[string]uint64{"no": 1})
}

func TestVoteRootWindow(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 4, func(conf *state.Config) { conf.RootHistorySize = 2 })
	var first types.HexBytes
	for i, v := range f.voters {
		reg := f.register(c, v)
		if i == 0 {
			first = reg.Root
		}
	}
	roots := f.state.Roots()
	c.Assert(roots, qt.HasLen, 2)
	c.Assert(f.state.Info().RootHistorySize, qt.Equals, 2)

	// the first root was evicted
	_, err := f.state.Vote(context.Background(), testutil.JournalProof(&circuit.Journal{
		Nullifier:   f.voters[0].Nullifier,
		RootHistory: []types.HexBytes{first},
		Vote:        "yes",
	}))
	c.Assert(err, qt.ErrorIs, state.ErrUnrecognizedRoot)

	_, err = f.state.Vote(context.Background(), testutil.JournalProof(&circuit.Journal{
		Nullifier:   f.voters[0].Nullifier,
		RootHistory: roots,
		Vote:        "yes",
	}))
	c.Assert(err, qt.IsNil)
}

func TestConcurrentVotes(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 8)
	for _, v := range f.voters {
		f.register(c, v)
	}
	roots := f.state.Roots()

	// every voter submits its ballot four times
	var g errgroup.Group
	accepted := make(chan string, 32)
	for i := 0; i < 4; i++ {
		for _, v := range f.voters {
			proof := testutil.JournalProof(&circuit.Journal{Nullifier: v.Nullifier, RootHistory: roots, Vote: "yes"})
			g.Go(func() error {
				r, err := f.state.Vote(context.Background(), proof)
				if errors.Is(err, state.ErrDuplicateNullifier) {
					return nil
				}
				if err != nil {
					return err
				}
				accepted <- r.ID
				return nil
			})
		}
	}
	c.Assert(g.Wait(), qt.IsNil)
	close(accepted)
	ids := map[string]bool{}
	for id := range accepted {
		ids[id] = true
	}
	c.Assert(ids, qt.HasLen, 8)
	c.Assert(f.state.Results().Tally["yes"], qt.Equals, uint64(8))
}

func TestConcurrentRegistrations(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 32)
	var g errgroup.Group
	for _, v := range f.voters {
		req := f.request(c, v)
		g.Go(func() error {
			_, err := f.state.Register(context.Background(), req)
			return err
		})
	}
	c.Assert(g.Wait(), qt.IsNil)
	c.Assert(f.state.Leaves(), qt.HasLen, 32)
	c.Assert(f.state.Roots(), qt.HasLen, 32)
}

func TestEndToEndDev(t *testing.T) {
	c := qt.New(t)
	prover, err := ethereum.NewSignerFromSeed([]byte("dev prover"))
	c.Assert(err, qt.IsNil)
	h := hash.SHA256Hasher{}
	params := circuit.Params{BindVote: true}
	system := dev.New(h, params, prover)
	verifier := dev.NewVerifier(h, params, prover.Address())

	f := newFixture(c, 0, func(conf *state.Config) {
		conf.ProofSystem = verifier
		conf.Params = params
	})
	var voters []*testutil.Voter
	for i, vote := range []string{"yes", "no", "yes"} {
		v := testutil.NewVoter(c, h, i, params, vote)
		f.authKey[v.ExternalIdentity] = []string{v.PublicKey}
		voters = append(voters, v)
		f.register(c, v)
	}

	for _, v := range voters {
		proof, err := system.Prove(context.Background(), v.Inputs(f.state.Roots()))
		c.Assert(err, qt.IsNil)
		receipt, err := f.state.Vote(context.Background(), proof)
		c.Assert(err, qt.IsNil)
		c.Assert(receipt.Vote, qt.Equals, v.Vote)
	}
	c.Assert(f.state.Results().Tally, qt.DeepEquals, map[string]uint64{"yes": 2, "no": 1})
	c.Assert(f.state.Info().CircuitID, qt.Equals, system.CircuitID())

	// a voter cannot prove a vote other than the one bound to its leaf
	inputs := voters[0].Inputs(f.state.Roots())
	inputs.Vote = "no"
	_, err = system.Prove(context.Background(), inputs)
	c.Assert(err, qt.IsNotNil)
}
