package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/state"
)

// info returns the poll settings a client needs to register and prove.
// GET /info
func (a *API) info(w http.ResponseWriter, _ *http.Request) {
	httpWriteJSON(w, a.state.Info())
}

// challenge issues a registration challenge.
// GET /challenge
func (a *API) challenge(w http.ResponseWriter, _ *http.Request) {
	if !a.state.Info().Challenges {
		ErrChallengesDisabled.Write(w)
		return
	}
	ch, err := a.state.IssueChallenge()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, ch)
}

// register authenticates the key of an external identity and inserts the
// submitted leaf.
// POST /register
func (a *API) register(w http.ResponseWriter, r *http.Request) {
	req := &RegisterRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	reg, err := a.state.Register(r.Context(), &state.RegisterRequest{
		Data:             req.Data,
		Signature:        req.Signature,
		PublicKey:        req.PublicKey,
		Leaf:             req.Leaf,
		ExternalIdentity: req.ExternalIdentity,
	})
	if err != nil {
		a.metrics.observeRegistration(err, 0)
		if errors.Is(err, state.ErrKeyAuthority) {
			log.Warnw("key authority failure", "identity", req.ExternalIdentity, "error", err)
		}
		apiError(err).Write(w)
		return
	}
	a.metrics.observeRegistration(nil, reg.LeafIndex+1)
	httpWriteJSON(w, reg)
}

// vote verifies a membership proof and records its vote.
// POST /vote
func (a *API) vote(w http.ResponseWriter, r *http.Request) {
	req := &VoteRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	if req.Proof == nil {
		ErrMalformedBody.With("missing proof").Write(w)
		return
	}
	start := time.Now()
	receipt, err := a.state.Vote(r.Context(), req.Proof.CircuitProof())
	a.metrics.observeVote(start, err)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, receipt)
}

// roots returns the recognized roots, oldest first.
// GET /roots
func (a *API) roots(w http.ResponseWriter, _ *http.Request) {
	httpWriteJSON(w, &RootsResponse{Roots: a.state.Roots()})
}

// results returns the tally.
// GET /results
func (a *API) results(w http.ResponseWriter, _ *http.Request) {
	httpWriteJSON(w, a.state.Results())
}
