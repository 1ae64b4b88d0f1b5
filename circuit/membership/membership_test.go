package membership

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"
	"github.com/vocdoni/cypherpoll/circuit"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/internal/testutil"
	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/types"
)

// lockedBuffer is a log sink safe for the background prover goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const (
	testDepth = 3
	testSlots = 2
)

var params = circuit.Params{BindVote: true}

func TestCircuitSolved(t *testing.T) {
	c := qt.New(t)
	h := hash.MiMCHasher{}

	voter := testutil.NewVoter(c, h, 1, params, "yes")
	history := testutil.FillTree(c, h, testDepth, 3, voter)
	pk, err := hexPubKey(voter.PublicKey)
	c.Assert(err, qt.IsNil)

	restored := restore(c, voter)
	siblings, bits, err := restored.Path(voter.LeafIndex)
	c.Assert(err, qt.IsNil)

	assignment := NewPlaceholder(testDepth, testSlots)
	assignment.Nullifier = element(voter.Nullifier)
	assignment.Vote = element([]byte(voter.Vote))
	assignment.PublicKey = [2]frontend.Variable{element(pk[:32]), element(pk[32:])}
	for i := range siblings {
		assignment.Siblings[i] = element(siblings[i])
		assignment.PathBits[i] = 0
		if bits[i] {
			assignment.PathBits[i] = 1
		}
	}
	// voter root plus an unrelated one
	assignment.Roots[0] = element(history[0])
	assignment.Roots[1] = element(history[len(history)-1])
	c.Assert(test.IsSolved(NewPlaceholder(testDepth, testSlots), assignment, ecc.BN254.ScalarField()), qt.IsNil)

	c.Run("root not listed", func(c *qt.C) {
		bad := *assignment
		bad.Roots = []frontend.Variable{element(history[0]), element(history[1])}
		c.Assert(test.IsSolved(NewPlaceholder(testDepth, testSlots), &bad, ecc.BN254.ScalarField()), qt.Not(qt.IsNil))
	})

	c.Run("different vote", func(c *qt.C) {
		bad := *assignment
		bad.Vote = element([]byte("no"))
		c.Assert(test.IsSolved(NewPlaceholder(testDepth, testSlots), &bad, ecc.BN254.ScalarField()), qt.Not(qt.IsNil))
	})

	c.Run("non boolean path bit", func(c *qt.C) {
		bad := *assignment
		bad.PathBits = append([]frontend.Variable{}, assignment.PathBits...)
		bad.PathBits[0] = 2
		c.Assert(test.IsSolved(NewPlaceholder(testDepth, testSlots), &bad, ecc.BN254.ScalarField()), qt.Not(qt.IsNil))
	})
}

func TestProveVerify(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup skipped in short mode")
	}
	c := qt.New(t)
	ctx := context.Background()
	h := hash.MiMCHasher{}

	artifacts, err := Setup(testDepth, testSlots)
	c.Assert(err, qt.IsNil)
	dir := t.TempDir()
	c.Assert(artifacts.Write(dir), qt.IsNil)

	prover, err := Load(dir, false)
	c.Assert(err, qt.IsNil)
	c.Assert(prover.Metadata.Depth, qt.Equals, testDepth)
	verifierArtifacts, err := Load(dir, true)
	c.Assert(err, qt.IsNil)
	c.Assert(verifierArtifacts.PK, qt.IsNil)

	system, err := New(params, prover)
	c.Assert(err, qt.IsNil)
	verifier, err := New(params, verifierArtifacts)
	c.Assert(err, qt.IsNil)
	c.Assert(verifier.CircuitID(), qt.Equals, system.CircuitID())

	voter := testutil.NewVoter(c, h, 2, params, "yes")
	later := testutil.NewVoter(c, h, 3, params, "no")
	last := testutil.NewVoter(c, h, 4, params, "no")
	history := testutil.FillTree(c, h, testDepth, 2, voter, later, last)

	proof, err := system.Prove(ctx, voter.Inputs(history))
	c.Assert(err, qt.IsNil)
	journal, err := verifier.Verify(ctx, proof)
	c.Assert(err, qt.IsNil)
	c.Assert(journal.Nullifier, qt.DeepEquals, voter.Nullifier)
	c.Assert(journal.Vote, qt.Equals, "yes")
	// the voter root is older than the last two, so it replaced the oldest
	c.Assert(journal.RootHistory, qt.HasLen, testSlots)
	c.Assert(journal.RootHistory[0], qt.DeepEquals, history[2])
	c.Assert(journal.RootHistory[1], qt.DeepEquals, history[4])

	_, err = verifier.Prove(ctx, voter.Inputs(history))
	c.Assert(err, qt.ErrorIs, ErrNoProvingKey)

	c.Run("swapped vote", func(c *qt.C) {
		j := *journal
		j.Vote = "no"
		c.Assert(verifyJournal(c, verifier, proof, &j), qt.ErrorIs, circuit.ErrInvalidProof)
	})

	c.Run("aliased nullifier", func(c *qt.C) {
		j := *journal
		alias := new(big.Int).Add(new(big.Int).SetBytes(j.Nullifier), fr.Modulus())
		j.Nullifier = alias.Bytes()
		c.Assert(verifyJournal(c, verifier, proof, &j), qt.ErrorIs, circuit.ErrInvalidProof)
	})

	c.Run("too many roots", func(c *qt.C) {
		j := *journal
		j.RootHistory = history
		c.Assert(verifyJournal(c, verifier, proof, &j), qt.ErrorIs, circuit.ErrInvalidProof)
	})

	c.Run("cancelled prove", func(c *qt.C) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := system.Prove(cctx, later.Inputs(history))
		c.Assert(err, qt.ErrorIs, context.Canceled)
	})

	c.Run("cancelled while proving", func(c *qt.C) {
		var out lockedBuffer
		log.InitWithWriter(zerolog.DebugLevel, &out, nil)
		c.Cleanup(func() { log.Init(log.LogLevelInfo, "stderr", nil) })

		started, release := make(chan struct{}), make(chan struct{})
		c.Patch(&groth16Prove, func(constraint.ConstraintSystem, groth16.ProvingKey, witness.Witness, ...backend.ProverOption) (groth16.Proof, error) {
			close(started)
			<-release
			return nil, errors.New("released")
		})
		cctx, cancel := context.WithCancel(ctx)
		errc := make(chan error, 1)
		go func() {
			_, err := system.Prove(cctx, later.Inputs(history))
			errc <- err
		}()
		<-started
		cancel()
		c.Assert(<-errc, qt.ErrorIs, context.Canceled)

		close(release)
		const msg = "membership proof finished after its caller gave up"
		for deadline := time.Now().Add(5 * time.Second); !strings.Contains(out.String(), msg) && time.Now().Before(deadline); {
			time.Sleep(10 * time.Millisecond)
		}
		c.Assert(out.String(), qt.Contains, msg)
	})

	c.Run("empty vote", func(c *qt.C) {
		in := voter.Inputs(history)
		in.Vote = ""
		_, err := system.Prove(ctx, in)
		c.Assert(err, qt.ErrorIs, circuit.ErrInvalidInputs)
	})
}

func TestRequiresBoundVotes(t *testing.T) {
	c := qt.New(t)
	_, err := New(circuit.Params{BindVote: false}, &Artifacts{})
	c.Assert(err, qt.ErrorMatches, "membership circuit requires votes bound at registration")
}

func TestSelectRoots(t *testing.T) {
	c := qt.New(t)
	history := []types.HexBytes{{1}, {2}, {3}, {4}}

	c.Assert(selectRoots(history[:2], []byte{1}, 3), qt.DeepEquals, history[:2])
	c.Assert(selectRoots(history, []byte{4}, 2), qt.DeepEquals, []types.HexBytes{{3}, {4}})
	c.Assert(selectRoots(history, []byte{1}, 2), qt.DeepEquals, []types.HexBytes{{1}, {4}})
}

func verifyJournal(c *qt.C, s *System, proof *circuit.Proof, j *circuit.Journal) error {
	data, err := circuit.EncodeJournal(j)
	c.Assert(err, qt.IsNil)
	forged := *proof
	forged.Journal = data
	_, err = s.Verify(context.Background(), &forged)
	return err
}
