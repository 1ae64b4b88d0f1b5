package membership

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/cypherpoll/circuit"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/identity"
	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/tree"
	"github.com/vocdoni/cypherpoll/types"
)

// MaxVoteSize keeps the vote in a single field element without reduction,
// so distinct votes never share a public input.
const MaxVoteSize = fr.Bytes - 1

// System implements circuit.ProofSystem with Groth16.
type System struct {
	artifacts *Artifacts
	params    circuit.Params
	hasher    hash.Hasher
	id        string
}

var _ circuit.ProofSystem = (*System)(nil)

// New returns a Groth16 system over the given artifacts. Votes must be bound
// to the leaf.
func New(params circuit.Params, artifacts *Artifacts) (*System, error) {
	if !params.BindVote {
		return nil, fmt.Errorf("membership circuit requires votes bound at registration")
	}
	digest, err := artifacts.VerifyingKeyDigest()
	if err != nil {
		return nil, fmt.Errorf("hash verifying key: %w", err)
	}
	return &System{
		artifacts: artifacts,
		params:    params,
		hasher:    hash.MiMCHasher{},
		id:        fmt.Sprintf("groth16-bn254-mimc/d%d/r%d/%s", artifacts.Depth, artifacts.Slots, digest[:16]),
	}, nil
}

// groth16Prove is the proving backend, replaced in tests.
var groth16Prove = groth16.Prove

func (s *System) CircuitID() string {
	return s.id
}

// Depth is the tree depth the circuit was compiled for.
func (s *System) Depth() int {
	return s.artifacts.Depth
}

// Hasher returns the MiMC hasher the node tree must use.
func (s *System) Hasher() hash.Hasher {
	return s.hasher
}

// Prove checks the statement natively, builds the witness and runs the
// Groth16 prover. The journal carries at most Slots roots: the most recent
// ones, plus the one matching the voter leaf if it is older.
func (s *System) Prove(ctx context.Context, inputs *circuit.Inputs) (*circuit.Proof, error) {
	if s.artifacts.PK == nil || s.artifacts.CCS == nil {
		return nil, ErrNoProvingKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkVote(inputs.Vote); err != nil {
		return nil, fmt.Errorf("%w: %w", circuit.ErrInvalidInputs, err)
	}
	if !hash.IsCanonical(inputs.Nullifier) {
		return nil, fmt.Errorf("%w: nullifier is not a field element", circuit.ErrInvalidInputs)
	}
	if inputs.Snapshot == nil || inputs.Snapshot.Depth != s.artifacts.Depth {
		return nil, fmt.Errorf("%w: snapshot depth does not match circuit depth %d", circuit.ErrInvalidInputs, s.artifacts.Depth)
	}
	journal, err := circuit.ProverLogic(s.hasher, s.params, inputs)
	if err != nil {
		return nil, err
	}
	pubKey, err := identity.ParsePublicKey(inputs.PublicKey)
	if err != nil {
		return nil, err
	}
	t, err := tree.RestoreWith(inputs.Snapshot, s.hasher)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", circuit.ErrInvalidInputs, err)
	}
	siblings, bits, err := t.Path(inputs.LeafIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", circuit.ErrInvalidInputs, err)
	}
	leaf := identity.Leaf(s.hasher, inputs.Nullifier, pubKey, &inputs.Vote)
	root, err := t.RootForLeafAt(leaf, inputs.LeafIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", circuit.ErrInvalidInputs, err)
	}
	journal.RootHistory = selectRoots(journal.RootHistory, root, s.artifacts.Slots)

	assignment := s.publicAssignment(journal)
	assignment.PublicKey = [2]frontend.Variable{element(pubKey[:32]), element(pubKey[32:])}
	for i := range siblings {
		assignment.Siblings[i] = element(siblings[i])
		assignment.PathBits[i] = 0
		if bits[i] {
			assignment.PathBits[i] = 1
		}
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("failed to create witness: %w", err)
	}

	type result struct {
		proof groth16.Proof
		err   error
	}
	done := make(chan result, 1)
	startTime := time.Now()
	// groth16 proving cannot be interrupted, a cancelled call keeps running
	// in the background until it finishes.
	go func() {
		proof, err := groth16Prove(s.artifacts.CCS, s.artifacts.PK, witness)
		if ctx.Err() != nil {
			log.Warnw("membership proof finished after its caller gave up",
				"elapsed", time.Since(startTime).String(),
				"error", err)
		}
		done <- result{proof, err}
	}()
	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("groth16 prove: %w", res.err)
	}
	log.Debugw("membership proof generated", "elapsed", time.Since(startTime).String())

	var seal bytes.Buffer
	if _, err := res.proof.WriteTo(&seal); err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}
	data, err := circuit.EncodeJournal(journal)
	if err != nil {
		return nil, err
	}
	return &circuit.Proof{CircuitID: s.id, Seal: seal.Bytes(), Journal: data}, nil
}

// Verify checks the Groth16 proof against the public inputs rebuilt from the
// journal. Journal values must be canonical field encodings: an alias such
// as nullifier+r would be the same public input under a different key.
func (s *System) Verify(ctx context.Context, proof *circuit.Proof) (*circuit.Journal, error) {
	if err := circuit.CheckCircuit(s.id, proof); err != nil {
		return nil, err
	}
	journal, err := circuit.DecodeJournal(proof.Journal)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", circuit.ErrInvalidProof, err)
	}
	if err := s.checkJournal(journal); err != nil {
		return nil, fmt.Errorf("%w: %w", circuit.ErrInvalidProof, err)
	}
	witness, err := frontend.NewWitness(s.publicAssignment(journal), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: public witness: %w", circuit.ErrInvalidProof, err)
	}
	gproof := groth16.NewProof(ecc.BN254)
	if _, err := gproof.ReadFrom(bytes.NewReader(proof.Seal)); err != nil {
		return nil, fmt.Errorf("%w: decode seal: %w", circuit.ErrInvalidProof, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := groth16.Verify(gproof, s.artifacts.VK, witness); err != nil {
		return nil, fmt.Errorf("%w: %w", circuit.ErrInvalidProof, err)
	}
	return journal, nil
}

func (s *System) checkJournal(j *circuit.Journal) error {
	if !hash.IsCanonical(j.Nullifier) {
		return fmt.Errorf("non canonical nullifier %x", []byte(j.Nullifier))
	}
	if len(j.RootHistory) == 0 || len(j.RootHistory) > s.artifacts.Slots {
		return fmt.Errorf("journal carries %d roots, circuit accepts 1 to %d", len(j.RootHistory), s.artifacts.Slots)
	}
	for _, r := range j.RootHistory {
		if !hash.IsCanonical(r) {
			return fmt.Errorf("non canonical root %x", []byte(r))
		}
	}
	return checkVote(j.Vote)
}

// publicAssignment fills the public inputs; unused root slots repeat the
// last root, which leaves the membership product unchanged in meaning.
func (s *System) publicAssignment(j *circuit.Journal) *Circuit {
	a := NewPlaceholder(s.artifacts.Depth, s.artifacts.Slots)
	a.Nullifier = element(j.Nullifier)
	a.Vote = element([]byte(j.Vote))
	for i := range a.Roots {
		a.Roots[i] = element(j.RootHistory[min(i, len(j.RootHistory)-1)])
	}
	return a
}

func checkVote(vote string) error {
	if len(vote) == 0 || len(vote) > MaxVoteSize {
		return fmt.Errorf("vote must be 1 to %d bytes, got %d", MaxVoteSize, len(vote))
	}
	return nil
}

// selectRoots keeps the last slots roots, swapping the oldest of them for
// match when match is not among them. A swapped in root is public and dates
// the registration of the voter to that root.
func selectRoots(history []types.HexBytes, match []byte, slots int) []types.HexBytes {
	if len(history) <= slots {
		return history
	}
	window := types.CloneSlice(history[len(history)-slots:])
	for _, r := range window {
		if r.Equal(match) {
			return window
		}
	}
	window[0] = types.HexBytes(match).Clone()
	return window
}

func element(b []byte) *big.Int {
	e := hash.ToElement(b)
	return e.BigInt(new(big.Int))
}
