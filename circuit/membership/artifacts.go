package membership

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/vocdoni/cypherpoll/log"
)

const (
	CircuitFile      = "membership.ccs"
	ProvingKeyFile   = "membership.pk"
	VerifyingKeyFile = "membership.vk"
	MetadataFile     = "membership.json"
)

// ErrNoProvingKey is returned when proving with verifier-only artifacts.
var ErrNoProvingKey = errors.New("proving key not loaded")

// Metadata describes the shape the artifacts were compiled for, and the
// SHA256 of each artifact file.
type Metadata struct {
	Depth  int               `json:"depth"`
	Slots  int               `json:"slots"`
	Hashes map[string]string `json:"hashes,omitempty"`
}

// Artifacts bundles the compiled circuit and its keys. CCS and PK are nil
// for a verifier-only load.
type Artifacts struct {
	Metadata
	CCS constraint.ConstraintSystem
	PK  groth16.ProvingKey
	VK  groth16.VerifyingKey
}

// Setup compiles the circuit and runs a single party Groth16 setup. The
// resulting keys are only as trustworthy as the machine that ran it.
func Setup(depth, slots int) (*Artifacts, error) {
	if depth < 1 || slots < 1 {
		return nil, fmt.Errorf("invalid circuit shape: depth %d, slots %d", depth, slots)
	}
	startTime := time.Now()
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewPlaceholder(depth, slots))
	if err != nil {
		return nil, fmt.Errorf("compile membership circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("setup membership circuit: %w", err)
	}
	log.Infow("membership circuit compiled",
		"depth", depth,
		"slots", slots,
		"constraints", ccs.GetNbConstraints(),
		"elapsed", time.Since(startTime).String())
	return &Artifacts{Metadata: Metadata{Depth: depth, Slots: slots}, CCS: ccs, PK: pk, VK: vk}, nil
}

// Write stores every artifact in dir, creating it if needed.
func (a *Artifacts) Write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	a.Hashes = make(map[string]string)
	files := []struct {
		name string
		obj  io.WriterTo
	}{
		{CircuitFile, a.CCS},
		{ProvingKeyFile, a.PK},
		{VerifyingKeyFile, a.VK},
	}
	for _, f := range files {
		if f.obj == nil {
			continue
		}
		sum, err := writeToFile(filepath.Join(dir, f.name), f.obj)
		if err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		a.Hashes[f.name] = sum
	}
	meta, err := json.MarshalIndent(a.Metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MetadataFile), meta, 0o644)
}

// Load reads the artifacts in dir. With verifierOnly set, the constraint
// system and proving key are skipped.
func Load(dir string, verifierOnly bool) (*Artifacts, error) {
	a := &Artifacts{}
	meta, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &a.Metadata); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MetadataFile, err)
	}
	a.VK = groth16.NewVerifyingKey(ecc.BN254)
	if err := readFromFile(filepath.Join(dir, VerifyingKeyFile), a.VK); err != nil {
		return nil, err
	}
	if verifierOnly {
		return a, nil
	}
	a.CCS = groth16.NewCS(ecc.BN254)
	if err := readFromFile(filepath.Join(dir, CircuitFile), a.CCS); err != nil {
		return nil, err
	}
	a.PK = groth16.NewProvingKey(ecc.BN254)
	if err := readFromFile(filepath.Join(dir, ProvingKeyFile), a.PK); err != nil {
		return nil, err
	}
	return a, nil
}

// VerifyingKeyDigest returns the SHA256 of the serialized verifying key.
func (a *Artifacts) VerifyingKeyDigest() (string, error) {
	var buf bytes.Buffer
	if _, err := a.VK.WriteTo(&buf); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// writeToFile writes through a temporary file and returns the SHA256 of the
// content.
func writeToFile(path string, obj io.WriterTo) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnw("failed to remove temp file", "file", tmp.Name(), "error", err)
		}
	}()
	hashFn := sha256.New()
	if _, err := obj.WriteTo(io.MultiWriter(tmp, hashFn)); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return hex.EncodeToString(hashFn.Sum(nil)), nil
}

func readFromFile(path string, obj io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warnw("failed to close artifact", "file", path, "error", err)
		}
	}()
	if _, err := obj.ReadFrom(f); err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return nil
}
