package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	apiclient "github.com/vocdoni/cypherpoll/api/client"
	"github.com/vocdoni/cypherpoll/circuit"
	"github.com/vocdoni/cypherpoll/circuit/membership"
	"github.com/vocdoni/cypherpoll/client"
	"github.com/vocdoni/cypherpoll/crypto/signatures/ethereum"
	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/service"
	"github.com/vocdoni/cypherpoll/storage"
)

var identityFlag = &cli.StringFlag{Name: "identity", Aliases: []string{"i"}, Usage: "external identity (e.g. GitHub user)", Required: true}

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "generate and store the signing key of an identity",
	Flags: []cli.Flag{
		identityFlag,
		&cli.StringFlag{Name: "key", Usage: "import this hex private key instead of generating one"},
		&cli.BoolFlag{Name: "force", Usage: "replace an existing key"},
	},
	Action: func(c *cli.Context) error {
		store, err := storage.Open(c.String("store"))
		if err != nil {
			return err
		}
		defer store.Close()
		id := c.String("identity")
		if _, err := store.Key(id); err == nil && !c.Bool("force") {
			return fmt.Errorf("identity %s already has a key, use --force to replace it", id)
		}
		var signer *ethereum.Signer
		if key := c.String("key"); key != "" {
			signer, err = ethereum.NewSignerFromHex(key)
		} else {
			signer, err = ethereum.NewSigner()
		}
		if err != nil {
			return err
		}
		if err := store.SaveKey(id, signer.HexPrivateKey()); err != nil {
			return err
		}
		return printJSON(map[string]string{
			"identity":  id,
			"publicKey": signer.CompressedPublicKey().Hex(),
			"address":   signer.Address().Hex(),
		})
	},
}

var registerCommand = &cli.Command{
	Name:  "register",
	Usage: "register an identity in the poll",
	Flags: []cli.Flag{
		identityFlag,
		&cli.StringFlag{Name: "vote", Usage: "vote bound at registration, required when the poll binds votes"},
	},
	Action: func(c *cli.Context) error {
		env, err := openEnv(c, nil)
		if err != nil {
			return err
		}
		defer env.close()
		id := c.String("identity")
		signer, err := env.signer(id)
		if err != nil {
			return err
		}
		voter, err := env.client.Register(c.Context, id, signer, c.String("vote"))
		if err != nil {
			return err
		}
		out := map[string]any{"identity": id, "leafIndex": voter.LeafIndex}
		if n := len(voter.RootHistory); n > 0 {
			out["root"] = voter.RootHistory[n-1]
		}
		return printJSON(out)
	},
}

var voteCommand = &cli.Command{
	Name:  "vote",
	Usage: "prove membership and cast the vote of an identity",
	Flags: []cli.Flag{
		identityFlag,
		&cli.StringFlag{Name: "vote", Usage: "vote to cast, defaults to the vote given at registration"},
		&cli.StringFlag{Name: "prover", Usage: "proof backend (dev, groth16)", Value: service.ProverDev},
		&cli.StringFlag{Name: "dev-key", Usage: "dev prover private key", EnvVars: []string{"CYPHERPOLL_PROVER_DEVKEY"}},
		&cli.StringFlag{Name: "artifacts", Usage: "groth16 artifacts directory"},
		&cli.DurationFlag{Name: "prove-timeout", Usage: "proof generation timeout", Value: client.DefaultProveTimeout},
		&cli.DurationFlag{Name: "vote-timeout", Usage: "vote submission timeout", Value: apiclient.DefaultVoteTimeout},
	},
	Action: func(c *cli.Context) error {
		env, err := openEnv(c, func(env *cliEnv) (*client.Client, error) {
			info, err := env.api.Info(c.Context)
			if err != nil {
				return nil, err
			}
			prover, err := service.NewProofSystem(service.ProverConfig{
				Type:      c.String("prover"),
				DevKey:    c.String("dev-key"),
				Artifacts: c.String("artifacts"),
				BindVote:  info.BindVote,
			}, info.Hasher, false)
			if err != nil {
				return nil, err
			}
			env.api.SetVoteTimeout(c.Duration("vote-timeout"))
			return client.New(client.Config{
				Store:        env.store,
				API:          env.api,
				Prover:       prover,
				ProveTimeout: c.Duration("prove-timeout"),
			})
		})
		if err != nil {
			return err
		}
		defer env.close()
		receipt, err := env.client.Vote(c.Context, c.String("identity"), c.String("vote"))
		if err != nil {
			return err
		}
		return printJSON(receipt)
	},
}

// the membership circuit only supports votes bound at registration
var bindVotes = circuit.Params{BindVote: true}

var setupCommand = &cli.Command{
	Name:  "setup",
	Usage: "compile the groth16 membership circuit and write its keys",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "depth", Usage: "tree depth", Value: 5},
		&cli.IntFlag{Name: "slots", Usage: "roots carried by each proof", Value: 4},
		&cli.StringFlag{Name: "output", Usage: "output directory", Required: true},
	},
	Action: func(c *cli.Context) error {
		log.Infow("running groth16 setup", "depth", c.Int("depth"), "slots", c.Int("slots"))
		start := time.Now()
		artifacts, err := membership.Setup(c.Int("depth"), c.Int("slots"))
		if err != nil {
			return err
		}
		if err := artifacts.Write(c.String("output")); err != nil {
			return err
		}
		system, err := membership.New(bindVotes, artifacts)
		if err != nil {
			return err
		}
		log.Infow("setup done", "took", time.Since(start).String(), "output", c.String("output"))
		return printJSON(map[string]any{
			"circuitId": system.CircuitID(),
			"hashes":    artifacts.Hashes,
		})
	},
}

var infoCommand = &cli.Command{
	Name:  "info",
	Usage: "show the poll settings and the identities in the store",
	Action: func(c *cli.Context) error {
		env, err := openEnv(c, nil)
		if err != nil {
			return err
		}
		defer env.close()
		info, err := env.api.Info(c.Context)
		if err != nil {
			return err
		}
		voters, err := env.store.Voters()
		if err != nil {
			return err
		}
		type voterSummary struct {
			Identity   string `json:"identity"`
			Registered bool   `json:"registered"`
			LeafIndex  uint64 `json:"leafIndex"`
			VoteID     string `json:"voteId,omitempty"`
		}
		summaries := make([]voterSummary, 0, len(voters))
		for _, v := range voters {
			s := voterSummary{Identity: v.ExternalIdentity, Registered: v.Registered(), LeafIndex: v.LeafIndex}
			if v.Receipt != nil {
				s.VoteID = v.Receipt.ID
			}
			summaries = append(summaries, s)
		}
		return printJSON(map[string]any{"poll": info, "voters": summaries})
	},
}

func printJSON(v any) error {
	data, err := storage.EncodeArtifact(v, storage.ArtifactEncodingJSON)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cypherpoll")
}

var errNoKey = errors.New("no key for identity, run keygen first")
