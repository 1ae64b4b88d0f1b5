package main

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/keyauth"
	"github.com/vocdoni/cypherpoll/service"
)

func TestLoadConfigDefaults(t *testing.T) {
	c := qt.New(t)
	cfg, err := loadConfig(nil)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.API.Port, qt.Equals, defaultAPIPort)
	c.Assert(cfg.Tree.Depth, qt.Equals, 5)
	c.Assert(cfg.Tree.Hasher, qt.Equals, hash.SHA256)
	c.Assert(cfg.Roots.Size, qt.Equals, 0)
	c.Assert(cfg.Prover.Type, qt.Equals, service.ProverDev)
	c.Assert(cfg.Prover.BindVote, qt.IsTrue)
	c.Assert(cfg.Keys.Endpoint, qt.Equals, "")

	// a dev key is required
	c.Assert(validateConfig(cfg), qt.ErrorMatches, "dev prover key or address is required.*")
}

func TestLoadConfigFlagsAndEnv(t *testing.T) {
	c := qt.New(t)
	c.Setenv("CYPHERPOLL_PROVER_DEVKEY", "0x71C7656EC7ab88b098defB751B7401B5f6d8976F")
	c.Setenv("CYPHERPOLL_ROOTS_SIZE", "30")
	cfg, err := loadConfig([]string{
		"--api.port=8000",
		"--tree.hasher=keccak256",
		"--vote.options=yes,no",
		"--challenge.enabled",
		"--keys.cacheTTL=1m",
		"--keys.endpoint=https://keys.example.com/" + keyauth.IdentityPlaceholder,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.API.Port, qt.Equals, 8000)
	c.Assert(cfg.Tree.Hasher, qt.Equals, hash.Keccak256)
	c.Assert(cfg.Roots.Size, qt.Equals, 30)
	c.Assert(cfg.Prover.DevKey, qt.Equals, "0x71C7656EC7ab88b098defB751B7401B5f6d8976F")
	c.Assert(cfg.Vote.Options, qt.DeepEquals, []string{"yes", "no"})
	c.Assert(cfg.Challenge.Enabled, qt.IsTrue)
	c.Assert(cfg.Keys.CacheTTL, qt.Equals, time.Minute)
	c.Assert(validateConfig(cfg), qt.IsNil)

	poll := cfg.pollConfig()
	c.Assert(poll.RootHistorySize, qt.Equals, 30)
	c.Assert(poll.Prover.DevKey, qt.Equals, cfg.Prover.DevKey)
}

func TestValidateConfig(t *testing.T) {
	c := qt.New(t)
	valid := func() *Config {
		cfg, err := loadConfig([]string{"--prover.devKey=0x71C7656EC7ab88b098defB751B7401B5f6d8976F", "--keys.static=keys.json"})
		c.Assert(err, qt.IsNil)
		return cfg
	}
	c.Assert(validateConfig(valid()), qt.IsNil)

	tests := []struct {
		name   string
		mutate func(*Config)
		err    string
	}{
		{"depth", func(cfg *Config) { cfg.Tree.Depth = 33 }, "invalid tree depth 33.*"},
		{"hasher", func(cfg *Config) { cfg.Tree.Hasher = "md5" }, "invalid hasher md5.*"},
		{"roots", func(cfg *Config) { cfg.Roots.Size = -1 }, "invalid root history size -1"},
		{"prover", func(cfg *Config) { cfg.Prover.Type = "stark" }, "invalid prover type stark"},
		{"groth16 hasher", func(cfg *Config) {
			cfg.Prover.Type = service.ProverGroth16
			cfg.Prover.Artifacts = "artifacts"
		}, "groth16 prover requires --tree.hasher=mimc"},
		{"groth16 binding", func(cfg *Config) {
			cfg.Prover.Type = service.ProverGroth16
			cfg.Prover.Artifacts = "artifacts"
			cfg.Tree.Hasher = hash.MiMC
			cfg.Prover.BindVote = false
		}, "groth16 prover requires --prover.bindVote"},
		{"no authority", func(cfg *Config) { cfg.Keys.Static = "" }, "a key authority is required.*"},
		{"endpoint", func(cfg *Config) {
			cfg.Keys.Static = ""
			cfg.Keys.Endpoint = "https://example.com/keys"
		}, "keys endpoint must contain .*"},
		{"options", func(cfg *Config) { cfg.Vote.Options = []string{"yes", ""} }, "empty vote option"},
		{"log level", func(cfg *Config) { cfg.Log.Level = "loud" }, `invalid log level: "loud"`},
	}
	for _, test := range tests {
		c.Run(test.name, func(c *qt.C) {
			cfg := valid()
			test.mutate(cfg)
			c.Assert(validateConfig(cfg), qt.ErrorMatches, test.err)
		})
	}
}
