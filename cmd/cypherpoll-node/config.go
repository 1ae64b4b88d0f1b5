package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vocdoni/cypherpoll/crypto/hash"
	"github.com/vocdoni/cypherpoll/keyauth"
	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/service"
	"github.com/vocdoni/cypherpoll/state"
	"github.com/vocdoni/cypherpoll/tree"
)

const (
	defaultAPIHost   = "0.0.0.0"
	defaultAPIPort   = 9090
	defaultLogLevel  = "info"
	defaultLogOutput = "stdout"
	envPrefix        = "CYPHERPOLL"
)

// Version is the build version, set at build time with -ldflags
var Version = "dev"

// Config holds the application configuration
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Tree      TreeConfig      `mapstructure:"tree"`
	Roots     RootsConfig     `mapstructure:"roots"`
	Prover    ProverConfig    `mapstructure:"prover"`
	Keys      KeysConfig      `mapstructure:"keys"`
	Challenge ChallengeConfig `mapstructure:"challenge"`
	Vote      VoteConfig      `mapstructure:"vote"`
	Log       LogConfig       `mapstructure:"log"`
}

// APIConfig holds the API-specific configuration
type APIConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	VoteTimeout time.Duration `mapstructure:"voteTimeout"`
}

// TreeConfig holds the registration tree configuration
type TreeConfig struct {
	Depth  int    `mapstructure:"depth"`
	Hasher string `mapstructure:"hasher"`
}

// RootsConfig holds the root history configuration
type RootsConfig struct {
	Size int `mapstructure:"size"`
}

// ProverConfig holds the proof backend configuration
type ProverConfig struct {
	Type      string `mapstructure:"type"`
	DevKey    string `mapstructure:"devKey"`
	Artifacts string `mapstructure:"artifacts"`
	BindVote  bool   `mapstructure:"bindVote"`
}

// KeysConfig holds the key authority configuration
type KeysConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Token     string        `mapstructure:"token"`
	Static    string        `mapstructure:"static"`
	CacheTTL  time.Duration `mapstructure:"cacheTTL"`
	CacheSize int           `mapstructure:"cacheSize"`
}

// ChallengeConfig holds the registration challenge configuration
type ChallengeConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// VoteConfig holds the accepted vote options
type VoteConfig struct {
	Options []string `mapstructure:"options"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Output      string `mapstructure:"output"`
	ErrorOutput string `mapstructure:"errorOutput"`
}

// loadConfig loads configuration from flags, environment variables, and defaults
func loadConfig(args []string) (*Config, error) {
	v := viper.New()
	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("tree.depth", state.DefaultDepth)
	v.SetDefault("tree.hasher", hash.Default)
	v.SetDefault("prover.type", service.ProverDev)
	v.SetDefault("prover.bindVote", true)
	v.SetDefault("challenge.ttl", state.DefaultChallengeTTL)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)

	fs := flag.NewFlagSet("cypherpoll-node", flag.ContinueOnError)
	fs.StringP("api.host", "a", defaultAPIHost, "API host")
	fs.IntP("api.port", "p", defaultAPIPort, "API port")
	fs.Duration("api.voteTimeout", 0, "timeout of vote requests (default 600s)")
	fs.IntP("tree.depth", "d", state.DefaultDepth, fmt.Sprintf("registration tree depth (1-%d)", tree.MaxDepth))
	fs.String("tree.hasher", hash.Default, fmt.Sprintf("tree hasher %v", hash.Names()))
	fs.Int("roots.size", 0, "number of recent roots accepted in votes (0 keeps every root)")
	fs.String("prover.type", service.ProverDev, "proof backend (dev, groth16)")
	fs.String("prover.devKey", "", "dev prover address or private key (dev backend)")
	fs.String("prover.artifacts", "", "directory with the groth16 artifacts written by cypherpoll-cli setup")
	fs.Bool("prover.bindVote", true, "bind the vote into the registered leaf")
	fs.String("keys.endpoint", "", "secp256k1 key listing endpoint, "+keyauth.IdentityPlaceholder+" is replaced by the identity")
	fs.String("keys.token", "", "bearer token for the key listing endpoint")
	fs.String("keys.static", "", "JSON file mapping identities to keys, replaces the endpoint")
	fs.Duration("keys.cacheTTL", keyauth.DefaultCacheTTL, "key lookup cache TTL")
	fs.Int("keys.cacheSize", keyauth.DefaultCacheSize, "key lookup cache size")
	fs.Bool("challenge.enabled", false, "require registrations to sign an issued challenge")
	fs.Duration("challenge.ttl", state.DefaultChallengeTTL, "challenge lifetime")
	fs.StringSlice("vote.options", nil, "accepted votes, comma-separated (any non empty vote if unset)")
	fs.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	fs.String("log.errorOutput", "", "additional output for warnings and errors")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "cypherpoll-node %s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: cypherpoll-node [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  with dots (.) replaced by underscores (_) and the %s_ prefix.\n", envPrefix)
		fmt.Fprintf(os.Stderr, "  For example, %s_API_PORT or %s_PROVER_DEVKEY\n", envPrefix, envPrefix)
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Dev backend, keys from a static file\n")
		fmt.Fprintf(os.Stderr, "  cypherpoll-node --prover.devKey=0x71C7656EC7ab88b098defB751B7401B5f6d8976F --keys.static=keys.json\n\n")
		fmt.Fprintf(os.Stderr, "  # Groth16 backend\n")
		fmt.Fprintf(os.Stderr, "  cypherpoll-node --tree.hasher=mimc --prover.type=groth16 --prover.artifacts=./artifacts\n")
	}
	fs.SortFlags = false
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Tree.Depth < 1 || cfg.Tree.Depth > tree.MaxDepth {
		return fmt.Errorf("invalid tree depth %d, must be between 1 and %d", cfg.Tree.Depth, tree.MaxDepth)
	}
	if !slices.Contains(hash.Names(), cfg.Tree.Hasher) {
		return fmt.Errorf("invalid hasher %s, available hashers: %v", cfg.Tree.Hasher, hash.Names())
	}
	if cfg.Roots.Size < 0 {
		return fmt.Errorf("invalid root history size %d", cfg.Roots.Size)
	}
	switch cfg.Prover.Type {
	case service.ProverDev:
		if cfg.Prover.DevKey == "" {
			return fmt.Errorf("dev prover key or address is required (use --prover.devKey or %s_PROVER_DEVKEY)", envPrefix)
		}
	case service.ProverGroth16:
		if cfg.Prover.Artifacts == "" {
			return fmt.Errorf("groth16 artifacts directory is required (use --prover.artifacts)")
		}
		if cfg.Tree.Hasher != hash.MiMC {
			return fmt.Errorf("groth16 prover requires --tree.hasher=%s", hash.MiMC)
		}
		if !cfg.Prover.BindVote {
			return fmt.Errorf("groth16 prover requires --prover.bindVote")
		}
	default:
		return fmt.Errorf("invalid prover type %s", cfg.Prover.Type)
	}
	switch {
	case cfg.Keys.Static != "":
	case cfg.Keys.Endpoint == "":
		return fmt.Errorf("a key authority is required: set --keys.static or --keys.endpoint")
	case !strings.Contains(cfg.Keys.Endpoint, keyauth.IdentityPlaceholder):
		return fmt.Errorf("keys endpoint must contain %s", keyauth.IdentityPlaceholder)
	}
	for _, o := range cfg.Vote.Options {
		if o == "" {
			return fmt.Errorf("empty vote option")
		}
	}
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	return nil
}

// pollConfig maps the configuration into the service poll settings.
func (cfg *Config) pollConfig() service.PollConfig {
	return service.PollConfig{
		Depth:           cfg.Tree.Depth,
		Hasher:          cfg.Tree.Hasher,
		RootHistorySize: cfg.Roots.Size,
		VoteOptions:     cfg.Vote.Options,
		Challenges:      cfg.Challenge.Enabled,
		ChallengeTTL:    cfg.Challenge.TTL,
		Prover: service.ProverConfig{
			Type:      cfg.Prover.Type,
			DevKey:    cfg.Prover.DevKey,
			Artifacts: cfg.Prover.Artifacts,
			BindVote:  cfg.Prover.BindVote,
		},
		Keys: service.KeysConfig{
			Endpoint:  cfg.Keys.Endpoint,
			Token:     cfg.Keys.Token,
			Static:    cfg.Keys.Static,
			CacheSize: cfg.Keys.CacheSize,
			CacheTTL:  cfg.Keys.CacheTTL,
		},
	}
}
