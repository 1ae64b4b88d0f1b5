// Package keyauth asks an external authority which public keys belong to an
// external identity, such as the keys a user published on their GitHub
// account.
package keyauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vocdoni/cypherpoll/log"
)

const (
	// IdentityPlaceholder is replaced by the identity in endpoint templates.
	IdentityPlaceholder = "{identity}"

	DefaultCacheSize = 1024
	DefaultCacheTTL  = 5 * time.Minute
	defaultTimeout   = 10 * time.Second
	maxResponseSize  = 1 << 20
)

// openPGPArmor starts the ASCII armored OpenPGP blocks GitHub returns from
// its gpg_keys listing. They cannot sign registrations.
const openPGPArmor = "-----BEGIN PGP"

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrUpstream         = errors.New("key authority request failed")
	ErrNoEndpoint       = errors.New("key authority endpoint is required")
)

// Authority lists the raw public key blocks of an identity.
type Authority interface {
	// Canonical returns the form of identity under which the authority
	// resolves it. Two names with the same canonical form are one identity.
	Canonical(identity string) string
	Keys(ctx context.Context, identity string) ([]string, error)
}

// HTTPConfig configures an HTTPAuthority.
type HTTPConfig struct {
	// Endpoint is a URL template containing IdentityPlaceholder.
	Endpoint  string
	Token     string
	CacheSize int
	CacheTTL  time.Duration
	Client    *http.Client
}

// HTTPAuthority queries a GitHub style key listing endpoint: a JSON array of
// objects with a "raw_key" or "key" field holding hex secp256k1 public keys.
// OpenPGP armored blocks are dropped. Identities are case-insensitive, as
// GitHub user names are, and answers are cached per canonical identity.
type HTTPAuthority struct {
	endpoint string
	token    string
	client   *http.Client
	cache    *expirable.LRU[string, []string]
}

var _ Authority = (*HTTPAuthority)(nil)

// NewHTTP returns an HTTPAuthority, filling unset config values with
// defaults.
func NewHTTP(conf HTTPConfig) (*HTTPAuthority, error) {
	if conf.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if !strings.Contains(conf.Endpoint, IdentityPlaceholder) {
		return nil, fmt.Errorf("endpoint %q has no %s placeholder", conf.Endpoint, IdentityPlaceholder)
	}
	if conf.CacheSize <= 0 {
		conf.CacheSize = DefaultCacheSize
	}
	if conf.CacheTTL <= 0 {
		conf.CacheTTL = DefaultCacheTTL
	}
	if conf.Client == nil {
		conf.Client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPAuthority{
		endpoint: conf.Endpoint,
		token:    conf.Token,
		client:   conf.Client,
		cache:    expirable.NewLRU[string, []string](conf.CacheSize, nil, conf.CacheTTL),
	}, nil
}

type keyEntry struct {
	RawKey string `json:"raw_key"`
	Key    string `json:"key"`
}

// Canonical trims and lowercases identity.
func (*HTTPAuthority) Canonical(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Keys returns the key blocks listed for identity. Failed lookups are not
// cached.
func (a *HTTPAuthority) Keys(ctx context.Context, identity string) ([]string, error) {
	identity = a.Canonical(identity)
	if keys, ok := a.cache.Get(identity); ok {
		return keys, nil
	}
	endpoint := strings.ReplaceAll(a.endpoint, IdentityPlaceholder, url.PathEscape(identity))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "cypherpoll")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("failed to close key authority response", "error", err)
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, identity)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var entries []keyEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		key := e.RawKey
		if key == "" {
			key = e.Key
		}
		key = strings.TrimSpace(strings.ReplaceAll(key, "\r\n", "\n"))
		switch {
		case key == "":
		case strings.HasPrefix(key, openPGPArmor):
			log.Debugw("skipping OpenPGP key block", "identity", identity)
		default:
			keys = append(keys, key)
		}
	}
	a.cache.Add(identity, keys)
	log.Debugw("key authority lookup", "identity", identity, "keys", len(keys))
	return keys, nil
}

// Static is an in-memory authority.
type Static map[string][]string

var _ Authority = Static(nil)

// Canonical returns identity unchanged: static maps are matched exactly.
func (Static) Canonical(identity string) string {
	return identity
}

// Keys returns the keys of identity or ErrIdentityNotFound.
func (s Static) Keys(_ context.Context, identity string) ([]string, error) {
	keys, ok := s[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, identity)
	}
	return keys, nil
}

// LoadStatic reads a JSON object mapping identities to key lists.
func LoadStatic(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := Static{}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}
