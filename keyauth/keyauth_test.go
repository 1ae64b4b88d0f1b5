package keyauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestHTTPAuthority(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		c.Check(r.Header.Get("Authorization"), qt.Equals, "Bearer secret")
		c.Check(r.Header.Get("Accept"), qt.Equals, "application/vnd.github+json")
		switch r.URL.Path {
		case "/users/alice/keys":
			_, _ = w.Write([]byte(`[{"raw_key":"02aa\r\nbb"},{"key":"03cc"},{"raw_key":""}]`))
		case "/users/carol/keys":
			_, _ = w.Write([]byte(`[{"raw_key":"-----BEGIN PGP PUBLIC KEY BLOCK-----\r\n\r\nxsBNBGKz\r\n-----END PGP PUBLIC KEY BLOCK-----"},{"raw_key":"02dd"}]`))
		case "/users/dave/keys":
			_, _ = w.Write([]byte(`[{"raw_key":"-----BEGIN PGP PUBLIC KEY BLOCK-----\n\nxsBNBGKz\n-----END PGP PUBLIC KEY BLOCK-----"}]`))
		case "/users/broken/keys":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("rate limited"))
		case "/users/garbled/keys":
			_, _ = w.Write([]byte(`{"not":"a list"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	auth, err := NewHTTP(HTTPConfig{
		Endpoint: srv.URL + "/users/" + IdentityPlaceholder + "/keys",
		Token:    "secret",
	})
	c.Assert(err, qt.IsNil)

	keys, err := auth.Keys(ctx, "alice")
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"02aa\nbb", "03cc"})

	// cached under the canonical identity
	keys, err = auth.Keys(ctx, " Alice")
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"02aa\nbb", "03cc"})
	c.Assert(calls.Load(), qt.Equals, int32(1))

	// armored OpenPGP blocks are not secp256k1 keys
	keys, err = auth.Keys(ctx, "carol")
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"02dd"})
	keys, err = auth.Keys(ctx, "dave")
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.HasLen, 0)

	_, err = auth.Keys(ctx, "nobody")
	c.Assert(err, qt.ErrorIs, ErrIdentityNotFound)

	_, err = auth.Keys(ctx, "broken")
	c.Assert(err, qt.ErrorIs, ErrUpstream)
	c.Assert(err, qt.ErrorMatches, ".*status 500: rate limited")

	_, err = auth.Keys(ctx, "garbled")
	c.Assert(err, qt.ErrorIs, ErrUpstream)

	// failures are not cached
	_, err = auth.Keys(ctx, "broken")
	c.Assert(err, qt.ErrorIs, ErrUpstream)
	c.Assert(calls.Load(), qt.Equals, int32(7))
}

func TestHTTPAuthorityConfig(t *testing.T) {
	c := qt.New(t)

	_, err := NewHTTP(HTTPConfig{Endpoint: "https://example.com/keys"})
	c.Assert(err, qt.ErrorMatches, `endpoint .* has no \{identity\} placeholder`)

	_, err = NewHTTP(HTTPConfig{})
	c.Assert(err, qt.ErrorIs, ErrNoEndpoint)

	auth, err := NewHTTP(HTTPConfig{Endpoint: "https://keys.example.com/" + IdentityPlaceholder})
	c.Assert(err, qt.IsNil)
	c.Assert(auth.cache, qt.IsNotNil)
	c.Assert(auth.Canonical("  AlIcE "), qt.Equals, "alice")
}

func TestStatic(t *testing.T) {
	c := qt.New(t)

	path := filepath.Join(t.TempDir(), "keys.json")
	c.Assert(os.WriteFile(path, []byte(`{"alice":["02aa"]}`), 0o600), qt.IsNil)
	s, err := LoadStatic(path)
	c.Assert(err, qt.IsNil)

	keys, err := s.Keys(context.Background(), "alice")
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"02aa"})
	_, err = s.Keys(context.Background(), "bob")
	c.Assert(err, qt.ErrorIs, ErrIdentityNotFound)
	c.Assert(s.Canonical("Alice"), qt.Equals, "Alice")

	c.Assert(os.WriteFile(path, []byte(`[]`), 0o600), qt.IsNil)
	_, err = LoadStatic(path)
	c.Assert(err, qt.ErrorMatches, "decode .*")
}
