package state

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vocdoni/cypherpoll/types"
)

const (
	// ChallengeSize is the number of random bytes in a challenge.
	ChallengeSize = 32
	// DefaultChallengeTTL is how long an issued challenge stays valid.
	DefaultChallengeTTL = 5 * time.Minute
	// DefaultMaxChallenges bounds the outstanding challenges.
	DefaultMaxChallenges = 10000
)

// Challenge is a single use registration nonce.
type Challenge struct {
	Data      types.HexBytes `json:"challenge"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// ChallengeStore issues nonces that registrants sign, so a signature cannot
// be replayed in a later registration. The oldest challenges are dropped
// when the store is full.
type ChallengeStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending *expirable.LRU[string, time.Time]
}

// NewChallengeStore returns a store whose challenges live for ttl.
func NewChallengeStore(ttl time.Duration, size int) *ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	if size <= 0 {
		size = DefaultMaxChallenges
	}
	return &ChallengeStore{
		ttl:     ttl,
		pending: expirable.NewLRU[string, time.Time](size, nil, ttl),
	}
}

// Issue returns a fresh challenge.
func (s *ChallengeStore) Issue() (*Challenge, error) {
	data := make([]byte, ChallengeSize)
	if _, err := rand.Read(data); err != nil {
		return nil, fmt.Errorf("could not read random challenge: %w", err)
	}
	expires := time.Now().Add(s.ttl)
	s.mu.Lock()
	s.pending.Add(string(data), expires)
	s.mu.Unlock()
	return &Challenge{Data: data, ExpiresAt: expires}, nil
}

// Consume accepts a challenge once, while it has not expired.
func (s *ChallengeStore) Consume(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.pending.Get(string(data))
	if !ok || time.Now().After(expires) {
		return ErrInvalidChallenge
	}
	s.pending.Remove(string(data))
	return nil
}
