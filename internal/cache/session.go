package cache

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Sessions hands out the current session identifier. The id is minted
// lazily on first use and survives until Reset, which forces the next
// access to mint a fresh one. This replaces the original design's
// global mutable session variable with an explicit value that gets
// threaded through constructors.
type Sessions struct {
	mu      sync.Mutex
	current string
}

// Current returns the active session id, minting one if none exists.
func (s *Sessions) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		s.current = mintID()
	}
	return s.current
}

// Reset invalidates the active session id. Entries recorded under the
// old id become unreachable through Current.
func (s *Sessions) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
}

// mintID produces a short random token, the first segment of a UUID.
func mintID() string {
	u := uuid.NewString()
	if i := strings.IndexByte(u, '-'); i > 0 {
		return u[:i]
	}
	return u
}
