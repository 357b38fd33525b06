package web

import (
	"strconv"
	"sync"
	"time"

	"github.com/goliatone/go-formflow/pkg/form"
)

// DefaultSessionTTL is how long an untouched wizard is kept.
const DefaultSessionTTL = 30 * time.Minute

// sessionStore keeps one wizard per identity and service so answers and
// uploaded files survive between steps.
type sessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*storedSession
}

type storedSession struct {
	sess    *form.Session
	touched time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessionStore{ttl: ttl, now: time.Now, entries: make(map[string]*storedSession)}
}

func sessionKey(identity string, serviceID int) string {
	return identity + "\x00" + strconv.Itoa(serviceID)
}

// load returns the live session for key, creating one when none exists or
// the previous one was completed.
func (s *sessionStore) load(key string, create func() (*form.Session, error)) (*form.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	if entry, ok := s.entries[key]; ok && !entry.sess.Completed() {
		entry.touched = now
		return entry.sess, nil
	}
	sess, err := create()
	if err != nil {
		return nil, err
	}
	s.entries[key] = &storedSession{sess: sess, touched: now}
	return sess, nil
}

func (s *sessionStore) drop(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *sessionStore) sweepLocked(now time.Time) {
	for key, entry := range s.entries {
		if now.Sub(entry.touched) > s.ttl && !entry.sess.Submitting() {
			delete(s.entries, key)
		}
	}
}
