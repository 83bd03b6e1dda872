package session

import (
	"log"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/islandproperties/concierge/backend/internal/model/chat"
)

// Reason explains a rejected admission.
type Reason string

const (
	ReasonQuotaExceeded Reason = "quota_exceeded"
	ReasonCircuitOpen   Reason = "circuit_open"
)

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed      bool
	Reason       Reason
	MessageCount int
	Remaining    int
}

// Config bounds per-session usage.
type Config struct {
	MaxMessages      int
	Timeout          time.Duration
	CircuitThreshold int
	// MaxEntries caps the number of tracked sessions; the least recently
	// admitted one is evicted to make room.
	MaxEntries int
	Now        func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxMessages <= 0 {
		c.MaxMessages = 50
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Minute
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 5
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Store tracks message quota and upstream failures per session key. State is
// process-local and lost on restart. Entries live in an LRU bounded by
// MaxEntries whose TTL drops sessions once their window has passed.
type Store struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *chat.Session]
	cfg      Config
}

// NewStore creates the store.
func NewStore(cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		sessions: expirable.NewLRU[string, *chat.Session](cfg.MaxEntries, nil, cfg.Timeout),
		cfg:      cfg,
	}
}

// Admit checks and, when allowed, consumes one message of the session quota.
// An expired session is reset before the checks. Quota is checked before the
// circuit breaker.
func (s *Store) Admit(key string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	sess, ok := s.sessions.Get(key)
	if ok && now.Sub(sess.StartedAt) > s.cfg.Timeout {
		log.Printf("[session] session=%s expired, resetting", key)
		sess.MessageCount = 0
		sess.ConsecutiveFailures = 0
		sess.StartedAt = now
		s.sessions.Add(key, sess)
	}
	if !ok {
		sess = &chat.Session{Key: key, StartedAt: now}
		s.sessions.Add(key, sess)
	}

	if sess.MessageCount >= s.cfg.MaxMessages {
		return Decision{Reason: ReasonQuotaExceeded, MessageCount: sess.MessageCount}
	}
	if sess.ConsecutiveFailures >= s.cfg.CircuitThreshold {
		return Decision{
			Reason:       ReasonCircuitOpen,
			MessageCount: sess.MessageCount,
			Remaining:    s.cfg.MaxMessages - sess.MessageCount,
		}
	}

	sess.MessageCount++
	return Decision{
		Allowed:      true,
		MessageCount: sess.MessageCount,
		Remaining:    s.cfg.MaxMessages - sess.MessageCount,
	}
}

// RecordSuccess closes the circuit for key.
func (s *Store) RecordSuccess(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions.Peek(key); ok {
		sess.ConsecutiveFailures = 0
	}
}

// RecordFailure counts one upstream failure and returns the new streak.
func (s *Store) RecordFailure(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions.Peek(key)
	if !ok {
		return 0
	}
	sess.ConsecutiveFailures++
	if sess.ConsecutiveFailures == s.cfg.CircuitThreshold {
		log.Printf("[session] circuit opened for session=%s", key)
	}
	return sess.ConsecutiveFailures
}

// Get returns a snapshot of the session.
func (s *Store) Get(key string) (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions.Peek(key)
	if !ok {
		return chat.Session{}, false
	}
	return *sess, true
}

// Len reports the number of tracked sessions.
func (s *Store) Len() int {
	return s.sessions.Len()
}

// Close drops all sessions.
func (s *Store) Close() {
	s.sessions.Purge()
}
