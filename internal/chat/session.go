package chat

import (
	"sync"
	"time"

	"github.com/nubank/calma-backend/internal"
	"github.com/nubank/calma-backend/internal/store"
)

// Session is the state owned by one chat user: the live transcript plus a
// little bookkeeping. Archived transcripts live in the shell's repository.
type Session struct {
	ID         string
	transcript *store.Transcript

	// turn serializes Submit, Archive and Restore so a snapshot never
	// splits a user turn from its reply.
	turn sync.Mutex

	mu            sync.Mutex
	proactiveSent bool
	lastSeen      time.Time
}

func NewSession(id string) *Session {
	return &Session{ID: id, transcript: store.NewTranscript(), lastSeen: time.Now()}
}

func (s *Session) Messages() []internal.Message { return s.transcript.All() }

func (s *Session) Len() int { return s.transcript.Len() }

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// hasUserTurns is false for a transcript holding only the greeting.
func (s *Session) hasUserTurns() bool {
	for _, m := range s.transcript.All() {
		if m.Role == internal.RoleUser {
			return true
		}
	}
	return false
}

// claimProactive returns true exactly once per session.
func (s *Session) claimProactive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proactiveSent {
		return false
	}
	s.proactiveSent = true
	return true
}

// Registry hands out sessions by ID, creating them on first use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	greeting string
	now      func() time.Time
}

func NewRegistry(greeting string) *Registry {
	return &Registry{sessions: make(map[string]*Session), greeting: greeting, now: time.Now}
}

// Get returns the session for id. New sessions are seeded with the greeting.
func (r *Registry) Get(id string) *Session {
	// touch under the lock so idle never evicts a session being handed out
	r.mu.RLock()
	s, ok := r.sessions[id]
	if ok {
		s.touch(r.now())
	}
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.touch(r.now())
		return s
	}
	s = NewSession(id)
	s.touch(r.now())
	store.SeedBotHello(s.transcript, r.greeting)
	r.sessions[id] = s
	return s
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// idle removes and returns the sessions not seen for longer than ttl.
func (r *Registry) idle(ttl time.Duration) []*Session {
	cutoff := r.now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			out = append(out, s)
			delete(r.sessions, id)
		}
	}
	return out
}
