package store

import (
	"context"
	"sync"
	"time"

	"github.com/nubank/calma-backend/internal"
)

// Transcript is the live, ordered message list of one chat session.
type Transcript struct {
	mu       sync.Mutex
	messages []internal.Message
}

func NewTranscript() *Transcript {
	return &Transcript{messages: make([]internal.Message, 0, 64)}
}

func (s *Transcript) All() []internal.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return internal.CloneMessages(s.messages)
}

func (s *Transcript) Append(msg internal.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *Transcript) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Reset drops every message. A fresh backing array is used so snapshots
// taken earlier with All never observe later appends.
func (s *Transcript) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]internal.Message, 0, 64)
}

// Replace swaps the content for a copy of msgs.
func (s *Transcript) Replace(msgs []internal.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = internal.CloneMessages(msgs)
}

func SeedBotHello(s *Transcript, text string) {
	if text == "" {
		return
	}
	s.Append(internal.Message{
		Role:      internal.RoleBot,
		Content:   text,
		CreatedAt: time.Now(),
	})
}

// MemoryArchive keeps archived sessions in process memory. Like the Redis
// key TTL, a session's archives expire once it has not saved for ttl.
type MemoryArchive struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntries
	ttl      time.Duration
	now      func() time.Time
}

type memoryEntries struct {
	entries []internal.ArchivedSession
	savedAt time.Time
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{sessions: make(map[string]*memoryEntries), ttl: archiveTTL, now: time.Now}
}

func (a *MemoryArchive) expired(e *memoryEntries, now time.Time) bool {
	return a.ttl > 0 && now.Sub(e.savedAt) > a.ttl
}

func (a *MemoryArchive) Save(_ context.Context, sessionID string, entry internal.ArchivedSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for id, e := range a.sessions {
		if a.expired(e, now) {
			delete(a.sessions, id)
		}
	}
	e, ok := a.sessions[sessionID]
	if !ok {
		e = &memoryEntries{}
		a.sessions[sessionID] = e
	}
	e.entries = append(e.entries, entry.Clone())
	e.savedAt = now
	return nil
}

func (a *MemoryArchive) List(_ context.Context, sessionID string) ([]internal.ArchivedSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.sessions[sessionID]
	if !ok || a.expired(e, a.now()) {
		return []internal.ArchivedSession{}, nil
	}
	out := make([]internal.ArchivedSession, len(e.entries))
	for i, entry := range e.entries {
		out[i] = entry.Clone()
	}
	return out, nil
}

func (a *MemoryArchive) Close() error { return nil }
