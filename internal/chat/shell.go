// Package chat implements the chat session shell: it records user and bot
// turns, asks the provider for replies and archives or restores transcripts.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/nubank/calma-backend/internal"
	"github.com/nubank/calma-backend/internal/provider"
	"github.com/nubank/calma-backend/internal/store"
)

// ArchiveNameLayout names archived sessions by the moment they were saved.
const ArchiveNameLayout = "2006-01-02 15:04:05"

const (
	DefaultFallback       = "Sorry, I didn't quite get that. Could you say it another way?"
	DefaultProactive      = "It seems like you have been asking multiple questions. Do you need further assistance or would you like to talk to a human support?"
	DefaultProactiveAfter = 3
)

var ErrEmptyMessage = errors.New("message content is required")

var quickQuestions = []string{
	"How can I get help for my depression?",
	"How can I cope with my anxiety?",
	"What are some tips for managing stress?",
	"How can I improve my sleep?",
	"Why do I feel so tired all the time?",
	"What are the side effects of antidepressants?",
	"How do I know if I need to see a therapist?",
	"What causes depression?",
	"How does exercise affect depression?",
	"What are the signs of a mental health crisis?",
}

type Options struct {
	Fallback string
	// ProactiveAfter is the transcript length past which the human support
	// offer is posted once per session. Zero or less disables it.
	ProactiveAfter int
	Proactive      string
	Recorder       store.Recorder
	Now            func() time.Time
}

type Shell struct {
	provider       provider.ChatProvider
	archive        store.ArchiveRepository
	recorder       store.Recorder
	fallback       string
	proactive      string
	proactiveAfter int
	now            func() time.Time
}

func NewShell(p provider.ChatProvider, archive store.ArchiveRepository, opts Options) *Shell {
	sh := &Shell{
		provider:       p,
		archive:        archive,
		recorder:       opts.Recorder,
		fallback:       opts.Fallback,
		proactive:      opts.Proactive,
		proactiveAfter: opts.ProactiveAfter,
		now:            opts.Now,
	}
	if sh.fallback == "" {
		sh.fallback = DefaultFallback
	}
	if sh.proactive == "" {
		sh.proactive = DefaultProactive
	}
	if sh.now == nil {
		sh.now = time.Now
	}
	return sh
}

func (sh *Shell) Model() string { return sh.provider.Model() }

// Close releases the interaction recorder when it holds a resource.
func (sh *Shell) Close() error {
	if c, ok := sh.recorder.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Exchange is the outcome of one submitted message.
type Exchange struct {
	User  internal.Message
	Reply internal.Message
	Tag   string
	// Proactive holds the human support offer when this exchange triggered it.
	Proactive *internal.Message
}

// Submit records text as a user turn and appends the bot's reply. Provider
// failures never fail the session: the fallback message is used instead.
func (sh *Shell) Submit(ctx context.Context, s *Session, text string) (Exchange, error) {
	if text == "" {
		return Exchange{}, ErrEmptyMessage
	}
	s.turn.Lock()
	defer s.turn.Unlock()
	now := sh.now()
	s.touch(now)

	userMsg := internal.Message{Role: internal.RoleUser, Content: text, CreatedAt: now}
	s.transcript.Append(userMsg)

	reply, err := sh.provider.Reply(s.transcript.All(), text)
	content := reply.Text
	if err != nil {
		log.Printf("[chat] session %s: reply failed: %v", s.ID, err)
		content = sh.fallback
	}
	botMsg := internal.Message{Role: internal.RoleBot, Content: content, CreatedAt: sh.now()}
	s.transcript.Append(botMsg)

	ex := Exchange{User: userMsg, Reply: botMsg, Tag: reply.Tag}
	if err != nil {
		ex.Tag = ""
	}
	sh.record(s.ID, ex)

	if sh.proactiveAfter > 0 && s.transcript.Len() > sh.proactiveAfter && s.claimProactive() {
		offer := internal.Message{Role: internal.RoleBot, Content: sh.proactive, CreatedAt: sh.now()}
		s.transcript.Append(offer)
		ex.Proactive = &offer
	}
	return ex, nil
}

func (sh *Shell) record(sessionID string, ex Exchange) {
	if sh.recorder == nil {
		return
	}
	err := sh.recorder.Record(store.Interaction{
		Timestamp:   ex.User.CreatedAt,
		SessionID:   sessionID,
		UserMessage: ex.User.Content,
		BotResponse: ex.Reply.Content,
		Tag:         ex.Tag,
	})
	if err != nil {
		log.Printf("[chat] failed to record interaction: %v", err)
	}
}

// Archive saves a snapshot of the transcript and clears it. The transcript
// is left untouched when the snapshot cannot be stored.
func (sh *Shell) Archive(ctx context.Context, s *Session) (internal.ArchivedSession, error) {
	s.turn.Lock()
	defer s.turn.Unlock()
	now := sh.now()
	s.touch(now)
	entry := internal.ArchivedSession{
		Name:     now.Format(ArchiveNameLayout),
		SavedAt:  now,
		Messages: s.transcript.All(),
	}
	if err := sh.archive.Save(ctx, s.ID, entry); err != nil {
		return internal.ArchivedSession{}, fmt.Errorf("archive session: %w", err)
	}
	s.transcript.Reset()
	return entry, nil
}

// Restore replaces the live transcript with a copy of an archived one.
func (sh *Shell) Restore(ctx context.Context, s *Session, index int) (internal.ArchivedSession, error) {
	s.turn.Lock()
	defer s.turn.Unlock()
	s.touch(sh.now())
	entry, err := store.Entry(ctx, sh.archive, s.ID, index)
	if err != nil {
		return internal.ArchivedSession{}, err
	}
	s.transcript.Replace(entry.Messages)
	return entry, nil
}

func (sh *Shell) Archives(ctx context.Context, s *Session) ([]internal.ArchivedSession, error) {
	return sh.archive.List(ctx, s.ID)
}

func QuickQuestions() []string {
	return append([]string(nil), quickQuestions...)
}

// AskQuickQuestion submits one of the canned questions by position.
func (sh *Shell) AskQuickQuestion(ctx context.Context, s *Session, index int) (Exchange, error) {
	if index < 0 || index >= len(quickQuestions) {
		return Exchange{}, fmt.Errorf("quick question %d out of range", index)
	}
	return sh.Submit(ctx, s, quickQuestions[index])
}

// Sweep archives and forgets sessions idle for longer than ttl. Sessions
// that never got a user message are dropped without archiving.
func (sh *Shell) Sweep(ctx context.Context, reg *Registry, ttl time.Duration) int {
	evicted := reg.idle(ttl)
	for _, s := range evicted {
		if !s.hasUserTurns() {
			continue
		}
		if _, err := sh.Archive(ctx, s); err != nil {
			log.Printf("[janitor] session %s: %v", s.ID, err)
		}
	}
	return len(evicted)
}
