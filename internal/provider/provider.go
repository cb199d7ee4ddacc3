package provider

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nubank/calma-backend/internal"
	"github.com/nubank/calma-backend/internal/classifier"
)

const (
	QuitCommand = "quit"
	QuitReply   = "Goodbye!"
	DefaultName = "calma-intents"
)

type Reply struct {
	Text string
	// Tag is the predicted intent; empty for the quit command.
	Tag string
}

type ChatProvider interface {
	Model() string
	Reply(history []internal.Message, userInput string) (Reply, error)
}

// ResponseLookup returns the canned replies registered for a tag.
type ResponseLookup interface {
	Responses(tag string) ([]string, error)
}

// IsQuit reports whether input is the quit command, ignoring case.
func IsQuit(input string) bool {
	return strings.EqualFold(input, QuitCommand)
}

type Option func(*IntentProvider)

// WithRand makes response sampling reproducible.
func WithRand(r *rand.Rand) Option {
	return func(p *IntentProvider) {
		var mu sync.Mutex
		p.intn = func(n int) int {
			mu.Lock()
			defer mu.Unlock()
			return r.Intn(n)
		}
	}
}

func WithName(name string) Option {
	return func(p *IntentProvider) { p.name = name }
}

// IntentProvider answers by classifying the input and sampling one of the
// responses of the predicted intent. It keeps no per-conversation state.
type IntentProvider struct {
	predictor classifier.Predictor
	lookup    ResponseLookup
	intn      func(n int) int
	name      string
}

func NewIntentProvider(predictor classifier.Predictor, lookup ResponseLookup, opts ...Option) *IntentProvider {
	p := &IntentProvider{
		predictor: predictor,
		lookup:    lookup,
		intn:      rand.Intn,
		name:      DefaultName,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *IntentProvider) Model() string { return p.name }

// Reply ignores history: intents are matched one message at a time.
func (p *IntentProvider) Reply(_ []internal.Message, userInput string) (Reply, error) {
	if IsQuit(userInput) {
		return Reply{Text: QuitReply}, nil
	}
	tag, err := p.predictor.Predict(userInput)
	if err != nil {
		return Reply{}, err
	}
	responses, err := p.lookup.Responses(tag)
	if err != nil {
		return Reply{Tag: tag}, err
	}
	if len(responses) == 0 {
		return Reply{Tag: tag}, fmt.Errorf("intent %q has no responses", tag)
	}
	return Reply{Text: responses[p.intn(len(responses))], Tag: tag}, nil
}

// Answer is Reply without history, returning only the text.
func (p *IntentProvider) Answer(userInput string) (string, error) {
	r, err := p.Reply(nil, userInput)
	return r.Text, err
}

var ErrNoProvider = errors.New("no chat provider loaded")

// Swappable forwards to the provider most recently stored, so the intents
// dataset and model can be reloaded while requests are in flight.
type Swappable struct {
	cur atomic.Pointer[ChatProvider]
}

func NewSwappable(p ChatProvider) *Swappable {
	s := &Swappable{}
	s.Swap(p)
	return s
}

func (s *Swappable) Swap(p ChatProvider) {
	s.cur.Store(&p)
}

func (s *Swappable) current() ChatProvider {
	p := s.cur.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (s *Swappable) Model() string {
	if p := s.current(); p != nil {
		return p.Model()
	}
	return ""
}

func (s *Swappable) Reply(history []internal.Message, userInput string) (Reply, error) {
	p := s.current()
	if p == nil {
		return Reply{}, ErrNoProvider
	}
	return p.Reply(history, userInput)
}
