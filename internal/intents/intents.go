// Package intents loads the hand-authored intents dataset: each intent maps a
// set of example patterns to a tag and a list of canned responses.
package intents

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nubank/calma-backend/internal/textnorm"
)

var (
	ErrInvalid    = errors.New("invalid intents dataset")
	ErrUnknownTag = errors.New("unknown intent tag")
)

type Intent struct {
	Tag       string   `json:"tag" yaml:"tag"`
	Patterns  []string `json:"patterns" yaml:"patterns"`
	Responses []string `json:"responses" yaml:"responses"`
}

type document struct {
	Intents []Intent `json:"intents" yaml:"intents"`
}

// Pair is one training example: a normalized pattern and its tag.
type Pair struct {
	Text string
	Tag  string
}

// Set is a validated, read-only collection of intents.
type Set struct {
	intents []Intent
	byTag   map[string]int
}

func NewSet(list []Intent) (*Set, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no intents", ErrInvalid)
	}
	s := &Set{
		intents: make([]Intent, 0, len(list)),
		byTag:   make(map[string]int, len(list)),
	}
	for i, in := range list {
		tag := strings.TrimSpace(in.Tag)
		if tag == "" {
			return nil, fmt.Errorf("%w: intent #%d has an empty tag", ErrInvalid, i)
		}
		if _, dup := s.byTag[tag]; dup {
			return nil, fmt.Errorf("%w: duplicate tag %q", ErrInvalid, tag)
		}
		if len(in.Patterns) == 0 {
			return nil, fmt.Errorf("%w: intent %q has no patterns", ErrInvalid, tag)
		}
		if len(in.Responses) == 0 {
			return nil, fmt.Errorf("%w: intent %q has no responses", ErrInvalid, tag)
		}
		for j, r := range in.Responses {
			if strings.TrimSpace(r) == "" {
				return nil, fmt.Errorf("%w: intent %q response #%d is blank", ErrInvalid, tag, j)
			}
		}
		s.byTag[tag] = len(s.intents)
		s.intents = append(s.intents, Intent{
			Tag:       tag,
			Patterns:  append([]string(nil), in.Patterns...),
			Responses: append([]string(nil), in.Responses...),
		})
	}
	return s, nil
}

// Load reads a dataset from disk. The format follows the file extension:
// .yaml/.yml are decoded as YAML, anything else as JSON.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intents: %w", err)
	}
	set, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func Parse(data []byte, format Format) (*Set, error) {
	var doc document
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return NewSet(doc.Intents)
}

func (s *Set) Len() int { return len(s.intents) }

// Tags returns the tags in dataset order.
func (s *Set) Tags() []string {
	out := make([]string, len(s.intents))
	for i, in := range s.intents {
		out[i] = in.Tag
	}
	return out
}

// Intent returns a copy of the intent registered under tag.
func (s *Set) Intent(tag string) (Intent, bool) {
	i, ok := s.byTag[tag]
	if !ok {
		return Intent{}, false
	}
	in := s.intents[i]
	return Intent{
		Tag:       in.Tag,
		Patterns:  append([]string(nil), in.Patterns...),
		Responses: append([]string(nil), in.Responses...),
	}, true
}

// Responses returns the canned replies for tag, or ErrUnknownTag.
func (s *Set) Responses(tag string) ([]string, error) {
	i, ok := s.byTag[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return append([]string(nil), s.intents[i].Responses...), nil
}

// Pairs flattens the dataset into normalized training examples.
func (s *Set) Pairs() []Pair {
	var out []Pair
	for _, in := range s.intents {
		for _, p := range in.Patterns {
			out = append(out, Pair{Text: textnorm.Normalize(p), Tag: in.Tag})
		}
	}
	return out
}
