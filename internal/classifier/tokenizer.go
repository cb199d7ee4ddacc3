package classifier

import (
	"sort"
	"strings"
)

// Tokenizer assigns every known word an index starting at 1. More frequent
// words get smaller indices; ties keep the order of first appearance.
type Tokenizer struct {
	index map[string]int
	words []string // words[i-1] has index i
}

func FitTokenizer(texts []string) *Tokenizer {
	counts := make(map[string]int)
	var order []string
	for _, t := range texts {
		for _, w := range strings.Fields(t) {
			if _, seen := counts[w]; !seen {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return newTokenizer(order)
}

func newTokenizer(words []string) *Tokenizer {
	t := &Tokenizer{
		index: make(map[string]int, len(words)),
		words: append([]string(nil), words...),
	}
	for i, w := range words {
		t.index[w] = i + 1
	}
	return t
}

func (t *Tokenizer) VocabSize() int { return len(t.words) }

func (t *Tokenizer) Index(word string) (int, bool) {
	i, ok := t.index[word]
	return i, ok
}

// Sequence maps normalized text to word indices, dropping unknown words.
func (t *Tokenizer) Sequence(text string) []int {
	var seq []int
	for _, w := range strings.Fields(text) {
		if i, ok := t.index[w]; ok {
			seq = append(seq, i)
		}
	}
	return seq
}

// LabelEncoder maps tags to dense class indices in sorted tag order.
type LabelEncoder struct {
	labels []string
	index  map[string]int
}

func FitLabels(tags []string) *LabelEncoder {
	seen := make(map[string]struct{})
	var labels []string
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		labels = append(labels, t)
	}
	sort.Strings(labels)
	return newLabelEncoder(labels)
}

func newLabelEncoder(labels []string) *LabelEncoder {
	e := &LabelEncoder{labels: append([]string(nil), labels...), index: make(map[string]int, len(labels))}
	for i, l := range labels {
		e.index[l] = i
	}
	return e
}

func (e *LabelEncoder) Len() int { return len(e.labels) }

func (e *LabelEncoder) Encode(tag string) (int, bool) {
	i, ok := e.index[tag]
	return i, ok
}

func (e *LabelEncoder) Decode(i int) string { return e.labels[i] }

func (e *LabelEncoder) Labels() []string { return append([]string(nil), e.labels...) }
