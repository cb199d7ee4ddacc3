// Package classifier trains and runs the intent classifier. The model is a
// multinomial naive Bayes over word indices produced by Tokenizer; it is
// trained once from the intents dataset and is read-only afterwards, so a
// single *Model can serve concurrent predictions.
package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/nubank/calma-backend/internal/intents"
	"github.com/nubank/calma-backend/internal/textnorm"
)

var ErrNotTrained = errors.New("classifier: model has no classes")

// Predictor is the prediction capability consumed by the response selector.
type Predictor interface {
	Predict(text string) (string, error)
}

type Options struct {
	// Alpha is the additive smoothing constant. Zero means 1.
	Alpha float64
}

func (o Options) alpha() float64 {
	if o.Alpha <= 0 {
		return 1
	}
	return o.Alpha
}

// Fingerprint identifies a training run: the smoothing constant followed by
// every pair, in order.
func Fingerprint(pairs []intents.Pair, opts Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "alpha=%g\n", opts.alpha())
	for _, p := range pairs {
		fmt.Fprintf(h, "%s\t%s\n", p.Tag, p.Text)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type Model struct {
	tokenizer *Tokenizer
	labels    *LabelEncoder
	alpha     float64
	maxLen    int

	// fingerprint of the pairs the model was fitted on
	fingerprint string

	classDocs   []int
	tokenCounts [][]int // [class][word index]

	logPrior []float64
	logLike  [][]float64
}

// Train fits a model on already normalized pairs.
func Train(pairs []intents.Pair, opts Options) (*Model, error) {
	if len(pairs) == 0 {
		return nil, ErrNotTrained
	}
	alpha := opts.alpha()

	texts := make([]string, len(pairs))
	tags := make([]string, len(pairs))
	for i, p := range pairs {
		texts[i] = p.Text
		tags[i] = p.Tag
	}
	tok := FitTokenizer(texts)
	lbl := FitLabels(tags)

	m := &Model{
		tokenizer:   tok,
		labels:      lbl,
		alpha:       alpha,
		fingerprint: Fingerprint(pairs, opts),
		classDocs:   make([]int, lbl.Len()),
		tokenCounts: make([][]int, lbl.Len()),
	}
	for c := range m.tokenCounts {
		m.tokenCounts[c] = make([]int, tok.VocabSize()+1)
	}
	for i, text := range texts {
		c, _ := lbl.Encode(tags[i])
		m.classDocs[c]++
		seq := tok.Sequence(text)
		if len(seq) > m.maxLen {
			m.maxLen = len(seq)
		}
		for _, w := range seq {
			m.tokenCounts[c][w]++
		}
	}
	m.computeTables()
	return m, nil
}

// TrainSet is Train over every pattern of an intents set.
func TrainSet(set *intents.Set, opts Options) (*Model, error) {
	return Train(set.Pairs(), opts)
}

func (m *Model) computeTables() {
	var docs int
	for _, n := range m.classDocs {
		docs += n
	}
	vocab := float64(m.tokenizer.VocabSize())
	m.logPrior = make([]float64, len(m.classDocs))
	m.logLike = make([][]float64, len(m.classDocs))
	for c, n := range m.classDocs {
		m.logPrior[c] = math.Log(float64(n) / float64(docs))
		total := 0
		for _, k := range m.tokenCounts[c] {
			total += k
		}
		denom := float64(total) + m.alpha*vocab
		row := make([]float64, len(m.tokenCounts[c]))
		for w, k := range m.tokenCounts[c] {
			row[w] = math.Log((float64(k) + m.alpha) / denom)
		}
		m.logLike[c] = row
	}
}

func (m *Model) Labels() []string { return m.labels.Labels() }

func (m *Model) VocabSize() int { return m.tokenizer.VocabSize() }

// MaxLen is the longest training sequence. Longer inputs keep only their
// last MaxLen known words.
func (m *Model) MaxLen() int { return m.maxLen }

func (m *Model) sequence(text string) []int {
	seq := m.tokenizer.Sequence(text)
	if m.maxLen > 0 && len(seq) > m.maxLen {
		seq = seq[len(seq)-m.maxLen:]
	}
	return seq
}

func (m *Model) scores(text string) []float64 {
	seq := m.sequence(text)
	out := make([]float64, len(m.logPrior))
	for c := range out {
		s := m.logPrior[c]
		for _, w := range seq {
			s += m.logLike[c][w]
		}
		out[c] = s
	}
	return out
}

// Predict returns the most probable tag for normalized text. Ties go to the
// lowest class index. Text with no known words falls back to the priors.
func (m *Model) Predict(text string) (string, error) {
	if m == nil || m.labels.Len() == 0 {
		return "", ErrNotTrained
	}
	scores := m.scores(text)
	best := 0
	for c := 1; c < len(scores); c++ {
		if scores[c] > scores[best] {
			best = c
		}
	}
	return m.labels.Decode(best), nil
}

// Probabilities returns the posterior of every class, in Labels order.
func (m *Model) Probabilities(text string) []float64 {
	scores := m.scores(text)
	maxScore := math.Inf(-1)
	for _, s := range scores {
		maxScore = math.Max(maxScore, s)
	}
	var sum float64
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Accuracy reports the share of pairs whose tag the model predicts.
func (m *Model) Accuracy(pairs []intents.Pair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	hits := 0
	for _, p := range pairs {
		if tag, err := m.Predict(p.Text); err == nil && tag == p.Tag {
			hits++
		}
	}
	return float64(hits) / float64(len(pairs))
}

// Matches reports whether the model was fitted on exactly the pairs of set
// with the same options. Models saved without a fingerprint never match.
func (m *Model) Matches(set *intents.Set, opts Options) bool {
	return m.fingerprint != "" && m.fingerprint == Fingerprint(set.Pairs(), opts)
}

// NormalizingPredictor applies textnorm.Normalize before predicting, so raw
// user input can be passed straight through.
type NormalizingPredictor struct {
	Predictor Predictor
}

func (n NormalizingPredictor) Predict(raw string) (string, error) {
	tag, err := n.Predictor.Predict(textnorm.Normalize(raw))
	if err != nil {
		return "", fmt.Errorf("predict: %w", err)
	}
	return tag, nil
}
