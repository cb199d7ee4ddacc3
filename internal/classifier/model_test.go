package classifier

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nubank/calma-backend/internal/intents"
)

func testSet(t *testing.T) *intents.Set {
	t.Helper()
	set, err := intents.NewSet([]intents.Intent{
		{Tag: "greeting", Patterns: []string{"Hi", "Hello", "Good morning"}, Responses: []string{"Hi there!", "Hello!"}},
		{Tag: "goodbye", Patterns: []string{"Bye", "See you later", "Goodbye"}, Responses: []string{"Take care."}},
		{Tag: "sleep", Patterns: []string{"I can't sleep", "Insomnia", "I have trouble sleeping"}, Responses: []string{"Try a routine."}},
	})
	require.NoError(t, err)
	return set
}

func TestFitTokenizerOrdersByFrequency(t *testing.T) {
	tok := FitTokenizer([]string{"b a", "a c"})
	assert.Equal(t, 3, tok.VocabSize())
	for word, want := range map[string]int{"a": 1, "b": 2, "c": 3} {
		got, ok := tok.Index(word)
		require.True(t, ok, word)
		assert.Equal(t, want, got, word)
	}
	assert.Equal(t, []int{3, 1}, tok.Sequence("c x a"))
	assert.Empty(t, tok.Sequence("unknown words only"))
}

func TestFitLabelsSorted(t *testing.T) {
	enc := FitLabels([]string{"z", "a", "z", "m"})
	assert.Equal(t, []string{"a", "m", "z"}, enc.Labels())
	i, ok := enc.Encode("m")
	require.True(t, ok)
	assert.Equal(t, 1, i)
	assert.Equal(t, "z", enc.Decode(2))
}

func TestTrainPredict(t *testing.T) {
	m, err := TrainSet(testSet(t), Options{})
	require.NoError(t, err)

	cases := map[string]string{
		"hi":                     "greeting",
		"good morning":           "greeting",
		"see you":                "goodbye",
		"i can't sleep at night": "sleep",
	}
	for in, want := range cases {
		got, err := m.Predict(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	assert.Equal(t, 1.0, m.Accuracy(testSet(t).Pairs()))
	assert.Equal(t, 4, m.MaxLen())
}

func TestPredictEmptyInputUsesFirstLabelOnTie(t *testing.T) {
	m, err := TrainSet(testSet(t), Options{})
	require.NoError(t, err)
	// equal priors, no known words: lowest class index wins
	got, err := m.Predict("")
	require.NoError(t, err)
	assert.Equal(t, "goodbye", got)
}

func TestNormalizingPredictor(t *testing.T) {
	m, err := TrainSet(testSet(t), Options{})
	require.NoError(t, err)
	p := NormalizingPredictor{Predictor: m}
	got, err := p.Predict("HI!!")
	require.NoError(t, err)
	assert.Equal(t, "greeting", got)
}

func TestProbabilities(t *testing.T) {
	m, err := TrainSet(testSet(t), Options{Alpha: 0.5})
	require.NoError(t, err)
	probs := m.Probabilities("insomnia")
	require.Len(t, probs, 3)
	var sum float64
	best := 0
	for i, p := range probs {
		sum += p
		if p > probs[best] {
			best = i
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, "sleep", m.Labels()[best])
}

func TestTrainRejectsEmpty(t *testing.T) {
	_, err := Train(nil, Options{})
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m, err := TrainSet(testSet(t), Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))
	loaded, err := Load(&buf)
	require.NoError(t, err)

	assert.Equal(t, m.Labels(), loaded.Labels())
	assert.Equal(t, m.VocabSize(), loaded.VocabSize())
	for _, in := range []string{"hi", "see you later", "i have trouble sleeping", ""} {
		want, _ := m.Predict(in)
		got, err := loaded.Predict(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestSaveFileLoadFile(t *testing.T) {
	m, err := TrainSet(testSet(t), Options{})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "nested", "model.json")
	require.NoError(t, m.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, loaded.Matches(testSet(t), Options{}))
}

func TestLoadRejectsBrokenFiles(t *testing.T) {
	for name, body := range map[string]string{
		"garbage":  "not json",
		"version":  `{"version":7,"labels":["a"]}`,
		"no class": `{"version":1,"labels":[]}`,
		"shape":    `{"version":1,"vocabulary":["x"],"labels":["a"],"class_docs":[1],"token_counts":[[0]]}`,
	} {
		_, err := Load(strings.NewReader(body))
		assert.Error(t, err, name)
	}
}

func TestMatches(t *testing.T) {
	m, err := TrainSet(testSet(t), Options{})
	require.NoError(t, err)
	assert.True(t, m.Matches(testSet(t), Options{}))
	assert.True(t, m.Matches(testSet(t), Options{Alpha: 1}))
	assert.False(t, m.Matches(testSet(t), Options{Alpha: 0.5}))

	other, err := intents.NewSet([]intents.Intent{{Tag: "greeting", Patterns: []string{"hi"}, Responses: []string{"x"}}})
	require.NoError(t, err)
	assert.False(t, m.Matches(other, Options{}))

	// same tags, one more pattern
	grown, err := intents.NewSet([]intents.Intent{
		{Tag: "greeting", Patterns: []string{"Hi", "Hello", "Good morning"}, Responses: []string{"Hi there!", "Hello!"}},
		{Tag: "goodbye", Patterns: []string{"Bye", "See you later", "Goodbye"}, Responses: []string{"Take care."}},
		{Tag: "sleep", Patterns: []string{"I can't sleep", "Insomnia", "I have trouble sleeping", "I lie awake"}, Responses: []string{"Try a routine."}},
	})
	require.NoError(t, err)
	assert.False(t, m.Matches(grown, Options{}))
}

func TestLoadWithoutFingerprintNeverMatches(t *testing.T) {
	m, err := TrainSet(testSet(t), Options{})
	require.NoError(t, err)
	m.fingerprint = ""
	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))
	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.False(t, loaded.Matches(testSet(t), Options{}))
}
