package classifier

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const formatVersion = 1

type modelFile struct {
	Version     int      `json:"version"`
	Alpha       float64  `json:"alpha"`
	MaxLen      int      `json:"max_len"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Vocabulary  []string `json:"vocabulary"`
	Labels      []string `json:"labels"`
	ClassDocs   []int    `json:"class_docs"`
	TokenCounts [][]int  `json:"token_counts"`
}

func (m *Model) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(modelFile{
		Version:     formatVersion,
		Alpha:       m.alpha,
		MaxLen:      m.maxLen,
		Fingerprint: m.fingerprint,
		Vocabulary:  m.tokenizer.words,
		Labels:      m.labels.labels,
		ClassDocs:   m.classDocs,
		TokenCounts: m.tokenCounts,
	})
}

func Load(r io.Reader) (*Model, error) {
	var f modelFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("unsupported model version %d", f.Version)
	}
	if len(f.Labels) == 0 {
		return nil, ErrNotTrained
	}
	if len(f.ClassDocs) != len(f.Labels) || len(f.TokenCounts) != len(f.Labels) {
		return nil, fmt.Errorf("model file: %d labels but %d/%d class rows", len(f.Labels), len(f.ClassDocs), len(f.TokenCounts))
	}
	for c, row := range f.TokenCounts {
		if len(row) != len(f.Vocabulary)+1 {
			return nil, fmt.Errorf("model file: class %q has %d counts, want %d", f.Labels[c], len(row), len(f.Vocabulary)+1)
		}
	}
	if f.Alpha <= 0 {
		f.Alpha = 1
	}
	m := &Model{
		tokenizer:   newTokenizer(f.Vocabulary),
		labels:      newLabelEncoder(f.Labels),
		alpha:       f.Alpha,
		maxLen:      f.MaxLen,
		fingerprint: f.Fingerprint,
		classDocs:   f.ClassDocs,
		tokenCounts: f.TokenCounts,
	}
	m.computeTables()
	return m, nil
}

func (m *Model) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure model dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	if err := m.Save(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write model: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close model file: %w", err)
	}
	return os.Rename(tmp, path)
}

func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
