package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Interaction is one user message and the reply the bot gave to it. An
// empty Tag marks a fallback reply.
type Interaction struct {
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
	Tag         string    `json:"tag,omitempty"`
}

// Recorder receives every exchange the shell completes.
type Recorder interface {
	Record(Interaction) error
}

// FileRecorder appends interactions to a JSON lines file. The file stays
// open until Close.
type FileRecorder struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open interaction log: %w", err)
	}
	return &FileRecorder{f: f, enc: json.NewEncoder(f)}, nil
}

func (r *FileRecorder) Record(it Interaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return os.ErrClosed
	}
	if err := r.enc.Encode(it); err != nil {
		return fmt.Errorf("write interaction: %w", err)
	}
	return nil
}

func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// ReadInteractions decodes a JSON lines log. Blank and foreign lines are
// skipped.
func ReadInteractions(in io.Reader) ([]Interaction, error) {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	var out []Interaction
	for s.Scan() {
		var it Interaction
		if err := json.Unmarshal(s.Bytes(), &it); err != nil || it.Timestamp.IsZero() {
			continue
		}
		out = append(out, it)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read interactions: %w", err)
	}
	return out, nil
}

func LoadInteractions(path string) ([]Interaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadInteractions(f)
}
