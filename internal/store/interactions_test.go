package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRecorderRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "logs", "interactions.jsonl")
	rec, err := NewFileRecorder(p)
	require.NoError(t, err)

	first := Interaction{Timestamp: time.Unix(1, 0).UTC(), SessionID: "s1", UserMessage: "hi", BotResponse: "hello", Tag: "greeting"}
	second := Interaction{Timestamp: time.Unix(2, 0).UTC(), SessionID: "s2", UserMessage: "quit", BotResponse: "Goodbye!"}
	require.NoError(t, rec.Record(first))
	require.NoError(t, rec.Record(second))
	require.NoError(t, rec.Close())
	assert.ErrorIs(t, rec.Record(first), os.ErrClosed)

	// reopening appends instead of truncating
	rec, err = NewFileRecorder(p)
	require.NoError(t, err)
	require.NoError(t, rec.Record(first))
	require.NoError(t, rec.Close())

	got, err := LoadInteractions(p)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "greeting", got[0].Tag)
	assert.Equal(t, "Goodbye!", got[1].BotResponse)
	assert.Equal(t, "s1", got[2].SessionID)
}

func TestReadInteractionsSkipsForeignLines(t *testing.T) {
	in := strings.NewReader("not json\n\n{}\n" +
		`{"timestamp":"2024-01-02T03:04:05Z","session_id":"s1","user_message":"hi","bot_response":"hello","tag":"greeting"}` + "\n")
	got, err := ReadInteractions(in)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].UserMessage)
}

func TestLoadInteractionsMissingFile(t *testing.T) {
	_, err := LoadInteractions(filepath.Join(t.TempDir(), "none.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
