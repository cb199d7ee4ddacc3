package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nubank/calma-backend/internal"
)

func msg(role internal.Role, content string) internal.Message {
	return internal.Message{Role: role, Content: content, CreatedAt: time.Unix(1700000000, 0).UTC()}
}

func TestTranscriptCopySemantics(t *testing.T) {
	tr := NewTranscript()
	tr.Append(msg(internal.RoleUser, "hello"))
	tr.Append(msg(internal.RoleBot, "hi"))

	got := tr.All()
	require.Len(t, got, 2)
	got[0].Content = "mutated"
	assert.Equal(t, "hello", tr.All()[0].Content)

	snapshot := tr.All()
	tr.Reset()
	assert.Zero(t, tr.Len())
	tr.Append(msg(internal.RoleUser, "after reset"))
	assert.Equal(t, "hello", snapshot[0].Content)
}

func TestTranscriptReplaceCopies(t *testing.T) {
	src := []internal.Message{msg(internal.RoleUser, "a")}
	tr := NewTranscript()
	tr.Replace(src)
	src[0].Content = "changed"
	assert.Equal(t, "a", tr.All()[0].Content)
}

func TestSeedBotHello(t *testing.T) {
	tr := NewTranscript()
	SeedBotHello(tr, "")
	assert.Zero(t, tr.Len())
	SeedBotHello(tr, "Welcome")
	all := tr.All()
	require.Len(t, all, 1)
	assert.Equal(t, internal.RoleBot, all[0].Role)
}

// exerciseRepository runs the behaviour every backend must share.
func exerciseRepository(t *testing.T, repo ArchiveRepository) {
	t.Helper()
	ctx := context.Background()
	sid := uuid.NewString()
	other := uuid.NewString()

	empty, err := repo.List(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := internal.ArchivedSession{
		Name:     "2024-05-01 10:00:00",
		SavedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Messages: []internal.Message{msg(internal.RoleUser, "A"), msg(internal.RoleBot, "reply A")},
	}
	second := internal.ArchivedSession{
		Name:     "2024-05-01 10:05:00",
		SavedAt:  time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC),
		Messages: []internal.Message{msg(internal.RoleUser, "B")},
	}
	require.NoError(t, repo.Save(ctx, sid, first))
	// mutate the caller's slice after saving
	first.Messages[0].Content = "tampered"
	require.NoError(t, repo.Save(ctx, sid, second))
	require.NoError(t, repo.Save(ctx, other, second))

	got, err := repo.List(ctx, sid)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-05-01 10:00:00", got[0].Name)
	assert.True(t, got[0].SavedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	require.Len(t, got[0].Messages, 2)
	assert.Equal(t, "A", got[0].Messages[0].Content)
	assert.Equal(t, internal.RoleBot, got[0].Messages[1].Role)
	assert.Equal(t, "reply A", got[0].Messages[1].Content)
	require.Len(t, got[1].Messages, 1)
	assert.Equal(t, "B", got[1].Messages[0].Content)

	got[0].Messages[0].Content = "changed by reader"
	again, err := repo.List(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "A", again[0].Messages[0].Content)

	e, err := Entry(ctx, repo, sid, 1)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 10:05:00", e.Name)
	_, err = Entry(ctx, repo, sid, 2)
	assert.ErrorIs(t, err, ErrArchiveIndex)
	_, err = Entry(ctx, repo, sid, -1)
	assert.ErrorIs(t, err, ErrArchiveIndex)
}

func TestMemoryArchive(t *testing.T) {
	exerciseRepository(t, NewMemoryArchive())
}

func TestMemoryArchiveExpiresIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewMemoryArchive()
	a.now = func() time.Time { return now }
	entry := internal.ArchivedSession{Name: "first", Messages: []internal.Message{{Role: internal.RoleUser, Content: "hi"}}}

	require.NoError(t, a.Save(ctx, "old", entry))
	now = now.Add(archiveTTL / 2)
	require.NoError(t, a.Save(ctx, "fresh", entry))

	now = now.Add(archiveTTL/2 + time.Hour)
	list, err := a.List(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = a.List(ctx, "fresh")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// the next save drops expired sessions from memory
	require.NoError(t, a.Save(ctx, "fresh", entry))
	assert.NotContains(t, a.sessions, "old")
	list, err = a.List(ctx, "fresh")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSQLiteArchive(t *testing.T) {
	repo, err := NewSQLiteArchive(filepath.Join(t.TempDir(), "db", "archive.db"))
	require.NoError(t, err)
	defer repo.Close()
	exerciseRepository(t, repo)
}

func TestRedisArchive(t *testing.T) {
	url := os.Getenv("CALMA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CALMA_TEST_REDIS_URL not set")
	}
	repo, err := NewRedisArchiveFromURL(context.Background(), url)
	require.NoError(t, err)
	defer repo.Close()
	exerciseRepository(t, repo)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryArchive{}, repo)

	repo, err = Open(ctx, Options{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "a.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteArchive{}, repo)
	require.NoError(t, repo.Close())

	_, err = Open(ctx, Options{Backend: "postgres"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: BackendRedis, RedisURL: "://bad"})
	assert.Error(t, err)
}

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "archive:abc", archiveKey("abc"))
}
