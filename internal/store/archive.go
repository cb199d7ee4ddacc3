package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nubank/calma-backend/internal"
)

var ErrArchiveIndex = errors.New("archived session not found")

// ArchiveRepository persists the saved chat sessions of every session ID.
// Entries are append-only and List returns them oldest first. Returned values
// never alias repository state.
type ArchiveRepository interface {
	Save(ctx context.Context, sessionID string, entry internal.ArchivedSession) error
	List(ctx context.Context, sessionID string) ([]internal.ArchivedSession, error)
	Close() error
}

// Entry fetches one archived session by position.
func Entry(ctx context.Context, repo ArchiveRepository, sessionID string, index int) (internal.ArchivedSession, error) {
	entries, err := repo.List(ctx, sessionID)
	if err != nil {
		return internal.ArchivedSession{}, err
	}
	if index < 0 || index >= len(entries) {
		return internal.ArchivedSession{}, fmt.Errorf("%w: index %d of %d", ErrArchiveIndex, index, len(entries))
	}
	return entries[index], nil
}

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
)

type Options struct {
	Backend    Backend
	SQLitePath string
	RedisURL   string
}

// Open builds the archive repository selected by opts.Backend.
func Open(ctx context.Context, opts Options) (ArchiveRepository, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryArchive(), nil
	case BackendSQLite:
		return NewSQLiteArchive(opts.SQLitePath)
	case BackendRedis:
		return NewRedisArchiveFromURL(ctx, opts.RedisURL)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", opts.Backend)
	}
}
