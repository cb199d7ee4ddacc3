package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nubank/calma-backend/internal"
)

type archiveRecord struct {
	gorm.Model
	SessionID string `gorm:"index"`
	Name      string
	SavedAt   time.Time
	Messages  []archivedMessage `gorm:"foreignKey:ArchiveID"`
}

type archivedMessage struct {
	gorm.Model
	ArchiveID uint `gorm:"index"`
	Position  int
	Role      string
	Content   string
	SentAt    time.Time
}

// SQLiteArchive stores archived sessions in a SQLite file through gorm.
type SQLiteArchive struct {
	db *gorm.DB
}

func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure sqlite dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	for _, pragma := range []string{"PRAGMA foreign_keys = ON;", "PRAGMA journal_mode = WAL;"} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	if err := db.AutoMigrate(&archiveRecord{}, &archivedMessage{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate archive tables: %w", err)
	}
	return &SQLiteArchive{db: db}, nil
}

func (a *SQLiteArchive) Save(ctx context.Context, sessionID string, entry internal.ArchivedSession) error {
	rec := archiveRecord{
		SessionID: sessionID,
		Name:      entry.Name,
		SavedAt:   entry.SavedAt,
		Messages:  make([]archivedMessage, len(entry.Messages)),
	}
	for i, m := range entry.Messages {
		rec.Messages[i] = archivedMessage{
			Position: i,
			Role:     string(m.Role),
			Content:  m.Content,
			SentAt:   m.CreatedAt,
		}
	}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	return nil
}

func (a *SQLiteArchive) List(ctx context.Context, sessionID string) ([]internal.ArchivedSession, error) {
	var recs []archiveRecord
	err := a.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	out := make([]internal.ArchivedSession, len(recs))
	for i, r := range recs {
		msgs := make([]internal.Message, len(r.Messages))
		for j, m := range r.Messages {
			msgs[j] = internal.Message{Role: internal.Role(m.Role), Content: m.Content, CreatedAt: m.SentAt}
		}
		out[i] = internal.ArchivedSession{Name: r.Name, SavedAt: r.SavedAt, Messages: msgs}
	}
	return out, nil
}

func (a *SQLiteArchive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
