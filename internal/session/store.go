package session

import (
	"context"
	"time"

	"github.com/alfianX/crossgate-gw/internal/repo"
	"gorm.io/gorm"
)

// Store persists registry state. The registry keeps working in memory when
// the store fails; failures are logged.
type Store interface {
	LoadAll(ctx context.Context) ([]repo.TerminalRecord, error)
	Save(ctx context.Context, rec *repo.TerminalRecord) error
	SetInactive(ctx context.Context, id string, at time.Time) error
	UpdateLastActive(ctx context.Context, times map[string]time.Time) error
	InsertEvents(ctx context.Context, events []repo.TerminalEvent) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LoadAll(ctx context.Context) ([]repo.TerminalRecord, error) {
	return repo.TerminalLoadAll(ctx, s.db)
}

func (s *GormStore) Save(ctx context.Context, rec *repo.TerminalRecord) error {
	return repo.TerminalSave(ctx, s.db, rec)
}

func (s *GormStore) SetInactive(ctx context.Context, id string, at time.Time) error {
	return repo.TerminalStatusSetInactive(ctx, s.db, id, at)
}

func (s *GormStore) UpdateLastActive(ctx context.Context, times map[string]time.Time) error {
	return repo.TerminalStatusUpdateLastActive(ctx, s.db, times)
}

func (s *GormStore) InsertEvents(ctx context.Context, events []repo.TerminalEvent) error {
	return repo.TerminalEventInsertBatch(ctx, s.db, events)
}
