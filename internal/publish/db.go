package publish

import (
	"context"
	"sync"

	"github.com/alfianX/crossgate-gw/internal/repo"
	"gorm.io/gorm"
)

// DBSource reads publish records from the database and caches them per
// merchant until Invalidate is called.
type DBSource struct {
	db *gorm.DB

	mu    sync.RWMutex
	cache map[string][]repo.FilePublish
}

func NewDBSource(db *gorm.DB) *DBSource {
	return &DBSource{db: db, cache: make(map[string][]repo.FilePublish)}
}

func (s *DBSource) records(ctx context.Context, merchantID string) ([]repo.FilePublish, error) {
	s.mu.RLock()
	rows, ok := s.cache[merchantID]
	s.mu.RUnlock()
	if ok {
		return rows, nil
	}

	rows, err := repo.FilePublishFindByMerchant(ctx, s.db, merchantID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[merchantID] = rows
	s.mu.Unlock()
	return rows, nil
}

func (s *DBSource) Expected(ctx context.Context, t Target) (map[string]Expectation, error) {
	rows, err := s.records(ctx, t.MerchantID)
	if err != nil {
		return nil, err
	}
	return resolve(rows, t), nil
}

func (s *DBSource) Lookup(ctx context.Context, merchantID, code, version string) (*Expectation, bool, error) {
	rows, err := s.records(ctx, merchantID)
	if err != nil {
		return nil, false, err
	}
	e, ok := lookup(rows, code, version)
	return e, ok, nil
}

// Invalidate drops the cached records of one merchant, or all when empty.
func (s *DBSource) Invalidate(merchantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if merchantID == "" {
		s.cache = make(map[string][]repo.FilePublish)
		return
	}
	delete(s.cache, merchantID)
}
