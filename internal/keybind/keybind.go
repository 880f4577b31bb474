// Package keybind hands out UnionPay keys from the per-merchant pool. A key
// record is claimed at most once, with a compare-and-swap update.
package keybind

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/alfianX/crossgate-gw/pkg/function"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const MaxAttempts = 16

var (
	ErrNoKeyAvailable = errors.New("keybind: no key available")
	ErrContention     = errors.New("keybind: too many concurrent claims")
)

// Pool is the storage side of the key pool.
type Pool interface {
	FindBound(ctx context.Context, merchantID, machineID string) (*repo.UnionPayTerminalKey, error)
	FindFree(ctx context.Context, merchantID string, exclude []int64) (*repo.UnionPayTerminalKey, error)
	Claim(ctx context.Context, id int64, machineID, lineID, busNO string, now time.Time) error
}

type GormPool struct {
	db *gorm.DB
}

func NewGormPool(db *gorm.DB) *GormPool {
	return &GormPool{db: db}
}

func (p *GormPool) FindBound(ctx context.Context, merchantID, machineID string) (*repo.UnionPayTerminalKey, error) {
	return repo.UnionPayKeyFindBound(ctx, p.db, merchantID, machineID)
}

func (p *GormPool) FindFree(ctx context.Context, merchantID string, exclude []int64) (*repo.UnionPayTerminalKey, error) {
	return repo.UnionPayKeyFindFree(ctx, p.db, merchantID, exclude)
}

func (p *GormPool) Claim(ctx context.Context, id int64, machineID, lineID, busNO string, now time.Time) error {
	return repo.UnionPayKeyClaim(ctx, p.db, id, machineID, lineID, busNO, now)
}

type Service struct {
	pool Pool
	log  *logrus.Logger
	now  func() time.Time
}

func NewService(pool Pool, log *logrus.Logger) *Service {
	return &Service{pool: pool, log: log, now: time.Now}
}

// BindKey returns the key bound to the machine, claiming a free one when it
// has none. A record lost to a concurrent claim is never tried again.
func (s *Service) BindKey(ctx context.Context, merchantID, machineID, lineID, busNO string) (*repo.UnionPayTerminalKey, error) {
	bound, err := s.pool.FindBound(ctx, merchantID, machineID)
	if err != nil {
		return nil, fmt.Errorf("keybind -> find bound key: %w", err)
	}
	if bound != nil {
		return bound, nil
	}

	var lost []int64
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		key, err := s.pool.FindFree(ctx, merchantID, lost)
		if err != nil {
			return nil, fmt.Errorf("keybind -> find free key: %w", err)
		}
		if key == nil {
			return nil, ErrNoKeyAvailable
		}

		now := s.now()
		err = s.pool.Claim(ctx, key.ID, machineID, lineID, busNO, now)
		switch {
		case err == nil:
			key.IsInUse = true
			key.MachineID = machineID
			key.LineID = lineID
			key.BusNO = busNO
			key.UpdateTime = now
			s.log.WithFields(logrus.Fields{
				"merchant_id": merchantID,
				"machine_id":  machineID,
				"key_id":      key.ID,
				"up_key":      function.MaskKey(key.UPKey),
			}).Info("keybind -> key claimed")
			return key, nil
		case errors.Is(err, repo.ErrConflict):
			lost = append(lost, key.ID)
		default:
			return nil, fmt.Errorf("keybind -> claim key %d: %w", key.ID, err)
		}
	}
	return nil, ErrContention
}
