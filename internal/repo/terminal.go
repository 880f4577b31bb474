package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TerminalRecord pairs a terminal with its 1:1 status row.
type TerminalRecord struct {
	Terminal Terminal
	Status   TerminalStatus
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// TerminalGet returns nil, nil when the terminal does not exist.
func TerminalGet(ctx context.Context, db *gorm.DB, id string) (*TerminalRecord, error) {
	var rec TerminalRecord
	if err := db.WithContext(ctx).Where("id = ?", id).First(&rec.Terminal).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if err := db.WithContext(ctx).Where("id = ?", id).First(&rec.Status).Error; err != nil && !isNotFound(err) {
		return nil, err
	}
	rec.Status.ID = id
	return &rec, nil
}

// TerminalLoadAll reads every terminal with its status for cold start.
func TerminalLoadAll(ctx context.Context, db *gorm.DB) ([]TerminalRecord, error) {
	var terminals []Terminal
	if err := db.WithContext(ctx).Order("id").Find(&terminals).Error; err != nil {
		return nil, err
	}
	var statuses []TerminalStatus
	if err := db.WithContext(ctx).Find(&statuses).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]TerminalStatus, len(statuses))
	for _, s := range statuses {
		byID[s.ID] = s
	}
	out := make([]TerminalRecord, 0, len(terminals))
	for _, t := range terminals {
		s, ok := byID[t.ID]
		if !ok {
			s = TerminalStatus{ID: t.ID, ActiveStatus: ActiveStatusInactive}
		}
		out = append(out, TerminalRecord{Terminal: t, Status: s})
	}
	return out, nil
}

// TerminalSave upserts the terminal and its status in one transaction.
func TerminalSave(ctx context.Context, db *gorm.DB, rec *TerminalRecord) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec.Terminal).Error; err != nil {
			return err
		}
		rec.Status.ID = rec.Terminal.ID
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec.Status).Error
	})
}

// TerminalStatusUpdateLastActive writes a batch of last-active timestamps.
func TerminalStatusUpdateLastActive(ctx context.Context, db *gorm.DB, times map[string]time.Time) error {
	if len(times) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, t := range times {
			result := tx.Model(&TerminalStatus{}).Where("id = ?", id).Update("last_active_time", t)
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
}

func TerminalStatusSetInactive(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Model(&TerminalStatus{}).Where("id = ?", id).
		Updates(map[string]any{
			"active_status":  ActiveStatusInactive,
			"login_off_time": now,
		}).Error
}
