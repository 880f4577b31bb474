package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// UnionPayKeyFindBound returns the key already held by the machine, or nil.
func UnionPayKeyFindBound(ctx context.Context, db *gorm.DB, merchantID, machineID string) (*UnionPayTerminalKey, error) {
	var key UnionPayTerminalKey
	err := db.WithContext(ctx).
		Where("merchant_id = ? AND machine_id = ? AND is_in_use = ?", merchantID, machineID, true).
		First(&key).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// UnionPayKeyFindFree returns the lowest-id unused key not in exclude, or nil.
func UnionPayKeyFindFree(ctx context.Context, db *gorm.DB, merchantID string, exclude []int64) (*UnionPayTerminalKey, error) {
	var key UnionPayTerminalKey
	q := db.WithContext(ctx).Where("merchant_id = ? AND is_in_use = ?", merchantID, false)
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	if err := q.Order("id ASC").First(&key).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// UnionPayKeyClaim flips is_in_use false -> true for one record. ErrConflict
// means another writer claimed it first.
func UnionPayKeyClaim(ctx context.Context, db *gorm.DB, id int64, machineID, lineID, busNO string, now time.Time) error {
	result := db.WithContext(ctx).Model(&UnionPayTerminalKey{}).
		Where("id = ? AND is_in_use = ?", id, false).
		Updates(map[string]any{
			"is_in_use":   true,
			"machine_id":  machineID,
			"line_id":     lineID,
			"bus_no":      busNO,
			"update_time": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
