package repo

import (
	"context"

	"gorm.io/gorm"
)

// IncrementLastSerial returns the highest serial for (merchant, type); ok is
// false when the log is empty.
func IncrementLastSerial(ctx context.Context, db *gorm.DB, merchantID, incrementType string) (serial int64, ok bool, err error) {
	var row IncrementContent
	err = db.WithContext(ctx).Select("serial_num").
		Where("merchant_id = ? AND increment_type = ?", merchantID, incrementType).
		Order("serial_num DESC").
		First(&row).Error
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.SerialNum, true, nil
}

// IncrementAfter lists up to limit entries with serial > cur, ascending.
func IncrementAfter(ctx context.Context, db *gorm.DB, merchantID, incrementType string, cur int64, limit int) ([]IncrementContent, error) {
	var rows []IncrementContent
	err := db.WithContext(ctx).
		Where("merchant_id = ? AND increment_type = ? AND serial_num > ?", merchantID, incrementType, cur).
		Order("serial_num ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func IncrementAppend(ctx context.Context, db *gorm.DB, rows ...IncrementContent) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&rows).Error
}
