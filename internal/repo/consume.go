package repo

import (
	"context"

	"gorm.io/gorm"
)

// ConsumeDataInsertBatch writes rows in chunks of batchSize inside one
// transaction.
func ConsumeDataInsertBatch(ctx context.Context, db *gorm.DB, rows []ConsumeData, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, batchSize).Error
	})
}

func ConsumeDataCount(ctx context.Context, db *gorm.DB, merchantID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&ConsumeData{}).Where("merchant_id = ?", merchantID).Count(&n).Error
	return n, err
}
