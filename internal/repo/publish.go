package repo

import (
	"context"

	"gorm.io/gorm"
)

func FilePublishFindByMerchant(ctx context.Context, db *gorm.DB, merchantID string) ([]FilePublish, error) {
	var rows []FilePublish
	err := db.WithContext(ctx).Where("merchant_id = ?", merchantID).Order("id ASC").Find(&rows).Error
	return rows, err
}

func FilePublishSave(ctx context.Context, db *gorm.DB, row *FilePublish) error {
	return db.WithContext(ctx).Save(row).Error
}
