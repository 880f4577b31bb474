package repo

import (
	"context"

	"gorm.io/gorm"
)

const (
	EventSignIn         = 1
	EventSignOut        = 2
	EventPropertyChange = 3
	EventVersionChange  = 4
	EventConnClosed     = 5
	EventDownloadStart  = 6
	EventDownloadEnd    = 7
)

const (
	SeverityInfo    = 1
	SeverityWarning = 2
)

func TerminalEventInsertBatch(ctx context.Context, db *gorm.DB, events []TerminalEvent) error {
	if len(events) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(&events, 100).Error
}

func TerminalEventFind(ctx context.Context, db *gorm.DB, terminalID string) ([]TerminalEvent, error) {
	var rows []TerminalEvent
	err := db.WithContext(ctx).Where("terminal_id = ?", terminalID).Order("id ASC").Find(&rows).Error
	return rows, err
}
