package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// MsgBoxFirstUnread returns the oldest Sent entry for the terminal, or nil.
func MsgBoxFirstUnread(ctx context.Context, db *gorm.DB, terminalID string) (*MsgBox, error) {
	var box MsgBox
	err := db.WithContext(ctx).Preload("Content").
		Where("terminal_id = ? AND status = ?", terminalID, MsgStatusSent).
		Order("id ASC").
		First(&box).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &box, nil
}

// MsgBoxMarkRead moves Sent -> Read. It reports false when the entry was
// already past Sent.
func MsgBoxMarkRead(ctx context.Context, db *gorm.DB, id int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&MsgBox{}).
		Where("id = ? AND status < ?", id, MsgStatusRead).
		Updates(map[string]any{"status": MsgStatusRead, "read_time": now})
	return result.RowsAffected > 0, result.Error
}

// MsgBoxMarkReplied moves an entry of terminalID to Replied unless it is
// already there.
func MsgBoxMarkReplied(ctx context.Context, db *gorm.DB, terminalID string, id int64, code, content string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&MsgBox{}).
		Where("id = ? AND terminal_id = ? AND status < ?", id, terminalID, MsgStatusReplied).
		Updates(map[string]any{
			"status":        MsgStatusReplied,
			"reply_time":    now,
			"reply_code":    code,
			"reply_content": content,
		})
	return result.RowsAffected > 0, result.Error
}

// MsgBoxUnreadCounts returns the Sent count per terminal.
func MsgBoxUnreadCounts(ctx context.Context, db *gorm.DB) (map[string]int, error) {
	var rows []struct {
		TerminalID string
		Cnt        int
	}
	err := db.WithContext(ctx).Model(&MsgBox{}).
		Select("terminal_id, COUNT(*) AS cnt").
		Where("status = ?", MsgStatusSent).
		Group("terminal_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.TerminalID] = r.Cnt
	}
	return out, nil
}

// MsgBoxSend stores content once and queues it for every terminal.
func MsgBoxSend(ctx context.Context, db *gorm.DB, content *MsgContent, terminalIDs []string, now time.Time) ([]MsgBox, error) {
	var boxes []MsgBox
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(content).Error; err != nil {
			return err
		}
		for _, id := range terminalIDs {
			boxes = append(boxes, MsgBox{
				MerchantID:   content.MerchantID,
				TerminalID:   id,
				MsgContentID: content.ID,
				Status:       MsgStatusSent,
				SendTime:     now,
			})
		}
		if len(boxes) == 0 {
			return nil
		}
		return tx.Omit("Content").Create(&boxes).Error
	})
	return boxes, err
}
