package data

import (
	"time"

	"gorm.io/gorm"
)

// Transfer is the outcome of one command issued on a control connection.
type Transfer struct {
	ID uint64 `gorm:"primaryKey"`

	SessionID  string `gorm:"index"`
	ClientIP   string
	ClientHost string

	Command  string
	Argument string
	DataPort int
	// Status is "OK" for a completed transfer, the status string sent to the
	// client for a rejected command, or a short description of why the
	// session ended early.
	Status string

	AnnouncedBytes int64
	SentBytes      int64
	// Digest is the hex XXH3-64 of the bytes written to the data channel.
	Digest string

	StartedAt time.Time `gorm:"index"`
	Duration  time.Duration
}

// RecordTransfer persists t.
func RecordTransfer(db *gorm.DB, t *Transfer) error {
	return db.Create(t).Error
}

// RecentTransfers returns up to limit of the most recently started transfers,
// newest first.
func RecentTransfers(db *gorm.DB, limit int) ([]Transfer, error) {
	var transfers []Transfer
	err := db.Order("started_at desc").Order("id desc").Limit(limit).Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// FindTransfersBySession returns every transfer made on one control
// connection in the order they were issued.
func FindTransfersBySession(db *gorm.DB, sessionID string) ([]Transfer, error) {
	var transfers []Transfer
	err := db.Where("session_id = ?", sessionID).Order("id").Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}
