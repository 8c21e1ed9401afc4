package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Redemption records one accepted scan. It is the persistent audit trail the
// ephemeral QR payload never gets: who ate, on which civil day, scanned by whom.
type Redemption struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"type:uuid;not null;index:idx_redemptions_user_date,unique" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`

	// ScanDate is the payload's civil date, part of the unique key so a holder
	// can redeem at most once per day at the storage layer as well.
	ScanDate  string `gorm:"not null;index:idx_redemptions_user_date,unique;index" json:"scan_date"`
	ClassInfo string `json:"class_info"`
	Nonce     string `json:"nonce"`

	ScannedBy string `gorm:"type:uuid" json:"scanned_by"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (r *Redemption) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
