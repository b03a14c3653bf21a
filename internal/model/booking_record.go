package model

import "time"

// BookingRecord archives one reported booking outcome. Two successes for
// genuinely different slots in quick succession both get rows; the archive
// never reconciles, the provider is the final arbiter.
type BookingRecord struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	ClientID    string    `gorm:"size:64;index" json:"clientId"`
	ClientName  string    `gorm:"size:256" json:"clientName"`
	Outcome     string    `gorm:"size:32;index" json:"outcome"`
	Reason      string    `gorm:"size:512" json:"reason,omitempty"`
	RedirectURL string    `gorm:"size:1024" json:"redirectUrl,omitempty"`
	SlotDate    string    `gorm:"size:32" json:"date"`
	SlotID      string    `gorm:"size:64" json:"slotId"`
	SlotTime    string    `gorm:"size:32" json:"time"`
	CreatedAt   time.Time `json:"createdAt"`
}
