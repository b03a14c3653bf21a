package model

import "time"

// SlotEvent archives one SLOT_FOUND report: which client saw which slots for
// which hunt parameter, one row per slot.
type SlotEvent struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	ClientID   string    `gorm:"size:64;index" json:"clientId"`
	ClientName string    `gorm:"size:256" json:"clientName"`
	Param      string    `gorm:"size:256" json:"param"`
	SlotDate   string    `gorm:"size:32" json:"date"`
	SlotID     string    `gorm:"size:64" json:"slotId"`
	SlotTime   string    `gorm:"size:32" json:"time"`
	ReportedAt time.Time `gorm:"index" json:"reportedAt"`
}
