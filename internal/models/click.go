package models

import (
	"time"
)

// Click is append-only. ID order is insertion order and breaks timestamp ties
// when picking the first click of a visitor.
type Click struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Code       string    `gorm:"not null;size:16;index" json:"code"`
	VisitorID  string    `gorm:"not null;size:128;index:idx_clicks_visitor_first,priority:1" json:"visitor_id"`
	LinkID     *uint     `gorm:"index" json:"link_id,omitempty"`
	Timestamp  time.Time `gorm:"not null;index;index:idx_clicks_visitor_first,priority:2" json:"timestamp"`
	CodeActive bool      `gorm:"not null" json:"code_active"`
	Country    string    `gorm:"size:100;default:'Unknown'" json:"country"`
	DeviceType string    `gorm:"size:50" json:"device_type"`
	Referrer   string    `gorm:"size:255" json:"referrer,omitempty"`
}

func (Click) TableName() string {
	return "clicks"
}

// Signup carries the attributed code, or nil when the visitor had no click.
type Signup struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"uniqueIndex;not null;size:64" json:"user_id"`
	VisitorID string    `gorm:"not null;size:128;index" json:"visitor_id"`
	Code      *string   `gorm:"size:16;index" json:"code"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

func (Signup) TableName() string {
	return "signups"
}

func (s Signup) Attributed() bool {
	return s.Code != nil && *s.Code != ""
}
