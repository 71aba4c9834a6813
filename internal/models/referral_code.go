package models

import (
	"time"
)

// ReferralCode is the short code handed to an owner. Codes are deactivated,
// never deleted, so a code value is never reissued.
type ReferralCode struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Code          string     `gorm:"uniqueIndex;not null;size:16" json:"code"`
	OwnerID       string     `gorm:"not null;size:64;index;uniqueIndex:idx_referral_codes_owner_active,where:active" json:"owner_id"`
	Active        bool       `gorm:"not null" json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

func (ReferralCode) TableName() string {
	return "referral_codes"
}

// TrackingLink is immutable once created.
type TrackingLink struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Code        string    `gorm:"not null;size:16;index" json:"code"`
	BaseURL     string    `gorm:"not null;type:text" json:"base_url"`
	UTMSource   string    `gorm:"not null;size:255" json:"utm_source"`
	UTMMedium   string    `gorm:"not null;size:255" json:"utm_medium"`
	UTMCampaign string    `gorm:"not null;size:255" json:"utm_campaign"`
	UTMTerm     *string   `gorm:"size:255" json:"utm_term,omitempty"`
	UTMContent  *string   `gorm:"size:255" json:"utm_content,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (TrackingLink) TableName() string {
	return "tracking_links"
}
