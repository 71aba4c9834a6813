package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CommissionStatus string

const (
	CommissionAccrued  CommissionStatus = "accrued"
	CommissionPaid     CommissionStatus = "paid"
	CommissionReversed CommissionStatus = "reversed"
)

// Terminal reports whether no further transition is allowed.
func (s CommissionStatus) Terminal() bool {
	return s == CommissionPaid || s == CommissionReversed
}

// Commission is unique per conversion. Voiding reverses it, nothing deletes it.
type Commission struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	Code         string           `gorm:"not null;size:16;index" json:"code"`
	ConversionID uint             `gorm:"uniqueIndex;not null" json:"conversion_id"`
	Amount       decimal.Decimal  `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency     string           `gorm:"not null;size:3" json:"currency"`
	Tier         string           `gorm:"not null;size:64" json:"tier"`
	Rate         decimal.Decimal  `gorm:"type:numeric(10,6);not null" json:"rate"`
	Status       CommissionStatus `gorm:"not null;size:16;index" json:"status"`
	CreatedAt    time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	PaidAt       *time.Time       `json:"paid_at,omitempty"`
	ReversedAt   *time.Time       `json:"reversed_at,omitempty"`
}

func (Commission) TableName() string {
	return "commissions"
}
