package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ConversionStatus string

const (
	ConversionPending   ConversionStatus = "pending"
	ConversionQualified ConversionStatus = "qualified"
	ConversionVoided    ConversionStatus = "voided"
)

// Conversion is keyed by OrderID; a redelivered order never creates a second row.
type Conversion struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	OrderID   string           `gorm:"uniqueIndex;not null;size:128" json:"order_id"`
	UserID    string           `gorm:"not null;size:64;index" json:"user_id"`
	Amount    decimal.Decimal  `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency  string           `gorm:"not null;size:3" json:"currency"`
	Timestamp time.Time        `gorm:"not null;index:idx_conversions_status_ts,priority:2" json:"timestamp"`
	Status    ConversionStatus `gorm:"not null;size:16;index:idx_conversions_status_ts,priority:1" json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (Conversion) TableName() string {
	return "conversions"
}
