package models

import (
	"time"
)

type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventID   string    `gorm:"uniqueIndex;size:36;not null" json:"event_id"`
	Actor     string    `gorm:"size:64;index" json:"actor"`            // owner, billing, payout, scheduler
	Action    string    `gorm:"size:50;not null;index" json:"action"`  // e.g., "CODE_ISSUED", "COMMISSION_REVERSED"
	EntityID  string    `gorm:"size:128;index" json:"entity_id"`       // code, order id or commission id
	Details   string    `gorm:"type:text" json:"details"`
	Timestamp time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"timestamp"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// All lists every persisted model, in dependency order for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&ReferralCode{}, &TrackingLink{}, &Click{}, &Signup{},
		&Conversion{}, &Commission{}, &AuditLog{},
	}
}
