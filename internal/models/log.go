package models

import "time"

// AuditLog is one append-only audit entry (timestamp, action, structured payload).
type AuditLog struct {
	ID         uint      `gorm:"primaryKey"`
	SessionID  string    `gorm:"size:64;index"`
	UserID     string    `gorm:"size:128;index"`
	Action     string    `gorm:"size:64;index;not null"`
	Payload    string    `gorm:"size:4096"` // plaintext JSON, used when no encryption key is configured
	PayloadEnc string    `gorm:"size:8192"` // AES-GCM + base64 JSON payload
	CreatedAt  time.Time `gorm:"index"`
}
