package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit results.
const (
	AuditResultSuccess = "success"
	AuditResultFailure = "failure"
	AuditResultDenied  = "denied"
)

type AuditLog struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	UserID    *string        `gorm:"index;size:64" json:"user_id"`
	Actor     string         `gorm:"size:191" json:"actor"`
	Action    string         `gorm:"not null;index;size:128" json:"action"`
	Resource  string         `gorm:"index;size:191" json:"resource"`
	Result    string         `gorm:"not null;size:16" json:"result"`
	IPAddress string         `gorm:"size:64" json:"ip_address"`
	UserAgent string         `json:"user_agent"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
