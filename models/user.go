package models

import (
	"strings"

	"github.com/google/uuid"
)

// WebUser mirrors the shop's `users` table (read-only).
// The player identity is stored as a 32-char hex string without dashes.
type WebUser struct {
	ID   int64  `gorm:"column:id;primaryKey" json:"id"`
	UUID string `gorm:"column:uuid;size:32;uniqueIndex" json:"uuid"`
}

func (WebUser) TableName() string {
	return "users"
}

// CompactUUID renders a player identity the way the shop stores it.
func CompactUUID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
