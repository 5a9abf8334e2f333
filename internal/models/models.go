package models

import (
	"time"
)

type User struct {
	ID           string    `gorm:"primaryKey;size:64"        json:"id"`
	Username     string    `gorm:"uniqueIndex;not null"      json:"username"`
	DisplayName  string    `gorm:"not null"                  json:"display_name"`
	PasswordHash string    `gorm:"not null"                  json:"-"`
	Role         string    `gorm:"not null"                  json:"role"`
	Active       bool      `gorm:"not null"                  json:"active"`
	CreatedAt    time.Time `                                 json:"created_at"`
	UpdatedAt    time.Time `                                 json:"updated_at"`
}

type LedgerEntry struct {
	ID        uint      `gorm:"primaryKey"                 json:"id"`
	TokenID   string    `gorm:"uniqueIndex;not null"       json:"token_id"`
	UserID    string    `gorm:"index;not null"             json:"user_id"`
	IssuedAt  time.Time `gorm:"not null"                   json:"issued_at"`
	ExpiresAt time.Time `gorm:"index;not null"             json:"expires_at"`
	Revoked   bool      `gorm:"not null;default:false"     json:"revoked"`

	OriginalAdminID   string `gorm:"size:64" json:"original_admin_id,omitempty"`
	OriginalAdminName string `json:"original_admin_name,omitempty"`
}

func (LedgerEntry) TableName() string { return "token_ledger" }
