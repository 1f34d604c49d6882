package database

import "time"

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RateLimitOverride replaces the default publish rate limit for one client key
// (IP or bearer token). PerMinute <= 0 disables the override.
type RateLimitOverride struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string    `gorm:"uniqueIndex;not null;size:128" json:"key"`
	PerMinute int       `gorm:"not null;default:0" json:"per_minute"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TerminalAudit records one terminal connection lifecycle.
type TerminalAudit struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ConnectionID   string     `gorm:"uniqueIndex;not null;size:64" json:"connection_id"`
	RemoteAddr     string     `gorm:"size:64" json:"remote_addr"`
	Authenticated  bool       `gorm:"not null;default:false" json:"authenticated"`
	ConnectedAt    time.Time  `gorm:"autoCreateTime" json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at"`
	ExitCode       *int       `json:"exit_code"`
}
