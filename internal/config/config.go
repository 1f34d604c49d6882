package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":18795"`
	DataPath   string `envconfig:"DATA_PATH" default:"/app/data"`
	LogPath    string `envconfig:"LOG_PATH" default:""`

	// Access control. AccessCode is the shared secret browsers present; when
	// AccessCodeHash (bcrypt) is set it takes precedence and AccessCode is ignored.
	AccessCode     string `envconfig:"ACCESS_CODE" default:""`
	AccessCodeHash string `envconfig:"ACCESS_CODE_HASH" default:""`
	AuthDisabled   bool   `envconfig:"AUTH_DISABLED" default:"false"`

	// Mailbox settings
	MailboxBackend string        `envconfig:"MAILBOX_BACKEND" default:"memory"` // "memory" or "redis"
	RedisURL       string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	MailboxTTL     time.Duration `envconfig:"MAILBOX_TTL" default:"5m"`
	MailboxCap     int           `envconfig:"MAILBOX_CAP" default:"100"`

	// Publish rate limiting
	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`

	// Live stream settings
	StreamHeartbeat   time.Duration `envconfig:"STREAM_HEARTBEAT" default:"15s"`
	StreamIdleCeiling time.Duration `envconfig:"STREAM_IDLE_CEILING" default:"30m"`

	// Terminal settings
	TerminalAuthTimeout time.Duration `envconfig:"TERMINAL_AUTH_TIMEOUT" default:"10s"`
	TerminalHostURL     string        `envconfig:"TERMINAL_HOST_URL" default:""`

	// Retention for terminal connection audit records
	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"7"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SASHA", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
