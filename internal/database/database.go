package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/enderfga/sasha-relay/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := filepath.Join(config.Cfg.DataPath, "sasha-relay.db")
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Setting{}, &RateLimitOverride{}, &TerminalAudit{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if err := seedDefaults(); err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}

	return nil
}

func seedDefaults() error {
	defaults := map[string]string{
		"terminal_host_url":   "",
		"terminal_host_token": "",
	}

	for key, value := range defaults {
		var count int64
		DB.Model(&Setting{}).Where("key = ?", key).Count(&count)
		if count == 0 {
			if err := DB.Create(&Setting{Key: key, Value: value}).Error; err != nil {
				return fmt.Errorf("seed setting %s: %w", key, err)
			}
		}
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// GetRateLimitOverride returns the per-minute override for a client key, or 0
// when none is configured.
func GetRateLimitOverride(key string) int {
	if DB == nil {
		return 0
	}
	var o RateLimitOverride
	if err := DB.Where("key = ?", key).First(&o).Error; err != nil {
		return 0
	}
	return o.PerMinute
}

// PurgeTerminalAudits deletes audit rows older than the retention window.
func PurgeTerminalAudits(retention time.Duration) (int64, error) {
	if DB == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention)
	res := DB.Where("connected_at < ?", cutoff).Delete(&TerminalAudit{})
	return res.RowsAffected, res.Error
}
