package auth

import (
	"crypto/subtle"

	"github.com/enderfga/sasha-relay/internal/config"
	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 12

// HashAccessCode produces a bcrypt hash suitable for SASHA_ACCESS_CODE_HASH.
func HashAccessCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyCode checks a presented access code against the configured secret.
// A bcrypt hash takes precedence over the plaintext code; with neither
// configured (and auth not disabled) every code is rejected.
func VerifyCode(code string) bool {
	if config.Cfg.AuthDisabled {
		return true
	}
	if config.Cfg.AccessCodeHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(config.Cfg.AccessCodeHash), []byte(code)) == nil
	}
	if config.Cfg.AccessCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(config.Cfg.AccessCode)) == 1
}
