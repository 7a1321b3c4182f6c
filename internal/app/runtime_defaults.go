package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/database"
)

const codesKeyBytes = 32

// ApplyRuntimeDefaults fills secrets that were not configured. The assignment-code key is
// persisted in system settings so codes issued before a restart still decode afterwards.
// The returned map lists generated keys so callers can log the event without exposing values.
func ApplyRuntimeDefaults(ctx context.Context, cfg *Config, db *gorm.DB) (map[string]bool, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Codes.EncryptionKey) == "" {
		if db == nil {
			return nil, errors.New("codes key: database is required to persist a generated key")
		}
		key, created, err := database.LoadOrStoreSetting(ctx, db, database.CodesEncryptionKeySetting, func() (string, error) {
			return generateHexKey(codesKeyBytes)
		})
		if err != nil {
			return nil, fmt.Errorf("codes key: %w", err)
		}
		cfg.Codes.EncryptionKey = key
		generated[database.CodesEncryptionKeySetting] = created
	}

	if err := ValidateCodesKey(cfg.Codes.EncryptionKey); err != nil {
		return nil, err
	}
	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
