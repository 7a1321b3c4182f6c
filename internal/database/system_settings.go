package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/models"
)

// CodesEncryptionKeySetting persists the key used to seal agency-token assignment codes.
const CodesEncryptionKeySetting = "codes.encryption_key"

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return "", nil
	}
	return "", fmt.Errorf("system settings: get %q: %w", key, err)
}

// UpsertSystemSetting stores or updates a system setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{
		Key:   key,
		Value: value,
	}

	if err := db.WithContext(ctx).
		Where("key = ?", key).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}

	return nil
}

// LoadOrStoreSetting returns the stored value for key. When none exists it stores the
// value produced by generate and reports created=true.
func LoadOrStoreSetting(ctx context.Context, db *gorm.DB, key string, generate func() (string, error)) (value string, created bool, err error) {
	current, err := GetSystemSetting(ctx, db, key)
	if err != nil {
		return "", false, err
	}
	if strings.TrimSpace(current) != "" {
		return current, false, nil
	}

	value, err = generate()
	if err != nil {
		return "", false, fmt.Errorf("system settings: generate %q: %w", key, err)
	}
	if err := UpsertSystemSetting(ctx, db, key, value); err != nil {
		return "", false, err
	}
	return value, true, nil
}
