package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/models"
)

func TestGetAndUpsertSystemSetting(t *testing.T) {
	db := openSystemSettingTestDB(t)

	value, err := GetSystemSetting(context.Background(), db, "missing")
	require.NoError(t, err)
	require.Equal(t, "", value)

	require.NoError(t, UpsertSystemSetting(context.Background(), db, "sample", "value1"))

	retrieved, err := GetSystemSetting(context.Background(), db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value1", retrieved)

	require.NoError(t, UpsertSystemSetting(context.Background(), db, "sample", "value2"))

	retrieved, err = GetSystemSetting(context.Background(), db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value2", retrieved)
}

func TestUpsertSystemSettingRequiresKey(t *testing.T) {
	db := openSystemSettingTestDB(t)
	require.Error(t, UpsertSystemSetting(context.Background(), db, "  ", "v"))
}

func TestLoadOrStoreSetting(t *testing.T) {
	db := openSystemSettingTestDB(t)
	calls := 0
	generate := func() (string, error) {
		calls++
		return "generated-key", nil
	}

	value, created, err := LoadOrStoreSetting(context.Background(), db, CodesEncryptionKeySetting, generate)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "generated-key", value)

	value, created, err = LoadOrStoreSetting(context.Background(), db, CodesEncryptionKeySetting, generate)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "generated-key", value)
	require.Equal(t, 1, calls)
}

func TestLoadOrStoreSettingPropagatesGeneratorError(t *testing.T) {
	db := openSystemSettingTestDB(t)

	_, _, err := LoadOrStoreSetting(context.Background(), db, "k", func() (string, error) {
		return "", errors.New("no entropy")
	})
	require.ErrorContains(t, err, "no entropy")
}

func openSystemSettingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db := openTestDB(t)
	require.NoError(t, db.AutoMigrate(&models.SystemSetting{}))
	return db
}
