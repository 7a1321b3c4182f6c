package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/seatkeeper/internal/database"
	"github.com/charlesng35/seatkeeper/internal/database/testutil"
)

func TestApplyRuntimeDefaultsPersistsCodesKey(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()

	first := &Config{}
	generated, err := ApplyRuntimeDefaults(ctx, first, db)
	require.NoError(t, err)
	require.True(t, generated[database.CodesEncryptionKeySetting])
	require.Equal(t, 32, KeyByteLength(first.Codes.EncryptionKey))

	second := &Config{}
	generated, err = ApplyRuntimeDefaults(ctx, second, db)
	require.NoError(t, err)
	require.False(t, generated[database.CodesEncryptionKeySetting])
	require.Equal(t, first.Codes.EncryptionKey, second.Codes.EncryptionKey)
}

func TestApplyRuntimeDefaultsKeepsConfiguredKey(t *testing.T) {
	key := strings.Repeat("1a", 16)
	cfg := &Config{Codes: CodesConfig{EncryptionKey: key}}

	generated, err := ApplyRuntimeDefaults(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, key, cfg.Codes.EncryptionKey)
}

func TestApplyRuntimeDefaultsRejectsBadKey(t *testing.T) {
	cfg := &Config{Codes: CodesConfig{EncryptionKey: "short"}}
	_, err := ApplyRuntimeDefaults(context.Background(), cfg, nil)
	require.Error(t, err)

	_, err = ApplyRuntimeDefaults(context.Background(), nil, nil)
	require.Error(t, err)
}
