package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/seatkeeper/internal/app"
)

type roleCounter struct {
	count int64
	err   error
}

func (r roleCounter) CountActiveWithRole(context.Context, string) (int64, error) {
	return r.count, r.err
}

func statuses(result Result) map[string]CheckStatus {
	out := make(map[string]CheckStatus, len(result.Checks))
	for _, check := range result.Checks {
		out[check.ID] = check.Status
	}
	return out
}

func TestAuditServiceRunHealthyConfig(t *testing.T) {
	cfg := &app.Config{
		Codes: app.CodesConfig{
			EncryptionKey: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
			BaseURL:       "https://learn.example.org",
		},
		Auth:          app.AuthConfig{Session: app.SessionSettings{TTL: 12 * time.Hour}},
		Notifications: app.NotificationsConfig{Driver: "smtp"},
		Email:         app.EmailConfig{SMTP: app.SMTPConfig{Enabled: true, UseTLS: true}},
	}

	svc := NewAuditService(cfg, roleCounter{count: 2}, "admin")
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return fixed })

	result := svc.Run(context.Background())
	require.Equal(t, fixed, result.CheckedAt)
	require.Len(t, result.Checks, 5)
	require.Equal(t, 5, result.Summary[string(StatusPass)])
}

func TestAuditServiceRunFlagsRisks(t *testing.T) {
	cfg := &app.Config{
		Codes: app.CodesConfig{
			EncryptionKey: "0123456789abcdef0123456789abcdef",
			BaseURL:       "http://learn.example.org",
		},
		Auth:          app.AuthConfig{Session: app.SessionSettings{TTL: 90 * 24 * time.Hour}},
		Notifications: app.NotificationsConfig{Driver: "smtp"},
	}

	result := NewAuditService(cfg, roleCounter{}, "admin").Run(context.Background())
	got := statuses(result)
	require.Equal(t, StatusWarn, got["admin_present"])
	require.Equal(t, StatusWarn, got["codes_encryption_key"])
	require.Equal(t, StatusWarn, got["link_scheme"])
	require.Equal(t, StatusWarn, got["session_ttl"])
	require.Equal(t, StatusWarn, got["mail_transport"])
	require.Equal(t, 5, result.Summary[string(StatusWarn)])
}

func TestAuditServiceRunFailures(t *testing.T) {
	cfg := &app.Config{Codes: app.CodesConfig{EncryptionKey: "short", BaseURL: "learn"}}

	got := statuses(NewAuditService(cfg, roleCounter{err: errors.New("db down")}, "admin").Run(context.Background()))
	require.Equal(t, StatusWarn, got["admin_present"])
	require.Equal(t, StatusFail, got["codes_encryption_key"])
	require.Equal(t, StatusFail, got["link_scheme"])

	localhost := &app.Config{Codes: app.CodesConfig{BaseURL: "http://localhost:8000"}}
	require.Equal(t, StatusPass, statuses(NewAuditService(localhost, nil, "admin").Run(context.Background()))["link_scheme"])

	require.Equal(t, StatusFail, statuses(NewAuditService(nil, nil, "admin").Run(context.Background()))["configuration"])
}
