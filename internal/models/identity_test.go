package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "learner@agency.gov.uk", NormalizeEmail("  Learner@Agency.GOV.uk "))
}

func TestEmailDomain(t *testing.T) {
	cases := map[string]string{
		"learner@Agency.gov.uk": "agency.gov.uk",
		"a@b@example.com":       "example.com",
		"no-at-sign":            "",
		"trailing@":             "",
	}
	for in, want := range cases {
		require.Equal(t, want, EmailDomain(in), in)
	}
}

func TestIdentityBeforeSaveNormalisesEmail(t *testing.T) {
	identity := &Identity{Email: " Mixed@Example.COM"}
	require.NoError(t, identity.BeforeSave(nil))
	require.Equal(t, "mixed@example.com", identity.Email)
	require.Equal(t, "example.com", identity.Domain())
}

func TestIdentityHasToken(t *testing.T) {
	uid := "token-a"
	identity := &Identity{}
	require.False(t, identity.HasToken(uid))

	identity.AgencyTokenUID = &uid
	require.True(t, identity.HasToken("token-a"))
	require.False(t, identity.HasToken("token-b"))
}

func TestSessionLive(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	session := &Session{ExpiresAt: now.Add(time.Hour)}
	require.True(t, session.Live(now))
	require.False(t, session.Live(now.Add(2*time.Hour)))

	session.RevokedAt = &now
	require.False(t, session.Live(now))
}
