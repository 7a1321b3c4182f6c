package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/seatkeeper/internal/handlers/testutil"
)

func TestLoginRefreshLogout(t *testing.T) {
	env := testutil.NewEnv(t)
	identity := env.CreateIdentity("learner@example.org", "learner-pass", true)

	w := env.Request(http.MethodPost, "/api/auth/login", map[string]string{"email": "learner@example.org", "password": "nope"}, "")
	testutil.RequireError(t, w, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	login := env.Login("learner@example.org", "learner-pass")
	assert.Equal(t, identity.ID, login.Identity.ID)

	w = env.Request(http.MethodGet, "/api/me", nil, login.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")

	w = env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"token": login.Token}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var refreshed testutil.LoginResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &refreshed)
	require.NotEqual(t, login.Token, refreshed.Token)

	testutil.RequireError(t, env.Request(http.MethodGet, "/api/me", nil, login.Token), http.StatusUnauthorized, "UNAUTHORIZED")

	w = env.Request(http.MethodPost, "/api/auth/logout", nil, refreshed.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.RequireError(t, env.Request(http.MethodGet, "/api/me", nil, refreshed.Token), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestInactiveIdentityCannotLogin(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateIdentity("dormant@example.org", "dormant-pass", false)

	w := env.Request(http.MethodPost, "/api/auth/login", map[string]string{"email": "dormant@example.org", "password": "dormant-pass"}, "")
	testutil.RequireError(t, w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
}
