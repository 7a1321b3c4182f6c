package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/seatkeeper/internal/handlers/testutil"
)

func TestHealthMetricsAndNotFound(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, testutil.DecodeResponse(t, w).Success)

	w = env.Request(http.MethodGet, "/health/ready", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"component":"database"`)

	w = env.Request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "seatkeeper_api_latency_seconds")

	testutil.RequireError(t, env.Request(http.MethodGet, "/api/nowhere", nil, ""), http.StatusNotFound, "NOT_FOUND")
}

func TestPublicRoutesAreRateLimited(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithRateLimit(2))

	body := map[string]string{"code": "UnknownCode_0123456789"}
	for i := 0; i < 2; i++ {
		w := env.Request(http.MethodPost, "/api/codes/resolve", body, "")
		require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	}
	testutil.RequireError(t, env.Request(http.MethodPost, "/api/codes/resolve", body, ""), http.StatusTooManyRequests, "TOO_MANY_REQUESTS")

	// Other routes keep their own budget.
	w := env.Request(http.MethodPost, "/api/reactivations", map[string]string{"email": "nobody@example.org"}, "")
	assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
}
