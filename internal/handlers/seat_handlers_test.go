package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/seatkeeper/internal/handlers/testutil"
	"github.com/charlesng35/seatkeeper/internal/services"
)

func TestSeatRoutesRequireAdmin(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateIdentity("learner@example.org", "learner-pass", true, "learner")
	learner := env.Login("learner@example.org", "learner-pass")

	paths := []struct{ method, path string }{
		{http.MethodPost, "/api/invites"},
		{http.MethodPost, "/api/agency-tokens"},
		{http.MethodPost, "/api/agency-tokens/abc/admissions"},
		{http.MethodGet, "/api/agency-tokens/abc/availability"},
		{http.MethodPost, "/api/identities/abc/release-token"},
	}
	for _, p := range paths {
		w := env.Request(p.method, p.path, map[string]string{}, "")
		testutil.RequireError(t, w, http.StatusUnauthorized, "UNAUTHORIZED")

		w = env.Request(p.method, p.path, map[string]string{}, learner.Token)
		testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")
	}
}

func TestAdmitReleaseAndCapacity(t *testing.T) {
	env := testutil.NewEnv(t)
	admin := adminToken(env)
	learner := env.CreateIdentity("member@agency.gov.uk", "member-pass", true)
	peer := env.CreateIdentity("peer@agency.gov.uk", "peer-pass", true)

	w := env.Request(http.MethodPost, "/api/agency-tokens", map[string]any{
		"token":    "agency-secret",
		"capacity": 1,
		"domains":  []string{"agency.gov.uk"},
	}, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		UID string `json:"uid"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &created)
	require.NotEmpty(t, created.UID)
	assert.NotContains(t, w.Body.String(), "agency-secret")

	admissions := "/api/agency-tokens/" + created.UID + "/admissions"
	w = env.Request(http.MethodPost, admissions, map[string]string{"identity_id": learner.ID}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, admissions, map[string]string{"identity_id": peer.ID}, admin)
	testutil.RequireError(t, w, http.StatusConflict, services.ErrNotEnoughSpaceAvailable.Code)

	w = env.Request(http.MethodPut, "/api/agency-tokens/"+created.UID+"/capacity", map[string]int{"capacity": 2}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.Request(http.MethodPost, admissions, map[string]string{"identity_id": peer.ID}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/identities/"+learner.ID+"/release-token", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, env.Reload(learner.ID).AgencyTokenUID)

	w = env.Request(http.MethodPost, "/api/agency-tokens/missing/admissions", map[string]string{"identity_id": learner.ID}, admin)
	testutil.RequireError(t, w, http.StatusNotFound, services.ErrResourceNotFound.Code)

	w = env.Request(http.MethodPut, "/api/agency-tokens/missing/capacity", map[string]int{"capacity": 3}, admin)
	testutil.RequireError(t, w, http.StatusNotFound, services.ErrResourceNotFound.Code)

	w = env.Request(http.MethodPut, "/api/agency-tokens/"+created.UID+"/capacity", map[string]any{}, admin)
	testutil.RequireError(t, w, http.StatusBadRequest, "BAD_REQUEST")
}
