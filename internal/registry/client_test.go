package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newRegistryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/agency-tokens/tok-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(AgencyToken{UID: "tok-1", Capacity: 2, Domains: []string{"agency.gov.uk"}})
	})
	mux.HandleFunc("/v1/agency-tokens/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/v1/agency-tokens", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("token") != "s3cret" || q.Get("domain") != "agency.gov.uk" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(AgencyToken{UID: "tok-1", Capacity: 2})
	})
	mux.HandleFunc("/v1/agency-domains/agency.gov.uk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"agency":true}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestNewClientValidatesURL(t *testing.T) {
	_, err := NewClient("not a url", time.Second)
	require.Error(t, err)

	c, err := NewClient("http://registry.local/", 0)
	require.NoError(t, err)
	require.Equal(t, defaultClientTimeout, c.http.Timeout)
}

func TestClientGetToken(t *testing.T) {
	server := newRegistryServer(t)
	client, err := NewClient(server.URL+"/v1", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	token, err := client.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, 2, token.Capacity)

	_, err = client.GetToken(ctx, "unknown")
	require.ErrorIs(t, err, ErrTokenNotFound)

	_, err = client.GetToken(ctx, "broken")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestClientFindToken(t *testing.T) {
	server := newRegistryServer(t)
	client, err := NewClient(server.URL+"/v1", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	token, err := client.FindToken(ctx, TokenSelection{Domain: " Agency.gov.uk", Token: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, "tok-1", token.UID)

	_, err = client.FindToken(ctx, TokenSelection{Domain: "agency.gov.uk", Token: "nope"})
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestClientIsAgencyDomain(t *testing.T) {
	server := newRegistryServer(t)
	client, err := NewClient(server.URL+"/v1", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	agency, err := client.IsAgencyDomain(ctx, "agency.gov.uk")
	require.NoError(t, err)
	require.True(t, agency)

	agency, err = client.IsAgencyDomain(ctx, "example.com")
	require.NoError(t, err)
	require.False(t, agency)
}

func TestClientUnreachable(t *testing.T) {
	server := newRegistryServer(t)
	url := server.URL
	server.Close()

	client, err := NewClient(url, 200*time.Millisecond)
	require.NoError(t, err)

	_, err = client.GetToken(context.Background(), "tok-1")
	require.ErrorIs(t, err, ErrUnavailable)
}
