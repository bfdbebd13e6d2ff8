package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"binancedash/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("apikey") != "anon" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"7d3c1f4e-0000-4000-8000-000000000001","email":"a@example.com","role":"authenticated"}`))
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(srv *httptest.Server) *GoTrueProvider {
	return NewGoTrueProvider(&config.IdentityConfig{
		BaseURL: srv.URL + "/",
		APIKey:  "anon",
		Timeout: time.Second,
	}, nil)
}

func TestGoTrueProvider_CurrentUser(t *testing.T) {
	p := newProvider(newServer(t))

	user, err := p.CurrentUser(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "7d3c1f4e-0000-4000-8000-000000000001", user.ID)
	assert.Equal(t, "a@example.com", user.Email)
}

func TestGoTrueProvider_Unauthenticated(t *testing.T) {
	p := newProvider(newServer(t))

	_, err := p.CurrentUser(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = p.CurrentUser(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGoTrueProvider_ServerError(t *testing.T) {
	p := newProvider(newServer(t))

	_, err := p.CurrentUser(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestCacheKeyHidesToken(t *testing.T) {
	key := cacheKey("secret-token")
	assert.NotContains(t, key, "secret-token")
	assert.Equal(t, key, cacheKey("secret-token"))
}
