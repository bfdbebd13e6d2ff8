package exchange

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

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v3/depth":
			if r.URL.Query().Get("symbol") != "BTCUSDT" || r.URL.Query().Get("limit") != "5" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":-1100,"msg":"bad params"}`))
				return
			}
			_, _ = w.Write([]byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"],["4.10000000","1.00000000"]]}`))
		case "/api/v3/account":
			if r.Header.Get("X-MBX-APIKEY") != "good-key" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`))
				return
			}
			_, _ = w.Write([]byte(`{"makerCommission":15,"canTrade":true,"balances":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Depth(t *testing.T) {
	srv := newUpstream(t)
	c := NewClient(&config.BinanceConfig{BaseURL: srv.URL, RequestTimeout: time.Second})

	depth, err := c.Depth(context.Background(), "k", "s", "BTCUSDT", 5)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", depth.Symbol)
	assert.Equal(t, int64(1027024), depth.LastUpdateID)
	require.Len(t, depth.Bids, 1)
	require.Len(t, depth.Asks, 2)
	assert.Equal(t, "4.00000000", depth.Bids[0].Price)
	assert.Equal(t, "431.00000000", depth.Bids[0].Quantity)
	assert.Equal(t, "4.10000000", depth.Asks[1].Price)
}

func TestClient_DepthUpstreamError(t *testing.T) {
	srv := newUpstream(t)
	c := NewClient(&config.BinanceConfig{BaseURL: srv.URL, RequestTimeout: time.Second})

	_, err := c.Depth(context.Background(), "k", "s", "ETHUSDT", 5)
	assert.Error(t, err)
}

func TestClient_VerifyCredentials(t *testing.T) {
	srv := newUpstream(t)
	c := NewClient(&config.BinanceConfig{BaseURL: srv.URL, RequestTimeout: time.Second})

	require.NoError(t, c.VerifyCredentials(context.Background(), "good-key", "secret"))

	err := c.VerifyCredentials(context.Background(), "bad-key", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
