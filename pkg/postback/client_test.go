package postback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"convtrack/pkg/config"
)

func newTestClient(t *testing.T, baseURL string) Sender {
	t.Helper()

	cfg := &config.Config{}
	cfg.Postback.BaseURL = baseURL
	cfg.Postback.Timeout = 2 * time.Second

	return NewClient(cfg)
}

func TestClient_SendSuccess(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"clickid":  q.Get("clickid"),
			"sum":      q.Get("sum"),
			"offer_id": q.Get("offer_id"),
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	result, err := client.Send(context.Background(),
		"abcdefghij1234567890ABCD", "offer-a", decimal.RequireFromString("24.00"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "OK", result.Body)

	require.Equal(t, "abcdefghij1234567890ABCD", gotQuery["clickid"])
	require.Equal(t, "24", gotQuery["sum"])
	require.Equal(t, "offer-a", gotQuery["offer_id"])
}

func TestClient_SendOmitsEmptyOfferID(t *testing.T) {
	var hasOfferID bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasOfferID = r.URL.Query().Has("offer_id")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Send(context.Background(),
		"abcdefghij1234567890ABCD", "", decimal.RequireFromString("3.50"))
	require.NoError(t, err)
	require.False(t, hasOfferID)
}

func TestClient_SendDownstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	result, err := client.Send(context.Background(),
		"abcdefghij1234567890ABCD", "offer-a", decimal.RequireFromString("9.99"))
	require.Error(t, err)
	require.NotNil(t, result)
	require.Equal(t, http.StatusInternalServerError, result.StatusCode)
}

func TestClient_SendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := newTestClient(t, srv.URL)

	result, err := client.Send(context.Background(),
		"abcdefghij1234567890ABCD", "offer-a", decimal.RequireFromString("1.00"))
	require.Error(t, err)
	require.NotNil(t, result)
	require.Zero(t, result.StatusCode)
}
