package conversion

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"convtrack/pkg/config"
	"convtrack/pkg/middleware"
)

func newTestRouter(t *testing.T, mode, schedulerToken string) (*gin.Engine, *procEnv) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := newProcEnv(t, mode, true)

	cfg := &config.Config{}
	cfg.Sweep.SchedulerToken = schedulerToken

	h := NewHandler(HandlerParams{
		Processor: env.processor,
		Sweeper:   env.sweeper,
		Store:     env.store,
		Audit:     env.audit,
		Resolver:  env.resolver,
		Config:    cfg,
	})

	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(r, h)
	return r, env
}

func getConversion(t *testing.T, r *gin.Engine, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodGet, "/conversion?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleConversion_Codes(t *testing.T) {
	r, env := newTestRouter(t, "vertical", "")
	env.seedVertical(t, "nutra", "10.00", "offer-a")

	// Sub-threshold: cached.
	w := getConversion(t, r, map[string]string{"clickid": testKey, "offer_id": "offer-a", "sum": "3.00"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeCached, w.Body.String())

	// Threshold met: flushed and forwarded.
	w = getConversion(t, r, map[string]string{"clickid": testKey, "offer_id": "offer-a", "sum": "12.00"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeForwarded, w.Body.String())

	// Invalid key: rejected, still HTTP 200.
	w = getConversion(t, r, map[string]string{"clickid": "short", "offer_id": "offer-a", "sum": "3.00"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeRejected, w.Body.String())

	// Missing offer_id outside global mode: rejected at the boundary.
	w = getConversion(t, r, map[string]string{"clickid": testKey, "sum": "3.00"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeRejected, w.Body.String())
}

func TestHandleConversion_ForwardFailureCode(t *testing.T) {
	r, env := newTestRouter(t, "vertical", "")
	env.seedVertical(t, "nutra", "10.00", "offer-a")
	env.sender.fail = true

	w := getConversion(t, r, map[string]string{"clickid": testKey, "offer_id": "offer-a", "sum": "12.00"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeForwardFailed, w.Body.String())
}

func TestHandleConversion_GlobalModeRejectsOfferID(t *testing.T) {
	r, _ := newTestRouter(t, "global", "")

	w := getConversion(t, r, map[string]string{"clickid": testKey, "offer_id": "offer-a", "sum": "3.00"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeRejected, w.Body.String())

	w = getConversion(t, r, map[string]string{"clickid": testKey, "sum": "3.00"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeCached, w.Body.String())
}

func TestHandleSweep_Auth(t *testing.T) {
	r, _ := newTestRouter(t, "vertical", "sweep-secret")

	// No token.
	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong token.
	req = httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	req.Header.Set(schedulerTokenHeader, "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Right token.
	req = httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	req.Header.Set(schedulerTokenHeader, "sweep-secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, true, body["success"])
}

func TestHandleSweep_FailsClosedWithoutToken(t *testing.T) {
	// An unconfigured token disables the endpoint entirely.
	r, _ := newTestRouter(t, "vertical", "")

	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	req.Header.Set(schedulerTokenHeader, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleFlushVertical(t *testing.T) {
	r, env := newTestRouter(t, "vertical", "")
	env.seedVertical(t, "nutra", "10.00", "offer-a")

	// Cache something below threshold first.
	w := getConversion(t, r, map[string]string{"clickid": testKey, "offer_id": "offer-a", "sum": "3.00"})
	require.Equal(t, CodeCached, w.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/admin/flush/nutra", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool        `json:"success"`
		Result  ScopeResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, "cache_flushed", body.Result.Action)
	require.Equal(t, 1, body.Result.Conversions)

	require.Zero(t, env.pendingCount(t))
}

func TestHandleFlushVertical_NotFound(t *testing.T) {
	r, _ := newTestRouter(t, "vertical", "")

	req := httptest.NewRequest(http.MethodPost, "/admin/flush/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleClearCache(t *testing.T) {
	r, env := newTestRouter(t, "vertical", "")
	env.seedVertical(t, "nutra", "10.00", "offer-a")

	w := getConversion(t, r, map[string]string{"clickid": testKey, "offer_id": "offer-a", "sum": "3.00"})
	require.Equal(t, CodeCached, w.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)

	var body struct {
		Success     bool  `json:"success"`
		ClearedRows int64 `json:"cleared_rows"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.EqualValues(t, 1, body.ClearedRows)

	// Cleared, not flushed: nothing went downstream.
	require.Empty(t, env.sender.calls)
	require.Zero(t, env.pendingCount(t))
}

func TestHandleStatsAndLogs(t *testing.T) {
	r, env := newTestRouter(t, "vertical", "")
	env.seedVertical(t, "nutra", "10.00", "offer-a")

	_ = getConversion(t, r, map[string]string{"clickid": testKey, "offer_id": "offer-a", "sum": "3.00"})
	_ = getConversion(t, r, map[string]string{"clickid": testKey, "offer_id": "offer-a", "sum": "12.00"})

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Success bool `json:"success"`
		Cache   struct {
			Rows int64 `json:"total_cached_conversions"`
		} `json:"cache"`
		Ledger struct {
			Attempts  int64 `json:"total_postbacks"`
			Successes int64 `json:"successful_postbacks"`
		} `json:"ledger"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.True(t, stats.Success)
	require.Zero(t, stats.Cache.Rows)
	require.EqualValues(t, 1, stats.Ledger.Attempts)
	require.EqualValues(t, 1, stats.Ledger.Successes)

	req = httptest.NewRequest(http.MethodGet, "/admin/logs?limit=10", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var logs struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.True(t, logs.Success)
	require.Equal(t, 2, logs.Count)
}
