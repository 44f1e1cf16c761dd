package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/boneybank/boneybank/kit/platform/errors"
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMetrics(t *testing.T) {
	reqs, dur := NewRequestMetrics("test")
	reg := prometheus.NewRegistry()
	reg.MustRegister(reqs, dur)

	r := chi.NewRouter()
	r.Use(Metrics("replica", reqs, dur))
	r.Get("/api/v1/replica/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/replica/status", nil))
	}

	got := testutil.ToFloat64(reqs.With(prometheus.Labels{
		"handler":       "replica",
		"method":        http.MethodGet,
		"path":          "/api/v1/replica/status",
		"status":        "5XX",
		"response_code": "503",
	}))
	require.Equal(t, float64(2), got)
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	api := NewAPI()
	h := Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			api.Err(w, r, fmt.Errorf("disk on fire"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fine", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/boom", nil))

	require.Equal(t, 1, logs.FilterMessage("Request").Len())

	failed := logs.FilterMessage("Server error response").All()
	require.Len(t, failed, 1)
	require.Equal(t, int64(500), failed[0].ContextMap()["status"])

	// The handler error is logged through the request logger.
	reqFailed := logs.FilterMessage("Request failed").All()
	require.Len(t, reqFailed, 1)
	require.Equal(t, http.MethodPost, reqFailed[0].ContextMap()["method"])
}

func TestStatusResponseWriter(t *testing.T) {
	w := NewStatusResponseWriter(httptest.NewRecorder())
	require.Equal(t, http.StatusOK, w.Code())
	require.Equal(t, "2XX", w.StatusCodeClass())

	w.WriteHeader(http.StatusConflict)
	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 3, w.ResponseBytes())
	require.Equal(t, "4XX", w.StatusCodeClass())
}

func TestAPI(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	api := NewAPI(WithLog(zap.New(core)))

	var body struct {
		Slot int `json:"slot"`
	}
	require.NoError(t, api.DecodeJSON(strings.NewReader(`{"slot":3}`), &body))
	require.Equal(t, 3, body.Slot)

	err := api.DecodeJSON(strings.NewReader(`{`), &body)
	require.Equal(t, errors.EInvalid, errors.ErrorCode(err))

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	api.Respond(w, r, http.StatusOK, body)
	require.JSONEq(t, `{"slot":3}`, w.Body.String())

	w = httptest.NewRecorder()
	api.Err(w, r, fmt.Errorf("boom"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, 1, logs.FilterMessage("Request failed").Len())

	w = httptest.NewRecorder()
	api.Err(w, r, errors.Unavailable("x"))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, 1, logs.FilterMessage("Request failed").Len())
}
