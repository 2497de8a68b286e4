package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsStatusAndRoute(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/frames", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/v1/artifacts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	posted := httpRequestsTotal.WithLabelValues(http.MethodPost, "200")
	unavailable := httpRequestsTotal.WithLabelValues(http.MethodGet, "503")
	beforePosted := testutil.ToFloat64(posted)
	beforeUnavailable := testutil.ToFloat64(unavailable)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/v1/frames", nil),
		httptest.NewRequest(http.MethodPost, "/v1/frames", nil),
		httptest.NewRequest(http.MethodGet, "/v1/artifacts", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.InDelta(t, 2, testutil.ToFloat64(posted)-beforePosted, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(unavailable)-beforeUnavailable, 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareWithoutRouter(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	teapot := httpRequestsTotal.WithLabelValues(http.MethodGet, "418")
	before := testutil.ToFloat64(teapot)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(teapot)-before, 0)
}
