package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sdko-org/swapi-proxy/internal/cache"
	"github.com/sdko-org/swapi-proxy/internal/models"
	"github.com/sdko-org/swapi-proxy/internal/proxy"
	"github.com/sdko-org/swapi-proxy/internal/resource"
	"github.com/sdko-org/swapi-proxy/internal/swapi"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProxy struct {
	result *proxy.Result
	err    error
	got    proxy.Request
}

func (f *fakeProxy) Handle(_ context.Context, req proxy.Request) (*proxy.Result, error) {
	f.got = req
	return f.result, f.err
}

type fakeSnapshots struct {
	snapshot *models.RequestMetric
	err      error
}

func (f *fakeSnapshots) Snapshot(context.Context) (*models.RequestMetric, error) {
	return f.snapshot, f.err
}

func newTestRouter(p Proxy, s SnapshotSource) http.Handler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRouter(logger, NewProxyHandler(logger, p), NewStatsHandler(logger, s))
}

func serve(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestProxyRouteServesCachedBody(t *testing.T) {
	p := &fakeProxy{result: &proxy.Result{
		Entry: cache.Entry{
			StatusCode:  http.StatusOK,
			ContentType: "application/json",
			Body:        []byte(`{"name":"Luke Skywalker"}`),
		},
		Outcome: cache.Hit,
	}}
	router := newTestRouter(p, &fakeSnapshots{})

	rec := serve(t, router, "/swapi/people/1?format=json", http.Header{RequestIDHeader: {"abc-123"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	assert.JSONEq(t, `{"name":"Luke Skywalker"}`, rec.Body.String())

	assert.Equal(t, "people", p.got.Resource)
	assert.Equal(t, "1", p.got.Identifier)
	assert.Equal(t, "json", p.got.Query.Get("format"))
	assert.Equal(t, "abc-123", p.got.RequestID)
}

func TestRequestIDIsEchoedOrGenerated(t *testing.T) {
	router := newTestRouter(&fakeProxy{}, &fakeSnapshots{})

	rec := serve(t, router, "/healthz", http.Header{"x-request-id": {"trace-42"}})
	assert.Equal(t, "trace-42", rec.Header().Get(RequestIDHeader))

	first := serve(t, router, "/healthz", nil).Header().Get(RequestIDHeader)
	second := serve(t, router, "/healthz", nil).Header().Get(RequestIDHeader)
	assert.Len(t, first, 36)
	assert.NotEqual(t, first, second)
}

func TestProxyRouteWithoutIdentifier(t *testing.T) {
	p := &fakeProxy{result: &proxy.Result{
		Entry:   cache.Entry{StatusCode: http.StatusOK, ContentType: "application/json", Body: []byte(`{"count":82}`)},
		Outcome: cache.Miss,
	}}
	router := newTestRouter(p, &fakeSnapshots{})

	rec := serve(t, router, "/swapi/movies", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "movies", p.got.Resource)
	assert.Empty(t, p.got.Identifier)
}

func TestProxyRouteErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "unknown resource",
			err:     &resource.UnknownError{Alias: "starships"},
			status:  http.StatusUnprocessableEntity,
			message: "invalid resource: starships",
		},
		{
			name:    "upstream not found",
			err:     &swapi.Error{StatusCode: http.StatusNotFound, Detail: "Not found"},
			status:  http.StatusNotFound,
			message: "Not found",
		},
		{
			name:    "wrapped upstream error",
			err:     fmt.Errorf("fetch: %w", &swapi.Error{StatusCode: http.StatusBadGateway, Detail: "SWAPI error"}),
			status:  http.StatusBadGateway,
			message: "SWAPI error",
		},
		{
			name:    "unexpected",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeProxy{err: tt.err}, &fakeSnapshots{})
			rec := serve(t, router, "/swapi/people/1", nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.message, decode(t, rec)["message"])
		})
	}
}

func TestAverageRequestTime(t *testing.T) {
	from := time.Date(2025, 11, 28, 10, 0, 0, 0, time.UTC)
	to := time.Date(2025, 11, 28, 14, 0, 0, 0, time.UTC)
	router := newTestRouter(&fakeProxy{}, &fakeSnapshots{snapshot: &models.RequestMetric{
		AvgResponseTimeMs: 200,
		SampledFrom:       &from,
		SampledTo:         &to,
	}})

	rec := serve(t, router, "/stats/average-request-time", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"average_response_time_ms": 200,
		"sample_window": {"from": "2025-11-28T10:00:00Z", "to": "2025-11-28T14:00:00Z"}
	}`, rec.Body.String())
}

func TestMostPopularHour(t *testing.T) {
	hour := 10
	router := newTestRouter(&fakeProxy{}, &fakeSnapshots{snapshot: &models.RequestMetric{MostPopularHour: &hour}})

	rec := serve(t, router, "/stats/most-popular-hour", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"most_popular_hour": 10, "sample_window": {"from": null, "to": null}}`, rec.Body.String())
}

func TestStatsBeforeFirstSnapshot(t *testing.T) {
	router := newTestRouter(&fakeProxy{}, &fakeSnapshots{})

	rec := serve(t, router, "/stats/average-request-time", nil)
	assert.JSONEq(t, `{"average_response_time_ms": 0, "sample_window": {"from": null, "to": null}}`, rec.Body.String())

	rec = serve(t, router, "/stats/most-popular-hour", nil)
	assert.JSONEq(t, `{"most_popular_hour": null, "sample_window": {"from": null, "to": null}}`, rec.Body.String())
}

func TestStatsStoreFailure(t *testing.T) {
	router := newTestRouter(&fakeProxy{}, &fakeSnapshots{err: errors.New("db down")})

	rec := serve(t, router, "/stats/most-popular-hour", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode(t, rec)["message"])
}

func TestHealthCheck(t *testing.T) {
	rec := serve(t, newTestRouter(&fakeProxy{}, &fakeSnapshots{}), "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}
