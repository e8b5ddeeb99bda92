package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sdko-org/swapi-proxy/internal/cache"
	"github.com/sdko-org/swapi-proxy/internal/models"
	"github.com/sdko-org/swapi-proxy/internal/resource"
	"github.com/sdko-org/swapi-proxy/internal/swapi"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.RequestEvent
}

func (s *recordingSink) Emit(event models.RequestEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) all() []models.RequestEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RequestEvent(nil), s.events...)
}

type fixture struct {
	service *Service
	sink    *recordingSink
	calls   *atomic.Int32
	paths   chan string
}

func newFixture(t *testing.T, handler http.HandlerFunc) fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var calls atomic.Int32
	paths := make(chan string, 16)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		paths <- r.URL.RequestURI()
		handler(w, r)
	}))
	t.Cleanup(upstream.Close)

	responseCache, err := cache.NewResponseCache(100, cache.DefaultTTL)
	require.NoError(t, err)
	t.Cleanup(responseCache.Close)

	sink := &recordingSink{}
	client := swapi.NewClient(logger, upstream.URL+"/api/", 2*time.Second)
	return fixture{
		service: NewService(logger, responseCache, client, sink),
		sink:    sink,
		calls:   &calls,
		paths:   paths,
	}
}

func okHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func TestHandleMissThenHit(t *testing.T) {
	f := newFixture(t, okHandler(`{"name":"Luke Skywalker"}`))

	first, err := f.service.Handle(context.Background(), Request{Resource: "people", Identifier: "1", RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, cache.Miss, first.Outcome)
	assert.Equal(t, "swapi:people:1", first.CacheKey)
	assert.Equal(t, http.StatusOK, first.Entry.StatusCode)
	assert.JSONEq(t, `{"name":"Luke Skywalker"}`, string(first.Entry.Body))
	assert.Equal(t, "/api/people/1", <-f.paths)

	second, err := f.service.Handle(context.Background(), Request{Resource: "people", Identifier: "1"})
	require.NoError(t, err)
	assert.Equal(t, cache.Hit, second.Outcome)
	assert.Equal(t, first.Entry.Body, second.Entry.Body)
	assert.Equal(t, int32(1), f.calls.Load())

	events := f.sink.all()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "/swapi/people", e.Endpoint)
		assert.GreaterOrEqual(t, e.ResponseTimeMs, 0)
		assert.False(t, e.PerformedAt.IsZero())
	}
	assert.Equal(t, "miss", events[0].Meta["cache"])
	assert.Equal(t, "req-1", events[0].Meta["request_id"])
	assert.Equal(t, "1", events[0].Meta["identifier"])
	assert.Equal(t, "hit", events[1].Meta["cache"])
}

func TestHandleMoviesAliasUsesFilmsUpstream(t *testing.T) {
	f := newFixture(t, okHandler(`{"title":"A New Hope"}`))

	result, err := f.service.Handle(context.Background(), Request{
		Resource:   "movies",
		Identifier: "1",
		Query:      url.Values{"format": {"json"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "swapi:films:1:format=json", result.CacheKey)
	assert.Equal(t, "/api/films/1?format=json", <-f.paths)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "/swapi/movies", events[0].Endpoint)
}

func TestHandleUnknownResourceEmitsNothing(t *testing.T) {
	f := newFixture(t, okHandler(`{}`))

	_, err := f.service.Handle(context.Background(), Request{Resource: "starships", Identifier: "9"})
	require.Error(t, err)
	assert.ErrorIs(t, err, resource.ErrUnknown)
	assert.Equal(t, "invalid resource: starships", err.Error())

	assert.Empty(t, f.sink.all())
	assert.Zero(t, f.calls.Load())
}

func TestHandleForwardsUpstreamError(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Not found"}`)
	})

	_, err := f.service.Handle(context.Background(), Request{Resource: "people", Identifier: "999"})
	var upstreamErr *swapi.Error
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusNotFound, upstreamErr.StatusCode)
	assert.Equal(t, "Not found", upstreamErr.Detail)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, http.StatusNotFound, events[0].Meta["status"])

	// Failures are not cached.
	_, err = f.service.Handle(context.Background(), Request{Resource: "people", Identifier: "999"})
	require.Error(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestHandleCollapsesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		okHandler(`{"name":"R2-D2"}`)(w, r)
	})

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan *Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.service.Handle(context.Background(), Request{Resource: "people", Identifier: "3"})
			if assert.NoError(t, err) {
				results <- res
			}
		}()
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for res := range results {
		assert.JSONEq(t, `{"name":"R2-D2"}`, string(res.Entry.Body))
	}
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Len(t, f.sink.all(), callers)
}

func TestHandleCallerCancelledEmitsNothing(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		okHandler(`{"name":"Han Solo"}`)(w, r)
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.service.Handle(ctx, Request{Resource: "people", Identifier: "14"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.sink.all())
}

func TestHandleTrailingSlashSharesEntry(t *testing.T) {
	f := newFixture(t, okHandler(`{"name":"Luke Skywalker"}`))

	first, err := f.service.Handle(context.Background(), Request{Resource: "people", Identifier: "1/"})
	require.NoError(t, err)
	assert.Equal(t, "swapi:people:1", first.CacheKey)
	assert.Equal(t, "/api/people/1", <-f.paths)

	second, err := f.service.Handle(context.Background(), Request{Resource: "people", Identifier: "1"})
	require.NoError(t, err)
	assert.Equal(t, cache.Hit, second.Outcome)
	assert.Equal(t, int32(1), f.calls.Load())
}
