// Package proxy serves SWAPI resources through the response cache and records
// one request event per completed call.
package proxy

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/sdko-org/swapi-proxy/internal/cache"
	"github.com/sdko-org/swapi-proxy/internal/events"
	"github.com/sdko-org/swapi-proxy/internal/metrics"
	"github.com/sdko-org/swapi-proxy/internal/models"
	"github.com/sdko-org/swapi-proxy/internal/resource"
	"github.com/sdko-org/swapi-proxy/internal/swapi"
	"github.com/sirupsen/logrus"
)

// Upstream fetches a resolved path from SWAPI.
type Upstream interface {
	Fetch(ctx context.Context, path string, query url.Values) (*swapi.Response, error)
}

type Request struct {
	Resource   string
	Identifier string
	Query      url.Values
	RequestID  string
}

type Result struct {
	Entry    cache.Entry
	Outcome  cache.Outcome
	CacheKey string
	Duration time.Duration
}

type Service struct {
	cache    *cache.ResponseCache
	upstream Upstream
	sink     events.Sink
	log      *logrus.Entry
	now      func() time.Time
}

func NewService(logger *logrus.Logger, responseCache *cache.ResponseCache, upstream Upstream, sink events.Sink) *Service {
	return &Service{
		cache:    responseCache,
		upstream: upstream,
		sink:     sink,
		log:      logger.WithField("component", "proxy_service"),
		now:      time.Now,
	}
}

// Handle resolves the request, serves it from cache or upstream and emits a
// request event for every outcome past alias validation, upstream errors
// included. Unknown aliases fail with resource.ErrUnknown and emit nothing.
func (s *Service) Handle(ctx context.Context, req Request) (*Result, error) {
	started := s.now()

	res, err := resource.Parse(req.Resource)
	if err != nil {
		return nil, err
	}
	path := res.Path(req.Identifier)
	key := resource.CacheKey(path, req.Query)

	entry, outcome, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (cache.Entry, error) {
		resp, err := s.upstream.Fetch(ctx, path, req.Query)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.Entry{
			StatusCode:  resp.StatusCode,
			ContentType: resp.ContentType,
			Body:        resp.Body,
		}, nil
	})
	duration := s.now().Sub(started)

	status := entry.StatusCode
	if err != nil {
		var upstreamErr *swapi.Error
		if !errors.As(err, &upstreamErr) {
			// Caller went away before the shared fetch finished.
			return nil, err
		}
		status = upstreamErr.StatusCode
	}

	s.emit(res, req, outcome, status, started, duration)

	log := s.log.WithFields(logrus.Fields{
		"cache_key":  key,
		"cache":      outcome,
		"status":     status,
		"duration":   duration,
		"request_id": req.RequestID,
	})
	if err != nil {
		log.WithError(err).Info("Forwarding upstream error")
		return nil, err
	}
	log.Debug("Served proxy request")

	return &Result{
		Entry:    entry,
		Outcome:  outcome,
		CacheKey: key,
		Duration: duration,
	}, nil
}

func (s *Service) emit(res resource.Resource, req Request, outcome cache.Outcome, status int, started time.Time, duration time.Duration) {
	meta := models.Metadata{
		"status": status,
		"cache":  string(outcome),
	}
	if req.RequestID != "" {
		meta["request_id"] = req.RequestID
	}
	if req.Identifier != "" {
		meta["identifier"] = req.Identifier
	}

	s.sink.Emit(models.RequestEvent{
		Endpoint:       res.Endpoint(),
		ResponseTimeMs: int(duration.Round(time.Millisecond) / time.Millisecond),
		PerformedAt:    started,
		Meta:           meta,
	})
	metrics.RecordProxy(res.Endpoint(), strconv.Itoa(status), duration.Seconds())
}
