package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sdko-org/swapi-proxy/internal/metrics"
	"github.com/sdko-org/swapi-proxy/internal/models"
	"github.com/sdko-org/swapi-proxy/internal/storage"
	"github.com/sirupsen/logrus"
)

type Store interface {
	EventTotals(ctx context.Context) (storage.EventTotals, error)
	HourHistogram(ctx context.Context) ([]storage.HourCount, error)
	SaveSnapshot(ctx context.Context, snapshot *models.RequestMetric) error
	LoadSnapshot(ctx context.Context) (*models.RequestMetric, error)
}

// Aggregator recomputes the snapshot on a cron schedule and on demand.
// Recomputations never overlap.
type Aggregator struct {
	store    Store
	schedule string
	log      *logrus.Entry
	now      func() time.Time

	mu      sync.Mutex
	trigger chan struct{}
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewAggregator(logger *logrus.Logger, store Store, schedule string) *Aggregator {
	return &Aggregator{
		store:    store,
		schedule: schedule,
		log:      logger.WithField("component", "metrics_aggregator"),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// Recompute reads the whole event history and replaces the snapshot. When
// reading fails nothing is written and the previous snapshot stays in place.
func (a *Aggregator) Recompute(ctx context.Context) (*models.RequestMetric, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	snapshot, err := a.recompute(ctx)
	if err != nil {
		metrics.SnapshotRecomputations.WithLabelValues("error").Inc()
		a.log.WithError(err).Error("Metrics recomputation failed")
		return nil, err
	}

	metrics.SnapshotRecomputations.WithLabelValues("ok").Inc()
	fields := logrus.Fields{
		"avg_response_time_ms": snapshot.AvgResponseTimeMs,
		"duration":             time.Since(start),
	}
	if snapshot.MostPopularHour != nil {
		fields["most_popular_hour"] = *snapshot.MostPopularHour
	}
	a.log.WithFields(fields).Debug("Metrics snapshot recomputed")
	return snapshot, nil
}

func (a *Aggregator) recompute(ctx context.Context) (*models.RequestMetric, error) {
	totals, err := a.store.EventTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("read event totals: %w", err)
	}
	hours, err := a.store.HourHistogram(ctx)
	if err != nil {
		return nil, fmt.Errorf("read hour histogram: %w", err)
	}

	snapshot := Summarize(totals, hours, a.now())
	if err := a.store.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	return snapshot, nil
}

// Snapshot returns the last computed snapshot, or nil before the first run.
func (a *Aggregator) Snapshot(ctx context.Context) (*models.RequestMetric, error) {
	return a.store.LoadSnapshot(ctx)
}

// Trigger requests a recomputation. Requests made while one is pending are
// coalesced.
func (a *Aggregator) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Start schedules periodic recomputation and runs one immediately.
func (a *Aggregator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(a.schedule, a.Trigger); err != nil {
		cancel()
		return fmt.Errorf("invalid metrics schedule %q: %w", a.schedule, err)
	}
	a.cron = c
	a.cancel = cancel

	a.wg.Add(1)
	go a.run(ctx)

	a.Trigger()
	c.Start()
	a.log.WithField("schedule", a.schedule).Info("Starting metrics aggregator")
	return nil
}

// Stop halts the schedule and waits for a running recomputation. A trigger
// still pending at that point gets one final recomputation.
func (a *Aggregator) Stop() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	select {
	case <-a.trigger:
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		_, _ = a.Recompute(ctx)
		cancel()
	default:
	}
	a.log.Info("Stopped metrics aggregator")
}

func (a *Aggregator) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-a.trigger:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			_, _ = a.Recompute(runCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}
