// Package events moves request events from the proxy's hot path into the
// store. Emit never blocks; a background loop writes batches with retries and
// spools batches the store keeps rejecting.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/sdko-org/swapi-proxy/internal/metrics"
	"github.com/sdko-org/swapi-proxy/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Sink accepts request events without blocking the caller.
type Sink interface {
	Emit(event models.RequestEvent)
}

type Store interface {
	InsertEvents(ctx context.Context, events []models.RequestEvent) error
}

type RecorderConfig struct {
	Store         Store
	Spool         *Spool
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
	MaxAttempts   int
	RetryDelay    time.Duration
	// OnFlush runs after every batch the store accepted.
	OnFlush func()
}

type Recorder struct {
	store       Store
	spool       *Spool
	queue       chan models.RequestEvent
	batchSize   int
	interval    time.Duration
	maxAttempts int
	retryDelay  time.Duration
	onFlush     func()
	log         *logrus.Entry
	dropWarn    rate.Sometimes

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRecorder(logger *logrus.Logger, cfg RecorderConfig) *Recorder {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 256
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	return &Recorder{
		store:       cfg.Store,
		spool:       cfg.Spool,
		queue:       make(chan models.RequestEvent, queueSize),
		batchSize:   batchSize,
		interval:    interval,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		onFlush:     cfg.OnFlush,
		log:         logger.WithField("component", "event_recorder"),
		dropWarn:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
		stopCh:      make(chan struct{}),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.flushLoop()
}

// Stop flushes whatever is queued and waits for the loop to exit.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Emit enqueues an event. It never blocks: when the queue is full the event is
// dropped and counted.
func (r *Recorder) Emit(event models.RequestEvent) {
	select {
	case r.queue <- event:
		metrics.EventsEnqueued.Inc()
	default:
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		r.dropWarn.Do(func() {
			r.log.WithField("queue_size", cap(r.queue)).Warn("Event queue full, dropping events")
		})
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	batch := make([]models.RequestEvent, 0, r.batchSize)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("Starting event recorder")
	for {
		select {
		case event := <-r.queue:
			batch = append(batch, event)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			} else {
				r.replaySpool()
			}

		case <-r.stopCh:
			r.drainAndFlush(batch)
			r.log.Info("Stopped event recorder")
			return
		}
	}
}

func (r *Recorder) drainAndFlush(batch []models.RequestEvent) {
	for {
		select {
		case event := <-r.queue:
			batch = append(batch, event)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				r.flush(batch)
			}
			return
		}
	}
}

func (r *Recorder) flush(batch []models.RequestEvent) {
	log := r.log.WithField("events", len(batch))

	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err = r.insert(batch); err == nil {
			metrics.EventsPersisted.Add(float64(len(batch)))
			log.Debug("Flushed request events")
			if r.onFlush != nil {
				r.onFlush()
			}
			return
		}
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Event flush failed")
		if attempt < r.maxAttempts {
			time.Sleep(time.Duration(attempt) * r.retryDelay)
		}
	}

	if r.spool == nil {
		metrics.EventsDropped.WithLabelValues("store_error").Add(float64(len(batch)))
		log.WithError(err).Error("Dropping request events after failed flush")
		return
	}
	if spoolErr := r.spool.Save(batch); spoolErr != nil {
		metrics.EventsDropped.WithLabelValues("spool_error").Add(float64(len(batch)))
		log.WithError(spoolErr).Error("Failed to spool request events")
		return
	}
	metrics.EventsSpooled.Add(float64(len(batch)))
	log.Warn("Spooled request events for replay")
}

// replaySpool pushes at most one spooled batch back into the store.
func (r *Recorder) replaySpool() {
	if r.spool == nil {
		return
	}
	n, err := r.spool.ReplayOldest(r.insert)
	if err != nil {
		r.log.WithError(err).Warn("Spool replay failed")
		return
	}
	if n > 0 {
		metrics.EventsPersisted.Add(float64(n))
		r.log.WithField("events", n).Info("Replayed spooled request events")
		if r.onFlush != nil {
			r.onFlush()
		}
	}
}

func (r *Recorder) insert(batch []models.RequestEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.store.InsertEvents(ctx, batch)
}
