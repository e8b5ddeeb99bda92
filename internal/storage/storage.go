package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/swapi-proxy/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventTotals summarizes the whole request_events table.
type EventTotals struct {
	Count   int64
	Average float64
	First   *time.Time
	Last    *time.Time
}

// HourCount is the number of events performed within one hour of the day (UTC).
type HourCount struct {
	Hour  int
	Total int64
}

type Storage interface {
	InsertEvents(ctx context.Context, events []models.RequestEvent) error
	EventTotals(ctx context.Context) (EventTotals, error)
	HourHistogram(ctx context.Context) ([]HourCount, error)
	SaveSnapshot(ctx context.Context, snapshot *models.RequestMetric) error
	LoadSnapshot(ctx context.Context) (*models.RequestMetric, error)
}

type GormStorage struct {
	db        *gorm.DB
	batchSize int
}

func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db, batchSize: 500}
}

func (s *GormStorage) InsertEvents(ctx context.Context, events []models.RequestEvent) error {
	if len(events) == 0 {
		return nil
	}
	// Batches may be retried or replayed; let the database assign ids every time.
	rows := make([]models.RequestEvent, len(events))
	for i, event := range events {
		event.ID = 0
		rows[i] = event
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&rows, s.batchSize).Error; err != nil {
		return fmt.Errorf("insert %d request events: %w", len(events), err)
	}
	return nil
}

func (s *GormStorage) EventTotals(ctx context.Context) (EventTotals, error) {
	var row struct {
		Count   int64
		Average *float64
	}
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.RequestEvent{}).
		Select("COUNT(*) AS count, AVG(response_time_ms) AS average").
		Scan(&row).Error; err != nil {
		return EventTotals{}, fmt.Errorf("aggregate request events: %w", err)
	}

	totals := EventTotals{Count: row.Count}
	if row.Average != nil {
		totals.Average = *row.Average
	}
	if row.Count == 0 {
		return totals, nil
	}

	first, err := s.boundary(ctx, "performed_at ASC")
	if err != nil {
		return EventTotals{}, err
	}
	last, err := s.boundary(ctx, "performed_at DESC")
	if err != nil {
		return EventTotals{}, err
	}
	totals.First = first
	totals.Last = last
	return totals, nil
}

func (s *GormStorage) boundary(ctx context.Context, order string) (*time.Time, error) {
	var event models.RequestEvent
	err := s.db.WithContext(ctx).
		Select("performed_at").
		Order(order).
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sample window bound: %w", err)
	}
	ts := event.PerformedAt.UTC()
	return &ts, nil
}

func (s *GormStorage) HourHistogram(ctx context.Context) ([]HourCount, error) {
	var rows []HourCount
	if err := s.db.WithContext(ctx).
		Model(&models.RequestEvent{}).
		Select("hour_of_day AS hour, COUNT(*) AS total").
		Group("hour_of_day").
		Order("hour_of_day").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("hour histogram: %w", err)
	}
	return rows, nil
}

// SaveSnapshot replaces the single metrics row in one statement.
func (s *GormStorage) SaveSnapshot(ctx context.Context, snapshot *models.RequestMetric) error {
	snapshot.ID = models.SnapshotID
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(snapshot).Error
	if err != nil {
		return fmt.Errorf("save metrics snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the current metrics row, or nil when none has been
// computed yet.
func (s *GormStorage) LoadSnapshot(ctx context.Context) (*models.RequestMetric, error) {
	var snapshot models.RequestMetric
	err := s.db.WithContext(ctx).First(&snapshot, models.SnapshotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load metrics snapshot: %w", err)
	}
	return &snapshot, nil
}
