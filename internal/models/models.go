package models

import (
	"time"

	"gorm.io/gorm"
)

// RequestEvent is one completed proxy call. Rows are append-only.
type RequestEvent struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Endpoint       string    `gorm:"type:varchar(50);not null;index" json:"endpoint"`
	ResponseTimeMs int       `gorm:"not null" json:"response_time_ms"`
	PerformedAt    time.Time `gorm:"not null;index" json:"performed_at"`
	HourOfDay      int       `gorm:"not null;index" json:"hour_of_day"`
	Meta           Metadata  `json:"meta,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// BeforeCreate normalizes the timestamp to UTC and derives the hour bucket
// used by the busiest-hour aggregation.
func (e *RequestEvent) BeforeCreate(*gorm.DB) error {
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now()
	}
	e.PerformedAt = e.PerformedAt.UTC()
	e.HourOfDay = e.PerformedAt.Hour()
	return nil
}

// SnapshotID is the fixed identity of the single request_metrics row.
const SnapshotID = 1

// RequestMetric is the materialized summary over all request events.
type RequestMetric struct {
	ID                uint `gorm:"primaryKey"`
	AvgResponseTimeMs int  `gorm:"not null"`
	MostPopularHour   *int `gorm:"type:smallint"`
	SampledFrom       *time.Time
	SampledTo         *time.Time
	ComputedAt        time.Time `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (RequestEvent) TableName() string {
	return "request_events"
}

func (RequestMetric) TableName() string {
	return "request_metrics"
}
