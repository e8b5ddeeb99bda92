// Package stats maintains the request_metrics snapshot: average response time,
// busiest hour of the day and the sampled window, recomputed from the full
// request event history.
package stats

import (
	"math"
	"time"

	"github.com/sdko-org/swapi-proxy/internal/models"
	"github.com/sdko-org/swapi-proxy/internal/storage"
)

// Summarize builds a snapshot from table totals and the per-hour histogram.
// The average is rounded half away from zero. When several hours share the
// highest count the lowest hour wins. With no events the average is 0 and the
// hour and window are nil.
func Summarize(totals storage.EventTotals, hours []storage.HourCount, computedAt time.Time) *models.RequestMetric {
	snapshot := &models.RequestMetric{
		ID:         models.SnapshotID,
		ComputedAt: computedAt.UTC(),
	}
	if totals.Count == 0 {
		return snapshot
	}

	snapshot.AvgResponseTimeMs = int(math.Round(totals.Average))
	snapshot.MostPopularHour = busiestHour(hours)
	snapshot.SampledFrom = totals.First
	snapshot.SampledTo = totals.Last
	return snapshot
}

func busiestHour(hours []storage.HourCount) *int {
	best := -1
	var bestTotal int64
	for _, h := range hours {
		if h.Hour < 0 || h.Hour > 23 || h.Total <= 0 {
			continue
		}
		if h.Total > bestTotal || (h.Total == bestTotal && h.Hour < best) {
			best, bestTotal = h.Hour, h.Total
		}
	}
	if best < 0 {
		return nil
	}
	return &best
}
