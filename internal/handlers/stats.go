package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sdko-org/swapi-proxy/internal/models"
	"github.com/sirupsen/logrus"
)

// SnapshotSource returns the latest metrics snapshot, or nil before the first
// recomputation.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*models.RequestMetric, error)
}

type sampleWindow struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

type averageResponse struct {
	AverageResponseTimeMs int          `json:"average_response_time_ms"`
	SampleWindow          sampleWindow `json:"sample_window"`
}

type popularHourResponse struct {
	MostPopularHour *int         `json:"most_popular_hour"`
	SampleWindow    sampleWindow `json:"sample_window"`
}

type StatsHandler struct {
	source SnapshotSource
	log    *logrus.Entry
}

func NewStatsHandler(logger *logrus.Logger, source SnapshotSource) *StatsHandler {
	return &StatsHandler{
		source: source,
		log:    logger.WithField("component", "stats_handler"),
	}
}

func (h *StatsHandler) AverageRequestTime(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.load(w, r)
	if !ok {
		return
	}
	resp := averageResponse{}
	if snapshot != nil {
		resp.AverageResponseTimeMs = snapshot.AvgResponseTimeMs
		resp.SampleWindow = windowOf(snapshot)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatsHandler) MostPopularHour(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.load(w, r)
	if !ok {
		return
	}
	resp := popularHourResponse{}
	if snapshot != nil {
		resp.MostPopularHour = snapshot.MostPopularHour
		resp.SampleWindow = windowOf(snapshot)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatsHandler) load(w http.ResponseWriter, r *http.Request) (*models.RequestMetric, bool) {
	snapshot, err := h.source.Snapshot(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to load metrics snapshot")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return snapshot, true
}

func windowOf(snapshot *models.RequestMetric) sampleWindow {
	window := sampleWindow{}
	if snapshot.SampledFrom != nil {
		from := snapshot.SampledFrom.UTC()
		window.From = &from
	}
	if snapshot.SampledTo != nil {
		to := snapshot.SampledTo.UTC()
		window.To = &to
	}
	return window
}
