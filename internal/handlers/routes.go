package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func RegisterRoutes(r *mux.Router, ph *ProxyHandler, sh *StatsHandler) {
	r.HandleFunc("/healthz", HandleHealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/stats/average-request-time", sh.AverageRequestTime).Methods(http.MethodGet)
	r.HandleFunc("/stats/most-popular-hour", sh.MostPopularHour).Methods(http.MethodGet)

	r.Handle("/swapi/{resource:[A-Za-z-]+}", ph).Methods(http.MethodGet)
	r.Handle("/swapi/{resource:[A-Za-z-]+}/{identifier:.*}", ph).Methods(http.MethodGet)
}

// NewRouter builds the full HTTP surface with request-id and access logging
// applied to every route.
func NewRouter(logger *logrus.Logger, ph *ProxyHandler, sh *StatsHandler) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	RegisterRoutes(r, ph, sh)
	return r
}
