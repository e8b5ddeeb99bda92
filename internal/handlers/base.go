package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sdko-org/swapi-proxy/internal/proxy"
	"github.com/sdko-org/swapi-proxy/internal/resource"
	"github.com/sdko-org/swapi-proxy/internal/swapi"
	"github.com/sirupsen/logrus"
)

// Proxy is the orchestrator behind /swapi routes.
type Proxy interface {
	Handle(ctx context.Context, req proxy.Request) (*proxy.Result, error)
}

type ProxyHandler struct {
	proxy Proxy
	log   *logrus.Entry
}

func NewProxyHandler(logger *logrus.Logger, p Proxy) *ProxyHandler {
	return &ProxyHandler{
		proxy: p,
		log:   logger.WithField("component", "proxy_handler"),
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := h.proxy.Handle(r.Context(), proxy.Request{
		Resource:   vars["resource"],
		Identifier: vars["identifier"],
		Query:      r.URL.Query(),
		RequestID:  RequestIDFromContext(r.Context()),
	})
	if err != nil {
		h.writeProxyError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", result.Entry.ContentType)
	w.Header().Set("X-Cache", strings.ToUpper(string(result.Outcome)))
	w.WriteHeader(result.Entry.StatusCode)
	if _, err := w.Write(result.Entry.Body); err != nil {
		h.log.WithError(err).Debug("Client went away while writing body")
	}
}

func (h *ProxyHandler) writeProxyError(w http.ResponseWriter, r *http.Request, err error) {
	var upstreamErr *swapi.Error
	switch {
	case errors.Is(err, resource.ErrUnknown):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &upstreamErr):
		writeError(w, upstreamErr.StatusCode, upstreamErr.Detail)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.log.WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"request_id": RequestIDFromContext(r.Context()),
		}).Debug("Request abandoned before upstream reply")
		writeError(w, http.StatusGatewayTimeout, "upstream did not answer in time")
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("Proxy request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
