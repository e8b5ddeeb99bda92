package swapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const genericDetail = "SWAPI error"

// ErrUnavailable marks failures where no upstream response was received.
var ErrUnavailable = errors.New("swapi unavailable")

// Error is an upstream failure carrying the status code to forward.
type Error struct {
	StatusCode int
	Detail     string
	cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("swapi responded %d: %s", e.StatusCode, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Response is a successful upstream reply.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type Client struct {
	httpClient *http.Client
	base       *url.URL
	log        *logrus.Entry
}

type loggingTransport struct {
	base http.RoundTripper
	log  *logrus.Entry
}

func NewClient(logger *logrus.Logger, baseURL string, timeout time.Duration) *Client {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		logger.WithError(err).WithField("base_url", baseURL).Fatal("Invalid SWAPI base URL")
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &loggingTransport{
				base: http.DefaultTransport,
				log:  logger.WithField("component", "swapi_transport"),
			},
		},
		base: base,
		log:  logger.WithField("component", "swapi_client"),
	}
}

// URL builds the upstream URL for a resolved path. The path is escaped, so
// reserved characters in an identifier reach the upstream as part of it.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path+"/"+path, "/")
	u.RawPath = ""
	u.RawQuery = query.Encode()
	u.Fragment = ""
	return u.String()
}

// Fetch performs a single GET against the upstream. Non-2xx replies and
// transport failures are returned as *Error.
func (c *Client) Fetch(ctx context.Context, path string, query url.Values) (*Response, error) {
	target := c.URL(path, query)
	log := c.log.WithFields(logrus.Fields{
		"operation": "fetch",
		"path":      path,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "SwapiProxy/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("Upstream request failed")
		return nil, &Error{
			StatusCode: http.StatusBadGateway,
			Detail:     genericDetail,
			cause:      fmt.Errorf("%w: %w", ErrUnavailable, err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Warn("Failed to read upstream body")
		return nil, &Error{
			StatusCode: http.StatusBadGateway,
			Detail:     genericDetail,
			cause:      fmt.Errorf("%w: read body: %w", ErrUnavailable, err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := extractDetail(body)
		log.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"detail":      detail,
		}).Info("Upstream returned an error status")
		return nil, &Error{StatusCode: resp.StatusCode, Detail: detail}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		log.WithError(err).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}

// extractDetail pulls a human readable message out of an upstream error body.
func extractDetail(body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &payload) != nil {
		return genericDetail
	}
	switch {
	case payload.Detail != "":
		return payload.Detail
	case payload.Message != "":
		return payload.Message
	default:
		return genericDetail
	}
}
