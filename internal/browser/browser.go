// Package browser is a client for the proxy's HTTP surface. Entity lookups are
// memoized per entity kind so repeated and concurrent lookups of the same
// entity share one request.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sdko-org/swapi-proxy/internal/memo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// maxParallelRefs bounds how many referenced entities load at once.
const maxParallelRefs = 4

// Entity is a normalized SWAPI record.
type Entity map[string]any

// Field returns the field as a string, or "" when absent or not a string.
func (e Entity) Field(field string) string {
	s, _ := e[field].(string)
	return s
}

// Strings returns a string list field, skipping non-string items.
func (e Entity) Strings(field string) []string {
	items, _ := e[field].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Ref is a resolved link to another entity.
type Ref struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type PersonDetail struct {
	Person Entity `json:"person"`
	Films  []Ref  `json:"films"`
}

type MovieDetail struct {
	Movie      Entity `json:"movie"`
	Characters []Ref  `json:"characters"`
}

type SampleWindow struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

type AverageRequestTime struct {
	AverageResponseTimeMs int          `json:"average_response_time_ms"`
	SampleWindow          SampleWindow `json:"sample_window"`
}

type MostPopularHour struct {
	MostPopularHour *int         `json:"most_popular_hour"`
	SampleWindow    SampleWindow `json:"sample_window"`
}

// StatusError is a non-2xx reply from the proxy.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("proxy responded %d: %s", e.StatusCode, e.Message)
}

var ErrNotFound = errors.New("entity not found")

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logrus.Entry

	people *memo.Cache[string, Entity]
	films  *memo.Cache[string, Entity]
	movies *memo.Cache[string, Entity]
}

// NewClient returns a client for the proxy at baseURL. Memoized fetches run on
// ctx and outlive the callers waiting on them.
func NewClient(ctx context.Context, logger *logrus.Logger, baseURL string, timeout time.Duration) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        logger.WithField("component", "browser"),
	}
	c.people = memo.New(ctx, c.entityFetcher("people"))
	c.films = memo.New(ctx, c.entityFetcher("films"))
	c.movies = memo.New(ctx, c.entityFetcher("movies"))
	return c
}

func (c *Client) Person(ctx context.Context, id string) (Entity, error) {
	return c.people.Get(ctx, id)
}

func (c *Client) Movie(ctx context.Context, id string) (Entity, error) {
	return c.movies.Get(ctx, id)
}

// Film loads the film a SWAPI URL points at. A URL without an identifier
// yields a nil entity and no request.
func (c *Client) Film(ctx context.Context, ref string) (Entity, error) {
	id := IDFromURL(ref)
	if id == "" {
		return nil, nil
	}
	return c.films.Get(ctx, id)
}

// Character loads the person a SWAPI URL points at.
func (c *Client) Character(ctx context.Context, ref string) (Entity, error) {
	id := IDFromURL(ref)
	if id == "" {
		return nil, nil
	}
	return c.people.Get(ctx, id)
}

// PersonWithFilms loads a person and every film they appear in. A film that
// fails to load is listed with a placeholder title.
func (c *Client) PersonWithFilms(ctx context.Context, id string) (*PersonDetail, error) {
	person, err := c.Person(ctx, id)
	if err != nil {
		return nil, err
	}
	films, err := c.resolveRefs(ctx, person.Strings("films"), c.Film, "title", "Film")
	if err != nil {
		return nil, err
	}
	return &PersonDetail{Person: person, Films: films}, nil
}

// MovieWithCharacters loads a movie and its characters.
func (c *Client) MovieWithCharacters(ctx context.Context, id string) (*MovieDetail, error) {
	movie, err := c.Movie(ctx, id)
	if err != nil {
		return nil, err
	}
	characters, err := c.resolveRefs(ctx, movie.Strings("characters"), c.Character, "name", "Character")
	if err != nil {
		return nil, err
	}
	return &MovieDetail{Movie: movie, Characters: characters}, nil
}

// Search runs a name search against people or movies. Results are not
// memoized.
func (c *Client) Search(ctx context.Context, category, query string) ([]Ref, error) {
	var payload struct {
		Results []Entity `json:"results"`
	}
	params := url.Values{"search": {strings.TrimSpace(query)}}
	if err := c.getJSON(ctx, "/swapi/"+url.PathEscape(category), params, &payload); err != nil {
		return nil, err
	}

	refs := make([]Ref, 0, len(payload.Results))
	for _, item := range payload.Results {
		item = normalize(item)
		label := item.Field("name")
		if label == "" {
			label = item.Field("title")
		}
		if label == "" {
			label = "Unknown"
		}
		refs = append(refs, Ref{ID: IDFromURL(item.Field("url")), Label: label})
	}
	return refs, nil
}

func (c *Client) AverageRequestTime(ctx context.Context) (*AverageRequestTime, error) {
	var out AverageRequestTime
	if err := c.getJSON(ctx, "/stats/average-request-time", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MostPopularHour(ctx context.Context) (*MostPopularHour, error) {
	var out MostPopularHour
	if err := c.getJSON(ctx, "/stats/most-popular-hour", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) resolveRefs(ctx context.Context, urls []string, load func(context.Context, string) (Entity, error), labelField, kind string) ([]Ref, error) {
	loaded := make([]Entity, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRefs)
	for i, ref := range urls {
		g.Go(func() error {
			entity, err := load(gctx, ref)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.log.WithError(err).WithField("url", ref).Debug("Referenced entity failed to load")
				return nil
			}
			loaded[i] = entity
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	refs := make([]Ref, 0, len(urls))
	for i, entity := range loaded {
		fallbackID := IDFromURL(urls[i])
		id := IDFromURL(entity.Field("url"))
		if id == "" {
			id = fallbackID
		}
		if id == "" {
			continue
		}
		label := entity.Field(labelField)
		if label == "" {
			label = fmt.Sprintf("%s #%s", kind, fallbackID)
		}
		refs = append(refs, Ref{ID: id, Label: label})
	}
	return refs, nil
}

func (c *Client) entityFetcher(alias string) func(ctx context.Context, id string) (Entity, error) {
	return func(ctx context.Context, id string) (Entity, error) {
		var raw Entity
		if err := c.getJSON(ctx, "/swapi/"+alias+"/"+url.PathEscape(id), nil, &raw); err != nil {
			return nil, fmt.Errorf("load %s %s: %w", alias, id, err)
		}
		return normalize(raw), nil
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &payload)
		if payload.Message == "" {
			payload.Message = http.StatusText(resp.StatusCode)
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: payload.Message}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// normalize unwraps the SWAPI envelope: result.properties, then properties,
// then the record itself.
func normalize(raw Entity) Entity {
	if result, ok := raw["result"].(map[string]any); ok {
		if props, ok := result["properties"].(map[string]any); ok {
			return props
		}
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		return props
	}
	return raw
}

// IDFromURL returns the last non-empty path segment of a SWAPI URL.
func IDFromURL(raw string) string {
	parts := strings.Split(raw, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return ""
}
