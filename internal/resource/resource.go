// Package resource maps the proxy's public resource aliases onto SWAPI paths
// and derives cache keys for resolved requests.
package resource

import (
	"errors"
	"fmt"
	"strings"
)

// Resource is one of the aliases the proxy accepts.
type Resource int

const (
	People Resource = iota
	Movies
	Films

	resourceCount
)

// Both tables are indexed by Resource; a missing entry fails TestResourceTablesComplete.
var (
	aliases = [resourceCount]string{
		People: "people",
		Movies: "movies",
		Films:  "films",
	}
	upstreamSegments = [resourceCount]string{
		People: "people",
		Movies: "films",
		Films:  "films",
	}
)

var ErrUnknown = errors.New("unknown resource")

type UnknownError struct {
	Alias string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("invalid resource: %s", e.Alias)
}

func (e *UnknownError) Is(target error) bool {
	return target == ErrUnknown
}

// All returns every known resource in declaration order.
func All() []Resource {
	out := make([]Resource, 0, resourceCount)
	for r := Resource(0); r < resourceCount; r++ {
		out = append(out, r)
	}
	return out
}

func Parse(alias string) (Resource, error) {
	for r := Resource(0); r < resourceCount; r++ {
		if aliases[r] == alias {
			return r, nil
		}
	}
	return 0, &UnknownError{Alias: alias}
}

func (r Resource) String() string {
	if r < 0 || r >= resourceCount {
		return fmt.Sprintf("Resource(%d)", int(r))
	}
	return aliases[r]
}

// Segment is the upstream path segment the alias is served from.
func (r Resource) Segment() string {
	return upstreamSegments[r]
}

// Path joins the upstream segment and an optional identifier. Trailing '/' is
// dropped from the identifier; the rest is passed through untouched.
func (r Resource) Path(identifier string) string {
	identifier = strings.TrimRight(identifier, "/")
	if identifier == "" {
		return r.Segment()
	}
	return r.Segment() + "/" + identifier
}

// Endpoint is the label recorded on request events for this alias.
func (r Resource) Endpoint() string {
	return "/swapi/" + r.String()
}

// Resolve maps alias and optional identifier to the upstream path,
// e.g. ("movies", "42") -> "films/42".
func Resolve(alias, identifier string) (string, error) {
	r, err := Parse(alias)
	if err != nil {
		return "", err
	}
	return r.Path(identifier), nil
}
