package resource

import (
	"net/url"
	"strings"
)

const keyPrefix = "swapi"

// CacheKey derives the response cache key for a resolved path and its query
// parameters. Path segments are query-escaped before being joined with ':' so
// that no two paths share a key; parameters are encoded sorted by name, with
// the values of a repeated name kept in request order.
func CacheKey(path string, query url.Values) string {
	var b strings.Builder
	b.WriteString(keyPrefix)

	for _, segment := range strings.Split(path, "/") {
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(segment))
	}

	if encoded := query.Encode(); encoded != "" {
		b.WriteByte(':')
		b.WriteString(encoded)
	}
	return b.String()
}
