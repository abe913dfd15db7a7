package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// ErrInvalidPageSize is returned for non-numeric or non-positive page sizes.
var ErrInvalidPageSize = errors.New("pagination: invalid pageSize")

// Params bundles pagination and sorting values extracted from a request. OrderBy is passed through
// unvalidated; the caller owns the allow-list of sortable fields.
type Params struct {
	PageSize  int
	PageToken string
	OrderBy   string
	Desc      bool
}

// Options control how Parse behaves for a given handler layer.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes pageSize, pageToken and orderBy ("field", "field desc" or "-field").
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}

	params := Params{PageSize: pageSize}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		if _, err := DecodeToken(token); err != nil {
			return Params{}, err
		}
		params.PageToken = token
	}

	params.OrderBy, params.Desc = parseOrderBy(values.Get("orderBy"))
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	def := opts.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	max := opts.MaxPageSize
	if max <= 0 {
		max = DefaultMaxPageSize
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
	}
	if size > max {
		size = max
	}
	return size, nil
}

func parseOrderBy(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(raw, "-") {
		return strings.TrimSpace(raw[1:]), true
	}
	parts := strings.Fields(raw)
	if len(parts) == 2 {
		return parts[0], strings.EqualFold(parts[1], "desc")
	}
	return raw, false
}
