package pagination

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || params.OrderBy != "" || params.Desc {
		t.Fatalf("expected zero params, got %#v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		values := url.Values{}
		values.Set("pageSize", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected ErrInvalidPageSize for %q, got %v", raw, err)
		}
	}
}

func TestParseOrderBy(t *testing.T) {
	cases := map[string]struct {
		field string
		desc  bool
	}{
		"total":          {"total", false},
		"-orderDate":     {"orderDate", true},
		"createdAt desc": {"createdAt", true},
		"status asc":     {"status", false},
	}
	for raw, want := range cases {
		values := url.Values{}
		values.Set("orderBy", raw)
		params, err := Parse(values, Options{})
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", raw, err)
		}
		if params.OrderBy != want.field || params.Desc != want.desc {
			t.Fatalf("Parse(%q) = %q/%v, want %q/%v", raw, params.OrderBy, params.Desc, want.field, want.desc)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{Offset: 40})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	cursor, err := DecodeToken(params.PageToken)
	if err != nil || cursor.Offset != 40 {
		t.Fatalf("expected offset 40, got %+v err %v", cursor, err)
	}

	empty, err := EncodeToken(Cursor{})
	if err != nil || empty != "" {
		t.Fatalf("expected empty token for zero cursor, got %q err %v", empty, err)
	}
}

func TestParseInvalidToken(t *testing.T) {
	values := url.Values{}
	values.Set("pageToken", "%%%")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
