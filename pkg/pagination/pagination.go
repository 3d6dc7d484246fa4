// Package pagination windows list responses with ?limit= and ?offset=.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Missing or invalid values fall
// back to DefaultLimit and 0; the limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return Params{Limit: limit, Offset: max(offset, 0)}
}

// Page returns the window of items selected by p.
func Page[T any](items []T, p Params) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	return items[p.Offset:min(p.Offset+p.Limit, len(items))]
}

// Response is the envelope of a paginated listing.
type Response struct {
	Data    any    `json:"data"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
	Links   []Link `json:"links,omitempty"`
}

type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// Build pages items according to the request and links the neighbouring
// pages. Query parameters other than limit and offset are kept in links.
func Build[T any](c echo.Context, items []T) *Response {
	p := FromContext(c)
	total := len(items)
	return &Response{
		Data:    Page(items, p),
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+p.Limit < total,
		Links:   p.links(c.Request().URL.Path, total, c.QueryParams()),
	}
}

func (p Params) links(path string, total int, query url.Values) []Link {
	at := func(offset int) string {
		q := url.Values{}
		for k, v := range query {
			if k != "limit" && k != "offset" {
				q[k] = v
			}
		}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(p.Limit))
		return path + "?" + q.Encode()
	}

	links := []Link{{Relation: "self", URL: at(p.Offset)}}
	if p.Offset+p.Limit < total {
		links = append(links, Link{Relation: "next", URL: at(p.Offset + p.Limit)})
	}
	if p.Offset > 0 {
		links = append(links, Link{Relation: "previous", URL: at(max(p.Offset-p.Limit, 0))})
	}
	return links
}
