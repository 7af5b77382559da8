package common

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Page is a parsed page/limit query.
type Page struct {
	Number int
	Limit  int
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int { return (p.Number - 1) * p.Limit }

// Pagination is the metadata attached to list responses. HasMore is computed by fetching one row
// past the page, so no count query is needed.
type Pagination struct {
	Page     int  `json:"page"`
	Limit    int  `json:"limit"`
	Returned int  `json:"returned"`
	HasMore  bool `json:"has_more"`
}

// ParsePage reads ?page= and ?limit= (per_page is accepted as an alias). Missing values take the
// defaults, limit is capped at max, and malformed numbers are an error.
func ParsePage(r *http.Request, defaultLimit, max int) (Page, error) {
	q := r.URL.Query()
	p := Page{Number: 1, Limit: defaultLimit}
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Page{}, fmt.Errorf("page must be a positive integer")
		}
		p.Number = n
	}
	raw := strings.TrimSpace(q.Get("limit"))
	if raw == "" {
		raw = strings.TrimSpace(q.Get("per_page"))
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Page{}, fmt.Errorf("limit must be a positive integer")
		}
		p.Limit = n
	}
	if max > 0 && p.Limit > max {
		p.Limit = max
	}
	return p, nil
}

// Paginate trims a result fetched with Limit+1 rows and reports whether more rows exist.
func Paginate[T any](p Page, rows []T) ([]T, Pagination) {
	more := len(rows) > p.Limit
	if more {
		rows = rows[:p.Limit]
	}
	return rows, Pagination{Page: p.Number, Limit: p.Limit, Returned: len(rows), HasMore: more}
}
