// Package query implements the filter/sort/paginate engine shared by
// the live-backend and fallback-backend read paths.
//
// Execute is a pure function over a dataset snapshot: no hidden state,
// no I/O. The same function runs whether the snapshot came from the
// persistent store or from the in-memory fallback collection, which is
// what guarantees the two paths cannot diverge for the same request.
package query

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lotwire/lotwire/pkg/vehicle"
)

// Direction orders a sort ascending or descending.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// searchFields is the fixed allowlist of fields the free-text search
// matches against, OR-combined.
var searchFields = []func(vehicle.Vehicle) string{
	func(v vehicle.Vehicle) string { return v.Make },
	func(v vehicle.Vehicle) string { return v.Model },
	func(v vehicle.Vehicle) string { return v.VIN },
	func(v vehicle.Vehicle) string { return v.Color },
}

// Request describes one list/filter/sort/paginate operation.
//
// A zero-valued filter field ("" or nil) is skipped entirely; it never
// means "match nothing". Page is 1-based.
type Request struct {
	// Search is a case-insensitive substring matched against make,
	// model, VIN and color.
	Search string

	// Exact-match categorical filters.
	Status string
	Make   string
	Year   *int

	// Inclusive numeric range filters.
	MinPrice   *float64
	MaxPrice   *float64
	MinMileage *int
	MaxMileage *int

	SortBy    string
	SortOrder Direction

	Page     int
	PageSize int
}

// Result is the paginated outcome of a Request.
type Result struct {
	Items      []vehicle.Vehicle `json:"items"`
	TotalCount int               `json:"totalCount"`
	TotalPages int               `json:"totalPages"`
}

// ValidationError reports a malformed Request. It is surfaced to the
// caller immediately; the engine never silently corrects input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid query request: %s: %s", e.Field, e.Reason)
}

func validate(req Request) error {
	if req.Page <= 0 {
		return &ValidationError{Field: "page", Reason: "must be a positive integer"}
	}
	if req.PageSize <= 0 {
		return &ValidationError{Field: "pageSize", Reason: "must be a positive integer"}
	}
	if req.SortOrder != "" && req.SortOrder != Asc && req.SortOrder != Desc {
		return &ValidationError{Field: "sortOrder", Reason: fmt.Sprintf("unknown direction %q", req.SortOrder)}
	}
	if req.SortBy != "" {
		if _, ok := comparators[req.SortBy]; !ok {
			return &ValidationError{Field: "sortBy", Reason: fmt.Sprintf("unknown sort field %q", req.SortBy)}
		}
	}
	return nil
}

// comparators holds one ascending comparator per sortable field.
// Descending order negates the ascending result instead of using a
// second comparator, so tie-breaking cannot diverge between
// directions.
var comparators = map[string]func(a, b vehicle.Vehicle) int{
	"make":      func(a, b vehicle.Vehicle) int { return strings.Compare(a.Make, b.Make) },
	"model":     func(a, b vehicle.Vehicle) int { return strings.Compare(a.Model, b.Model) },
	"vin":       func(a, b vehicle.Vehicle) int { return strings.Compare(a.VIN, b.VIN) },
	"color":     func(a, b vehicle.Vehicle) int { return strings.Compare(a.Color, b.Color) },
	"status":    func(a, b vehicle.Vehicle) int { return strings.Compare(string(a.Status), string(b.Status)) },
	"year":      func(a, b vehicle.Vehicle) int { return compareInt(a.Year, b.Year) },
	"mileage":   func(a, b vehicle.Vehicle) int { return compareInt(a.Mileage, b.Mileage) },
	"price":     func(a, b vehicle.Vehicle) int { return compareFloat(a.Price, b.Price) },
	"createdAt": func(a, b vehicle.Vehicle) int { return compareTime(a, b) },
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTime(a, b vehicle.Vehicle) int {
	switch {
	case a.CreatedAt.Before(b.CreatedAt):
		return -1
	case a.CreatedAt.After(b.CreatedAt):
		return 1
	}
	return 0
}

// Execute runs the request against the snapshot and returns the page.
//
// Evaluation order: free-text search, then categorical exact matches,
// then numeric ranges, then stable sort, then pagination. TotalCount
// is the filtered size before pagination; a page past the end returns
// empty items rather than an error.
func Execute(snapshot []vehicle.Vehicle, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	filtered := filter(snapshot, req)

	totalCount := len(filtered)
	totalPages := int(math.Ceil(float64(totalCount) / float64(req.PageSize)))

	if req.SortBy != "" {
		cmp := comparators[req.SortBy]
		desc := req.SortOrder == Desc
		sort.SliceStable(filtered, func(i, j int) bool {
			c := cmp(filtered[i], filtered[j])
			if desc {
				c = -c
			}
			return c < 0
		})
	}

	start := (req.Page - 1) * req.PageSize
	if start >= totalCount {
		return &Result{Items: []vehicle.Vehicle{}, TotalCount: totalCount, TotalPages: totalPages}, nil
	}
	end := start + req.PageSize
	if end > totalCount {
		end = totalCount
	}

	return &Result{Items: filtered[start:end:end], TotalCount: totalCount, TotalPages: totalPages}, nil
}

func filter(snapshot []vehicle.Vehicle, req Request) []vehicle.Vehicle {
	// Work on a copy so sorting never mutates the caller's snapshot.
	out := make([]vehicle.Vehicle, 0, len(snapshot))

	search := strings.ToLower(strings.TrimSpace(req.Search))

	for _, v := range snapshot {
		if search != "" && !matchesSearch(v, search) {
			continue
		}
		if req.Status != "" && string(v.Status) != req.Status {
			continue
		}
		if req.Make != "" && v.Make != req.Make {
			continue
		}
		if req.Year != nil && v.Year != *req.Year {
			continue
		}
		if req.MinPrice != nil && v.Price < *req.MinPrice {
			continue
		}
		if req.MaxPrice != nil && v.Price > *req.MaxPrice {
			continue
		}
		if req.MinMileage != nil && v.Mileage < *req.MinMileage {
			continue
		}
		if req.MaxMileage != nil && v.Mileage > *req.MaxMileage {
			continue
		}
		out = append(out, v)
	}

	return out
}

func matchesSearch(v vehicle.Vehicle, search string) bool {
	for _, field := range searchFields {
		if strings.Contains(strings.ToLower(field(v)), search) {
			return true
		}
	}
	return false
}
