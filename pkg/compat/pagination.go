package compat

import "github.com/autoparts/compat-engine/pkg/enginerr"

const (
	// DefaultLimit is used when the caller leaves Limit at zero.
	DefaultLimit = 50
	// MaxLimit is the upper bound for Limit; larger values are clamped.
	MaxLimit = 100
)

// Pagination is an offset window over the resolved, sorted part list.
type Pagination struct {
	Offset int
	Limit  int
}

// PageToPagination converts a 1-based page number to an offset window.
func PageToPagination(page, limit int) Pagination {
	if page < 1 {
		page = 1
	}
	return Pagination{Offset: (page - 1) * limit, Limit: limit}
}

func (p Pagination) normalize(op string) (Pagination, error) {
	if p.Offset < 0 {
		return p, enginerr.InvalidInput(op, "offset must be non-negative, got %d", p.Offset)
	}
	if p.Limit < 0 {
		return p, enginerr.InvalidInput(op, "limit must be non-negative, got %d", p.Limit)
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p, nil
}

// paginateSlice returns the window of items selected by p. The caller sorts
// items first.
func paginateSlice[T any](items []T, p Pagination) []T {
	total := len(items)
	if p.Offset >= total {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	return items[p.Offset:end]
}
