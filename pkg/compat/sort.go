package compat

import (
	"cmp"
	"slices"
	"strings"

	"github.com/autoparts/compat-engine/pkg/criteria"
	"github.com/autoparts/compat-engine/pkg/enginerr"
)

// SortField names a caller-selectable ordering.
type SortField string

const (
	SortBrand     SortField = "brand"
	SortReference SortField = "reference"
	SortName      SortField = "name"
	SortPosition  SortField = "position"
)

// SortKey is one field of a sort expression.
type SortKey struct {
	Field      SortField
	Descending bool
}

// DefaultSort orders by brand then reference.
var DefaultSort = []SortKey{{Field: SortBrand}, {Field: SortReference}}

// ParseSort parses a comma-separated list such as "brand,-reference". An
// empty string yields DefaultSort.
func ParseSort(s string) ([]SortKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSort, nil
	}
	var keys []SortKey
	seen := make(map[SortField]bool)
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		key := SortKey{}
		if strings.HasPrefix(raw, "-") {
			key.Descending = true
			raw = raw[1:]
		}
		key.Field = SortField(strings.ToLower(raw))
		switch key.Field {
		case SortBrand, SortReference, SortName, SortPosition:
		default:
			return nil, enginerr.InvalidInput("compat.parse_sort", "unknown sort key %q", raw)
		}
		if seen[key.Field] {
			return nil, enginerr.InvalidInput("compat.parse_sort", "sort key %q repeated", raw)
		}
		seen[key.Field] = true
		keys = append(keys, key)
	}
	return keys, nil
}

// positionRank orders positions front to rear, left before right, unknown
// last.
var positionRank = map[criteria.Position]int{
	criteria.PositionFront:      0,
	criteria.PositionFrontLeft:  1,
	criteria.PositionFrontRight: 2,
	criteria.PositionRear:       3,
	criteria.PositionRearLeft:   4,
	criteria.PositionRearRight:  5,
	criteria.PositionLeft:       6,
	criteria.PositionRight:      7,
	criteria.PositionUnknown:    8,
}

func compareField(a, b *ResolvedPart, f SortField) int {
	switch f {
	case SortBrand:
		if c := cmp.Compare(strings.ToLower(a.BrandName), strings.ToLower(b.BrandName)); c != 0 {
			return c
		}
		return cmp.Compare(a.BrandID, b.BrandID)
	case SortReference:
		return cmp.Compare(a.NormalizedRef, b.NormalizedRef)
	case SortName:
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case SortPosition:
		return cmp.Compare(positionRank[a.Position], positionRank[b.Position])
	}
	return 0
}

// sortParts orders parts by keys, breaking ties on piece id so the order is
// total.
func sortParts(parts []ResolvedPart, keys []SortKey) {
	slices.SortFunc(parts, func(a, b ResolvedPart) int {
		for _, k := range keys {
			c := compareField(&a, &b, k.Field)
			if k.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Compare(a.PieceID, b.PieceID)
	})
}
