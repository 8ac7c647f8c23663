package compat

import (
	"slices"
	"strconv"
	"strings"

	"github.com/autoparts/compat-engine/pkg/criteria"
)

var refStripper = strings.NewReplacer(" ", "", ".", "", "-", "", "/", "", "\t", "")

// NormalizeRef reduces a commercial reference to its comparison form:
// upper-cased with separators removed.
func NormalizeRef(ref string) string {
	return strings.ToUpper(refStripper.Replace(strings.TrimSpace(ref)))
}

func dedupKey(p *ResolvedPart) string {
	if p.NormalizedRef == "" {
		return "#" + strconv.FormatInt(p.PieceID, 10)
	}
	return strconv.FormatInt(p.BrandID, 10) + "|" + p.NormalizedRef
}

// dedupe merges parts sharing a brand and normalized reference. The lowest
// piece id survives and lists the others in MergedPieceIDs. Parts must be
// in piece id order. When the merged parts disagree on a known position the
// survivor becomes unknown, since either side could be wrong.
func dedupe(parts []ResolvedPart) []ResolvedPart {
	index := make(map[string]int, len(parts))
	out := make([]ResolvedPart, 0, len(parts))
	for _, p := range parts {
		key := dedupKey(&p)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, p)
			continue
		}
		s := &out[i]
		s.MergedPieceIDs = append(s.MergedPieceIDs, p.PieceID)
		s.RelationCount += p.RelationCount
		mergeInference(s, &p)
	}
	return out
}

func mergeInference(s, p *ResolvedPart) {
	switch {
	case p.Position == criteria.PositionUnknown && !p.Ambiguous:
		return
	case s.Position == criteria.PositionUnknown && !s.Ambiguous:
		s.Position, s.Provenance = p.Position, p.Provenance
		s.MatchedKeywords = p.MatchedKeywords
		s.Ambiguous = p.Ambiguous
		return
	case s.Position == p.Position:
		if p.Provenance == criteria.ProvenanceExplicit {
			s.Provenance = criteria.ProvenanceExplicit
		}
		s.MatchedKeywords = mergeKeywords(s.MatchedKeywords, p.MatchedKeywords)
		return
	}
	s.Position = criteria.PositionUnknown
	s.Provenance = criteria.ProvenanceNone
	s.Ambiguous = true
	s.MatchedKeywords = mergeKeywords(s.MatchedKeywords, p.MatchedKeywords)
}

func mergeKeywords(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}
