// Package criteria infers the side/position a part serves from its raw
// attribute set. The canonical assembly-side attribute wins when it parses;
// otherwise keywords found in attribute values and names are combined, and
// any conflict yields PositionUnknown rather than a guess.
package criteria

import (
	"sort"
	"strings"
)

// Attribute is one raw attribute of a part.
type Attribute struct {
	DefinitionID int64
	Value        string
	Display      bool
}

// Definition describes what an attribute definition id means.
type Definition struct {
	ID       int64
	Name     string
	Unit     string
	ParentID int64
	Display  bool
}

// Inference is the outcome of InferPosition.
type Inference struct {
	Position   Position   `json:"position"`
	Provenance Provenance `json:"provenance"`
	// Keywords lists the folded vocabulary entries that drove the result.
	Keywords []string `json:"matchedKeywords,omitempty"`
	// Conflict is set when opposing keywords were found. The result is then
	// always unknown/none.
	Conflict bool `json:"conflict,omitempty"`
}

// Ambiguous reports whether the inference is a data-quality signal worth a
// human look: keywords were present but disagreed.
func (i Inference) Ambiguous() bool {
	return i.Conflict
}

// Engine applies a Vocabulary. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	vocab     *Vocabulary
	canonical map[int64]struct{}
}

// NewEngine returns an engine over v, or over the embedded vocabulary when
// v is nil.
func NewEngine(v *Vocabulary) *Engine {
	if v == nil {
		v = DefaultVocabulary()
	}
	canonical := make(map[int64]struct{}, len(v.CanonicalIDs))
	for _, id := range v.CanonicalIDs {
		canonical[id] = struct{}{}
	}
	return &Engine{vocab: v, canonical: canonical}
}

// IsCanonical reports whether id is a canonical assembly-side definition.
func (e *Engine) IsCanonical(id int64) bool {
	_, ok := e.canonical[id]
	return ok
}

// InferPosition computes the position of one part. attrs must all belong to
// that part. Definitions missing from defs are treated as opaque text: only
// the attribute value is scanned.
func (e *Engine) InferPosition(attrs []Attribute, defs map[int64]Definition) Inference {
	if inf, ok := e.explicit(attrs); ok {
		return inf
	}

	var hits hitSet
	for _, a := range attrs {
		hits.scan(e.vocab, fold(a.Value))
		if d, ok := defs[a.DefinitionID]; ok {
			hits.scan(e.vocab, fold(d.Name))
		}
	}
	return hits.result(ProvenanceInferred)
}

// explicit parses the canonical attributes. ok is false when none is present
// or none parses to a single consistent position.
func (e *Engine) explicit(attrs []Attribute) (Inference, bool) {
	var hits hitSet
	found := false
	for _, a := range attrs {
		if !e.IsCanonical(a.DefinitionID) {
			continue
		}
		value := fold(a.Value)
		if value == "" {
			continue
		}
		found = true
		if pos, ok := e.vocab.CanonicalTokens[value]; ok {
			l, r := pos.split()
			hits.add(l, "token:"+value)
			hits.add(r, "token:"+value)
			continue
		}
		hits.scan(e.vocab, value)
	}
	if !found {
		return Inference{}, false
	}
	inf := hits.result(ProvenanceExplicit)
	if inf.Position == PositionUnknown {
		return Inference{}, false
	}
	return inf, true
}

// hitSet accumulates matched directions per axis.
type hitSet struct {
	longitudinal map[Direction]struct{}
	lateral      map[Direction]struct{}
	keywords     map[string]struct{}
}

func (h *hitSet) add(d Direction, keyword string) {
	if d == "" {
		return
	}
	if h.longitudinal == nil {
		h.longitudinal = make(map[Direction]struct{}, 2)
		h.lateral = make(map[Direction]struct{}, 2)
		h.keywords = make(map[string]struct{})
	}
	if d.longitudinal() {
		h.longitudinal[d] = struct{}{}
	} else {
		h.lateral[d] = struct{}{}
	}
	h.keywords[keyword] = struct{}{}
}

func (h *hitSet) scan(v *Vocabulary, text string) {
	if text == "" {
		return
	}
	for _, dir := range Directions {
		for _, kw := range v.Keywords[dir] {
			if strings.Contains(text, kw) {
				h.add(dir, kw)
			}
		}
	}
}

func (h *hitSet) result(prov Provenance) Inference {
	keywords := make([]string, 0, len(h.keywords))
	for kw := range h.keywords {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	if len(h.longitudinal) > 1 || len(h.lateral) > 1 {
		return Inference{Position: PositionUnknown, Provenance: ProvenanceNone, Keywords: keywords, Conflict: true}
	}

	var long, lat Direction
	for d := range h.longitudinal {
		long = d
	}
	for d := range h.lateral {
		lat = d
	}
	pos := combine(long, lat)
	if pos == PositionUnknown {
		return Inference{Position: PositionUnknown, Provenance: ProvenanceNone}
	}
	return Inference{Position: pos, Provenance: prov, Keywords: keywords}
}
