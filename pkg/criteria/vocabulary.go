package criteria

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabularyYAML []byte

// minKeywordLen keeps two-letter abbreviations out of substring matching;
// those belong in canonical_tokens where they are matched exactly.
const minKeywordLen = 3

// Vocabulary is the keyword table driving position inference.
type Vocabulary struct {
	Version         int                    `yaml:"version"`
	CanonicalIDs    []int64                `yaml:"canonical_ids"`
	Keywords        map[Direction][]string `yaml:"keywords"`
	CanonicalTokens map[string]Position    `yaml:"canonical_tokens"`
}

// DefaultVocabulary returns the embedded vocabulary.
func DefaultVocabulary() *Vocabulary {
	v, err := ParseVocabulary(defaultVocabularyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded vocabulary is invalid: %v", err))
	}
	return v
}

// LoadVocabulary reads and validates a vocabulary file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	v, err := ParseVocabulary(data)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", path, err)
	}
	return v, nil
}

// ParseVocabulary decodes YAML, folds every keyword and validates the table.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var raw Vocabulary
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode vocabulary: %w", err)
	}

	v := &Vocabulary{
		Version:         raw.Version,
		CanonicalIDs:    append([]int64(nil), raw.CanonicalIDs...),
		Keywords:        make(map[Direction][]string, len(Directions)),
		CanonicalTokens: make(map[string]Position, len(raw.CanonicalTokens)),
	}

	owner := make(map[string]Direction)
	for dir, words := range raw.Keywords {
		if !isDirection(dir) {
			return nil, fmt.Errorf("unknown direction %q", dir)
		}
		for _, w := range words {
			kw := fold(w)
			if len([]rune(kw)) < minKeywordLen {
				return nil, fmt.Errorf("keyword %q for %s is shorter than %d characters", w, dir, minKeywordLen)
			}
			if prev, dup := owner[kw]; dup && prev != dir {
				return nil, fmt.Errorf("keyword %q is listed for both %s and %s", w, prev, dir)
			}
			owner[kw] = dir
			v.Keywords[dir] = append(v.Keywords[dir], kw)
		}
	}
	for _, dir := range Directions {
		if len(v.Keywords[dir]) == 0 {
			return nil, fmt.Errorf("no keywords for %s", dir)
		}
		sort.Strings(v.Keywords[dir])
	}

	for tok, pos := range raw.CanonicalTokens {
		if pos == PositionUnknown || !pos.Valid() {
			return nil, fmt.Errorf("canonical token %q maps to invalid position %q", tok, pos)
		}
		v.CanonicalTokens[fold(tok)] = pos
	}

	if len(v.CanonicalIDs) == 0 {
		return nil, fmt.Errorf("canonical_ids must name at least one attribute definition")
	}
	for _, id := range v.CanonicalIDs {
		if id <= 0 {
			return nil, fmt.Errorf("canonical id %d is not positive", id)
		}
	}
	return v, nil
}

// WithCanonicalIDs returns a copy of v using ids as the canonical
// assembly-side attribute definitions.
func (v *Vocabulary) WithCanonicalIDs(ids []int64) *Vocabulary {
	c := *v
	c.CanonicalIDs = append([]int64(nil), ids...)
	return &c
}

func isDirection(d Direction) bool {
	for _, known := range Directions {
		if d == known {
			return true
		}
	}
	return false
}

// fold lower-cases s and strips diacritics so "Arrière" matches "arriere".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
