package extraction

import (
	"strings"

	"github.com/graphmill/graphmill/domain/schemas"
	"github.com/graphmill/graphmill/pkg/mathutil"
)

// fuzzyNameThreshold is the edit-similarity floor for a fuzzy name match.
const fuzzyNameThreshold = 0.8

// EntityRef identifies an entity in an evaluation fixture.
type EntityRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RelationshipRef identifies a relationship in an evaluation fixture by the
// names of its endpoints.
type RelationshipRef struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Relationship match types, in preference order.
type MatchType string

const (
	MatchExact        MatchType = "exact"
	MatchInverse      MatchType = "inverse"
	MatchFuzzy        MatchType = "fuzzy"
	MatchInverseFuzzy MatchType = "inverse_fuzzy"
)

// RelationshipMatch pairs an expected relationship with the extracted one
// that satisfied it.
type RelationshipMatch struct {
	Expected  RelationshipRef `json:"expected"`
	Extracted RelationshipRef `json:"extracted"`
	MatchType MatchType       `json:"matchType"`
}

// MatchScore is a precision/recall/F1 triple over matched counts.
type MatchScore struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Matched   int     `json:"matched"`
	Expected  int     `json:"expected"`
	Extracted int     `json:"extracted"`
}

func newMatchScore(matched, expected, extracted int) MatchScore {
	p := mathutil.SafeRatio(float64(matched), float64(extracted))
	r := mathutil.SafeRatio(float64(matched), float64(expected))
	return MatchScore{
		Precision: p,
		Recall:    r,
		F1:        mathutil.SafeRatio(2*p*r, p+r),
		Matched:   matched,
		Expected:  expected,
		Extracted: extracted,
	}
}

// ScoreEntities greedily matches extracted entities against the expected
// list. Exact (normalized) name matches are consumed before fuzzy ones.
func ScoreEntities(expected, extracted []EntityRef) MatchScore {
	usedExp := make([]bool, len(expected))
	usedExt := make([]bool, len(extracted))
	matched := 0

	for _, strict := range []bool{true, false} {
		for i, exp := range expected {
			if usedExp[i] {
				continue
			}
			for j, got := range extracted {
				if usedExt[j] {
					continue
				}
				if entityMatches(exp, got, strict) {
					usedExp[i] = true
					usedExt[j] = true
					matched++
					break
				}
			}
		}
	}

	return newMatchScore(matched, len(expected), len(extracted))
}

func entityMatches(a, b EntityRef, strict bool) bool {
	if !strings.EqualFold(strings.TrimSpace(a.Type), strings.TrimSpace(b.Type)) {
		return false
	}
	return nameMatches(a.Name, b.Name, strict)
}

func nameMatches(a, b string, strict bool) bool {
	na, nb := NormalizeText(a), NormalizeText(b)
	if na == nb {
		return true
	}
	if strict {
		return false
	}
	if na != "" && nb != "" && (strings.Contains(na, nb) || strings.Contains(nb, na)) {
		return true
	}
	return EditSimilarity(na, nb) >= fuzzyNameThreshold
}

// RelationshipMatcher matches relationships with awareness of symmetric
// and inverse type declarations.
type RelationshipMatcher struct {
	symmetric map[string]bool
	inverse   map[string]string
}

// NewRelationshipMatcher derives the direction rules from the schema pack.
// Inverse declarations are indexed in both directions.
func NewRelationshipMatcher(relSchemas map[string]schemas.RelationshipSchema) *RelationshipMatcher {
	m := &RelationshipMatcher{
		symmetric: map[string]bool{},
		inverse:   map[string]string{},
	}
	for name, rs := range relSchemas {
		key := normalizeRelType(name)
		if rs.Symmetric {
			m.symmetric[key] = true
		}
		if rs.Inverse != "" {
			inv := normalizeRelType(rs.Inverse)
			m.inverse[key] = inv
			m.inverse[inv] = key
		}
	}
	return m
}

// Match greedily pairs extracted relationships with expected ones, trying
// match types in preference order: exact, inverse, fuzzy, inverse-fuzzy.
func (m *RelationshipMatcher) Match(expected, extracted []RelationshipRef) ([]RelationshipMatch, MatchScore) {
	var matches []RelationshipMatch
	usedExp := make([]bool, len(expected))
	usedExt := make([]bool, len(extracted))

	for _, mt := range []MatchType{MatchExact, MatchInverse, MatchFuzzy, MatchInverseFuzzy} {
		for i, exp := range expected {
			if usedExp[i] {
				continue
			}
			for j, got := range extracted {
				if usedExt[j] {
					continue
				}
				if m.matchesAs(exp, got, mt) {
					usedExp[i] = true
					usedExt[j] = true
					matches = append(matches, RelationshipMatch{
						Expected:  exp,
						Extracted: got,
						MatchType: mt,
					})
					break
				}
			}
		}
	}

	return matches, newMatchScore(len(matches), len(expected), len(extracted))
}

func (m *RelationshipMatcher) matchesAs(exp, got RelationshipRef, mt MatchType) bool {
	strict := mt == MatchExact || mt == MatchInverse
	inverted := mt == MatchInverse || mt == MatchInverseFuzzy

	expType := normalizeRelType(exp.Type)
	gotType := normalizeRelType(got.Type)

	if inverted {
		if m.inverse[expType] != gotType {
			return false
		}
		// Inverse reading swaps the endpoints.
		return nameMatches(exp.Source, got.Target, strict) && nameMatches(exp.Target, got.Source, strict)
	}

	if expType != gotType {
		return false
	}
	if nameMatches(exp.Source, got.Source, strict) && nameMatches(exp.Target, got.Target, strict) {
		return true
	}
	// Symmetric types are direction independent.
	if m.symmetric[expType] {
		return nameMatches(exp.Source, got.Target, strict) && nameMatches(exp.Target, got.Source, strict)
	}
	return false
}

func normalizeRelType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
