// Package query builds structured bleve queries from free-text queries,
// search options and field filters.
package query

import (
	"sort"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	bq "github.com/blevesearch/bleve/v2/search/query"

	"github.com/h12/seekly/pkg/entity"
)

// Builder translates a query string plus options and filters into a bleve
// query. It is stateless and safe for concurrent use.
type Builder struct {
	keywordFields map[string]bool
}

// NewBuilder creates a Builder for the engine's document layout.
func NewBuilder() *Builder {
	return &Builder{
		keywordFields: map[string]bool{
			entity.FieldID:   true,
			entity.FieldType: true,
		},
	}
}

// Build produces the query for text.
//
// Behavior:
//   - Empty or whitespace-only text yields a match-none query.
//   - The content field plus every requested search field contribute one
//     SHOULD clause each, boosted by ExactMatchBoost.
//   - Fuzzy matching sets the edit distance of every term clause.
//   - Multi-word text adds a phrase clause on content when PhraseMatching is on.
//   - Terms containing * or ? add wildcard clauses when Wildcard is on.
//   - The disjunction is ANDed with active:true and every filter.
//
// Only filter values the index cannot express produce an error.
func (b *Builder) Build(text string, opts Options, filters Filters) (bq.Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return bleve.NewMatchNoneQuery(), nil
	}
	opts = opts.Normalize()

	active := bleve.NewBoolFieldQuery(true)
	active.SetField(entity.FieldActive)

	conj := bleve.NewConjunctionQuery(b.matchClauses(text, opts), active)

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, field := range keys {
		clause, err := b.filterClause(field, filters[field])
		if err != nil {
			return nil, err
		}
		conj.AddQuery(clause)
	}
	return conj, nil
}

// matchClauses builds the scoring disjunction.
func (b *Builder) matchClauses(text string, opts Options) *bq.DisjunctionQuery {
	fields := append([]string{entity.FieldContent}, searchFields(opts.SearchFields)...)

	dis := bleve.NewDisjunctionQuery()
	for _, field := range fields {
		m := bleve.NewMatchQuery(text)
		m.SetField(field)
		m.SetBoost(opts.ExactMatchBoost)
		if opts.Fuzzy {
			m.SetFuzziness(opts.FuzzyDistance)
		}
		dis.AddQuery(m)
	}

	if opts.PhraseMatching && len(strings.Fields(text)) > 1 {
		p := bleve.NewMatchPhraseQuery(text)
		p.SetField(entity.FieldContent)
		p.SetBoost(opts.PhraseMatchBoost)
		dis.AddQuery(p)
	}

	if opts.Wildcard {
		for _, term := range strings.Fields(strings.ToLower(text)) {
			if !strings.ContainsAny(term, "*?") {
				continue
			}
			for _, field := range fields {
				w := bleve.NewWildcardQuery(term)
				w.SetField(field)
				w.SetBoost(opts.ExactMatchBoost)
				dis.AddQuery(w)
			}
		}
	}
	return dis
}

// searchFields drops duplicates, the content field, engine-owned fields and
// names that cannot be index field names.
func searchFields(requested []string) []string {
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] || entity.IsReserved(name) || !validFieldName(name) {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func validFieldName(name string) bool {
	for _, r := range name {
		if unicode.IsSpace(r) || r == '*' || r == '?' {
			return false
		}
	}
	return true
}

func (b *Builder) filterClause(field string, v any) (bq.Query, error) {
	switch val := v.(type) {
	case string:
		if b.keywordFields[field] {
			t := bleve.NewTermQuery(val)
			t.SetField(field)
			return t, nil
		}
		p := bleve.NewMatchPhraseQuery(val)
		p.SetField(field)
		return p, nil
	case bool:
		q := bleve.NewBoolFieldQuery(val)
		q.SetField(field)
		return q, nil
	case Range:
		return numericRange(field, val.Min, val.Max), nil
	case *Range:
		if val == nil {
			return nil, &UnsupportedFilterError{Field: field, Value: v}
		}
		return numericRange(field, val.Min, val.Max), nil
	case map[string]any:
		r, ok := rangeFromMap(val)
		if !ok {
			return nil, &UnsupportedFilterError{Field: field, Value: v}
		}
		return numericRange(field, r.Min, r.Max), nil
	}

	if n, ok := numeric(v); ok {
		return numericRange(field, &n, &n), nil
	}
	return nil, &UnsupportedFilterError{Field: field, Value: v}
}

// rangeFromMap accepts decoded JSON of the form {"min": x, "max": y}.
func rangeFromMap(m map[string]any) (Range, bool) {
	var r Range
	for k, v := range m {
		n, ok := numeric(v)
		if !ok {
			return Range{}, false
		}
		switch k {
		case "min":
			r.Min = &n
		case "max":
			r.Max = &n
		default:
			return Range{}, false
		}
	}
	return r, r.Min != nil || r.Max != nil
}

func numericRange(field string, lo, hi *float64) bq.Query {
	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(lo, hi, &inclusive, &inclusive)
	q.SetField(field)
	return q
}
