package query

import (
	"context"
	"testing"

	"github.com/blevesearch/bleve/v2"
	bq "github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_EmptyQuery_MatchesNothing(t *testing.T) {
	b := NewBuilder()

	for _, text := range []string{"", "   ", "\t\n"} {
		q, err := b.Build(text, DefaultOptions(), Filters{"price": "not-a-number-filter"})
		require.NoError(t, err)
		assert.IsType(t, &bq.MatchNoneQuery{}, q, "query %q", text)
	}
}

func TestBuilder_Structure_ContentPlusFields(t *testing.T) {
	// Given: two requested search fields, one duplicate, one reserved
	opts := DefaultOptions()
	opts.SearchFields = []string{"brand", "category", "brand", "content", "id"}
	opts.PhraseMatching = false

	// When
	q, err := NewBuilder().Build("apple", opts, nil)
	require.NoError(t, err)

	// Then: conjunction of the match disjunction and active:true
	conj, ok := q.(*bq.ConjunctionQuery)
	require.True(t, ok)
	require.Len(t, conj.Conjuncts, 2)

	dis, ok := conj.Conjuncts[0].(*bq.DisjunctionQuery)
	require.True(t, ok)
	require.Len(t, dis.Disjuncts, 3)

	var fields []string
	for _, d := range dis.Disjuncts {
		m, ok := d.(*bq.MatchQuery)
		require.True(t, ok)
		fields = append(fields, m.Field())
		assert.Equal(t, DefaultExactMatchBoost, m.Boost())
		assert.Equal(t, 0, m.Fuzziness)
	}
	assert.Equal(t, []string{"content", "brand", "category"}, fields)

	active, ok := conj.Conjuncts[1].(*bq.BoolFieldQuery)
	require.True(t, ok)
	assert.Equal(t, "active", active.Field())
	assert.True(t, active.Bool)
}

func TestBuilder_FuzzyDistanceIsClamped(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-3, 0},
		{0, 0},
		{1, 1},
		{2, 2},
		{7, 2},
	}
	for _, tt := range tests {
		opts := DefaultOptions()
		opts.Fuzzy = true
		opts.FuzzyDistance = tt.in

		q, err := NewBuilder().Build("aple", opts, nil)
		require.NoError(t, err)

		dis := q.(*bq.ConjunctionQuery).Conjuncts[0].(*bq.DisjunctionQuery)
		m := dis.Disjuncts[0].(*bq.MatchQuery)
		assert.Equal(t, tt.want, m.Fuzziness, "distance %d", tt.in)
	}
}

func TestBuilder_PhraseClauseOnlyForMultiWord(t *testing.T) {
	b := NewBuilder()
	opts := DefaultOptions()

	q, err := b.Build("apple", opts, nil)
	require.NoError(t, err)
	assert.Len(t, q.(*bq.ConjunctionQuery).Conjuncts[0].(*bq.DisjunctionQuery).Disjuncts, 1)

	q, err = b.Build("apple iphone", opts, nil)
	require.NoError(t, err)
	dis := q.(*bq.ConjunctionQuery).Conjuncts[0].(*bq.DisjunctionQuery)
	require.Len(t, dis.Disjuncts, 2)

	phrase, ok := dis.Disjuncts[1].(*bq.MatchPhraseQuery)
	require.True(t, ok)
	assert.Equal(t, DefaultPhraseMatchBoost, phrase.Boost())
}

func TestBuilder_WildcardClauses(t *testing.T) {
	opts := DefaultOptions()
	opts.Wildcard = true
	opts.SearchFields = []string{"brand"}

	q, err := NewBuilder().Build("App*", opts, nil)
	require.NoError(t, err)

	dis := q.(*bq.ConjunctionQuery).Conjuncts[0].(*bq.DisjunctionQuery)
	var wildcards []*bq.WildcardQuery
	for _, d := range dis.Disjuncts {
		if w, ok := d.(*bq.WildcardQuery); ok {
			wildcards = append(wildcards, w)
		}
	}
	require.Len(t, wildcards, 2)
	assert.Equal(t, "app*", wildcards[0].Wildcard)
}

func TestBuilder_UnsupportedFilter(t *testing.T) {
	_, err := NewBuilder().Build("apple", DefaultOptions(), Filters{"tags": []string{"a"}})

	var ufe *UnsupportedFilterError
	require.ErrorAs(t, err, &ufe)
	assert.Equal(t, "tags", ufe.Field)
}

func TestBuilder_FilterClauseTypes(t *testing.T) {
	q, err := NewBuilder().Build("apple", DefaultOptions(), Filters{
		"entityType": "product",
		"brand":      "Apple Inc",
		"featured":   true,
		"price":      Between(100, 200),
		"stock":      3,
		"rating":     map[string]any{"min": 4.0},
	})
	require.NoError(t, err)

	conj := q.(*bq.ConjunctionQuery)
	// match + active + 6 filters, filters sorted by field name
	require.Len(t, conj.Conjuncts, 8)
	assert.IsType(t, &bq.MatchPhraseQuery{}, conj.Conjuncts[2])  // brand
	assert.IsType(t, &bq.TermQuery{}, conj.Conjuncts[3])         // entityType
	assert.IsType(t, &bq.BoolFieldQuery{}, conj.Conjuncts[4])    // featured
	assert.IsType(t, &bq.NumericRangeQuery{}, conj.Conjuncts[5]) // price
	assert.IsType(t, &bq.NumericRangeQuery{}, conj.Conjuncts[6]) // rating
	assert.IsType(t, &bq.NumericRangeQuery{}, conj.Conjuncts[7]) // stock
}

func TestBuilder_Execution(t *testing.T) {
	// Given: a small in-memory index with dynamic mapping
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	docs := map[string]map[string]any{
		"1": {"content": "iPhone 15 Pro smartphone", "brand": "Apple", "price": 999.0, "active": true},
		"2": {"content": "Galaxy S24 smartphone", "brand": "Samsung", "price": 899.0, "active": true},
		"3": {"content": "MacBook Air laptop", "brand": "Apple", "price": 1299.0, "active": false},
		"4": {"content": "Running shoes", "brand": "Nike", "price": 120.0, "active": true},
	}
	for id, d := range docs {
		require.NoError(t, idx.Index(id, d))
	}

	b := NewBuilder()
	search := func(text string, opts Options, filters Filters) []string {
		q, err := b.Build(text, opts, filters)
		require.NoError(t, err)
		res, err := idx.SearchInContext(context.Background(), bleve.NewSearchRequest(q))
		require.NoError(t, err)
		ids := make([]string, 0, len(res.Hits))
		for _, h := range res.Hits {
			ids = append(ids, h.ID)
		}
		return ids
	}

	t.Run("field clause finds brand, inactive excluded", func(t *testing.T) {
		opts := DefaultOptions()
		opts.SearchFields = []string{"brand"}
		assert.Equal(t, []string{"1"}, search("apple", opts, nil))
	})

	t.Run("content only without field clause", func(t *testing.T) {
		assert.Empty(t, search("apple", DefaultOptions(), nil))
	})

	t.Run("fuzzy tolerates a typo", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Fuzzy = true
		assert.ElementsMatch(t, []string{"1", "2"}, search("smartphon", opts, nil))
	})

	t.Run("numeric range filter", func(t *testing.T) {
		assert.Equal(t, []string{"2"}, search("smartphone", DefaultOptions(), Filters{"price": AtMost(900)}))
	})

	t.Run("wildcard", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Wildcard = true
		assert.ElementsMatch(t, []string{"1", "2"}, search("smart*", opts, nil))
	})
}
