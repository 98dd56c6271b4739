package query

// Default search option values.
const (
	DefaultMaxResults       = 20
	DefaultFuzzyDistance    = 1
	DefaultExactMatchBoost  = 2.0
	DefaultPhraseMatchBoost = 1.5
	DefaultMaxSuggestions   = 5

	// MaxFuzzyDistance is the largest edit distance the index supports.
	MaxFuzzyDistance = 2
)

// Options configures how a query string is matched and how results are paged.
type Options struct {
	// MaxResults is the page size (default: 20).
	MaxResults int `json:"max_results" yaml:"max_results"`

	// Offset skips the first ranked hits.
	Offset int `json:"offset,omitempty" yaml:"offset"`

	// SearchFields adds one clause per named searchable field.
	SearchFields []string `json:"search_fields,omitempty" yaml:"search_fields"`

	// MinScore drops hits scoring below it (0 disables).
	MinScore float64 `json:"min_score,omitempty" yaml:"min_score"`

	// Fuzzy enables edit-distance matching bounded by FuzzyDistance (0-2).
	Fuzzy         bool `json:"fuzzy" yaml:"fuzzy"`
	FuzzyDistance int  `json:"fuzzy_distance" yaml:"fuzzy_distance"`

	// Wildcard enables * and ? patterns in query terms.
	Wildcard bool `json:"wildcard" yaml:"wildcard"`

	// PhraseMatching adds a phrase clause for multi-word queries.
	PhraseMatching bool `json:"phrase_matching" yaml:"phrase_matching"`

	// ExactMatchBoost boosts every term clause (default: 2.0).
	ExactMatchBoost float64 `json:"exact_match_boost" yaml:"exact_match_boost"`

	// PhraseMatchBoost boosts the phrase clause (default: 1.5).
	PhraseMatchBoost float64 `json:"phrase_match_boost" yaml:"phrase_match_boost"`

	IncludeSuggestions bool `json:"include_suggestions,omitempty" yaml:"include_suggestions"`
	MaxSuggestions     int  `json:"max_suggestions,omitempty" yaml:"max_suggestions"`

	// TrackMetrics records the search in the metrics tracker (default: true).
	TrackMetrics bool `json:"track_metrics" yaml:"track_metrics"`

	SessionID string `json:"session_id,omitempty" yaml:"-"`
	UserID    string `json:"user_id,omitempty" yaml:"-"`
}

// DefaultOptions returns the default search options.
func DefaultOptions() Options {
	return Options{
		MaxResults:       DefaultMaxResults,
		FuzzyDistance:    DefaultFuzzyDistance,
		PhraseMatching:   true,
		ExactMatchBoost:  DefaultExactMatchBoost,
		PhraseMatchBoost: DefaultPhraseMatchBoost,
		MaxSuggestions:   DefaultMaxSuggestions,
		TrackMetrics:     true,
	}
}

// Normalize replaces out-of-range numeric values with their defaults and
// clamps the fuzzy distance into 0..MaxFuzzyDistance. Boolean switches are
// left as given.
func (o Options) Normalize() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.MinScore < 0 {
		o.MinScore = 0
	}
	o.FuzzyDistance = clampDistance(o.FuzzyDistance)
	if o.ExactMatchBoost <= 0 {
		o.ExactMatchBoost = DefaultExactMatchBoost
	}
	if o.PhraseMatchBoost <= 0 {
		o.PhraseMatchBoost = DefaultPhraseMatchBoost
	}
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = DefaultMaxSuggestions
	}
	return o
}

func clampDistance(d int) int {
	switch {
	case d < 0:
		return 0
	case d > MaxFuzzyDistance:
		return MaxFuzzyDistance
	default:
		return d
	}
}
