package query

import (
	"fmt"
	"time"
)

// Filters restricts results by field value. All filters must match.
//
// Supported values:
//   - string: exact term on keyword fields, phrase match on text fields
//   - bool: boolean field match
//   - int, int64, float64 (and other numeric kinds): numeric equality
//   - time.Time: equality on an epoch-millisecond field
//   - Range: inclusive numeric range
type Filters map[string]any

// Range is an inclusive numeric range filter. A nil bound is open.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Between returns a closed Range.
func Between(lo, hi float64) Range {
	return Range{Min: &lo, Max: &hi}
}

// AtLeast returns a Range with only a lower bound.
func AtLeast(lo float64) Range {
	return Range{Min: &lo}
}

// AtMost returns a Range with only an upper bound.
func AtMost(hi float64) Range {
	return Range{Max: &hi}
}

// TimeRange returns a Range over an epoch-millisecond field. Zero times are
// open bounds.
func TimeRange(from, to time.Time) Range {
	var r Range
	if !from.IsZero() {
		lo := float64(from.UnixMilli())
		r.Min = &lo
	}
	if !to.IsZero() {
		hi := float64(to.UnixMilli())
		r.Max = &hi
	}
	return r
}

// numeric converts supported numeric filter values to float64.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case time.Time:
		return float64(n.UnixMilli()), true
	}
	return 0, false
}

// UnsupportedFilterError reports a filter value the builder cannot express.
type UnsupportedFilterError struct {
	Field string
	Value any
}

func (e *UnsupportedFilterError) Error() string {
	return fmt.Sprintf("unsupported filter value %T for field %q", e.Value, e.Field)
}
