// Package matcher implements C2: evaluating one typed condition
// (operator + value) against a single user-declared value.
package matcher

import (
	"strings"
	"time"

	"github.com/Artem468/executor-balancer/pkg/types"
)

// Matches evaluates condition against userValue (present, already
// typed) and returns whether it matches plus the condition's weight.
// A missing userValue returns (false, 0.0) per spec.md §4.2; an
// operand type mismatch swallows to (false, weight) rather than
// failing the whole dispatch. The ordered operators compare
// condition.Value against userValue: GTE matches when
// condition.Value >= userValue.
func Matches(userValue types.Value, present bool, condition types.Condition) (bool, float64) {
	if !present {
		return false, 0.0
	}

	normalized := normalize(userValue)
	weight := condition.Height

	switch condition.Operator {
	case types.OpEQ:
		return normalized.Equal(condition.Value), weight
	case types.OpNE:
		return !normalized.Equal(condition.Value), weight
	case types.OpGT:
		cmp, ok := condition.Value.Compare(normalized)
		return ok && cmp > 0, weight
	case types.OpGTE:
		cmp, ok := condition.Value.Compare(normalized)
		return ok && cmp >= 0, weight
	case types.OpLT:
		cmp, ok := condition.Value.Compare(normalized)
		return ok && cmp < 0, weight
	case types.OpLTE:
		cmp, ok := condition.Value.Compare(normalized)
		return ok && cmp <= 0, weight
	case types.OpICONTAINS:
		return icontains(normalized, condition.Value), weight
	default:
		return false, weight
	}
}

// normalize mirrors ParameterMatcher.normalize_value: a string value
// containing "T" is given one chance to parse as an ISO-8601
// timestamp (treating a trailing Z as UTC); on failure it is left as
// a plain string so string-vs-string operators still work.
func normalize(v types.Value) types.Value {
	if v.Kind() != types.KindString {
		return v
	}
	s := v.Str()
	if !strings.Contains(s, "T") {
		return v
	}
	candidate := s
	if strings.HasSuffix(candidate, "Z") {
		candidate = strings.TrimSuffix(candidate, "Z") + "+00:00"
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, candidate); err == nil {
			return types.Time(t)
		}
	}
	return v
}

// icontains is ICONTAINS: both sides must be strings, case-insensitive
// substring of condition.Value inside userValue.
func icontains(userValue, conditionValue types.Value) bool {
	if userValue.Kind() != types.KindString || conditionValue.Kind() != types.KindString {
		return false
	}
	return strings.Contains(strings.ToLower(userValue.Str()), strings.ToLower(conditionValue.Str()))
}
