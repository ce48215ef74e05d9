// Package loadbalancer implements C4: combining a candidate's daily
// load and match score into one comparable load factor, smaller is
// better.
package loadbalancer

// LoadFraction is the daily/quota load ratio shared by both the
// score/load mixture and the fallback factor (spec.md §4.4). A
// quota-less user (quota <= 0) still degrades as load grows, using
// daily/(daily+1) so the factor approaches but never reaches 1.
func LoadFraction(daily int, quota *int) float64 {
	if quota != nil && *quota > 0 {
		return float64(daily) / float64(*quota)
	}
	return float64(daily) / float64(daily+1)
}

// Factor returns the primary load_factor: 0.7*load + 0.3*(1-score_factor).
// When maxPossible is 0 the score_factor is defined as 1.0 (a
// conditionless request is a perfect match for everyone).
func Factor(daily int, quota *int, totalScore, maxPossible float64) float64 {
	load := LoadFraction(daily, quota)
	scoreFactor := 1.0
	if maxPossible > 0 {
		scoreFactor = totalScore / maxPossible
	}
	return 0.7*load + 0.3*(1-scoreFactor)
}

// FallbackFactor is the degraded load-only factor used to rank
// fallback candidates, ignoring score entirely (spec.md §4.4).
func FallbackFactor(daily int, quota *int) float64 {
	return LoadFraction(daily, quota)
}
