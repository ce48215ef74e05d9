package loadbalancer

import "sort"

// ThresholdPercent is the legacy height-threshold policy's tolerance
// band below the best candidate's score (spec.md §4.6, "alternative
// mode, retained for backward compatibility").
const ThresholdPercent = 0.05

// Candidate is one scored, quota-checked user ready for load-balancing
// selection (the dispatcher's per-user candidate record, spec.md
// §4.6 step 4).
type Candidate struct {
	UserID     string
	TotalScore float64
	MaxScore   float64
	Daily      int
	Quota      *int
	IsFallback bool
}

// Factor returns this candidate's load factor under the default
// score/load policy.
func (c Candidate) Factor() float64 {
	if c.IsFallback {
		return FallbackFactor(c.Daily, c.Quota)
	}
	return Factor(c.Daily, c.Quota, c.TotalScore, c.MaxScore)
}

// Policy selects a single winner from a candidate set, or reports
// false when none qualifies.
type Policy interface {
	Select(candidates []Candidate) (Candidate, bool)
}

// ScoreLoadPolicy is the default policy (spec.md §4.6 steps 5-6):
// partition into primary/fallback, rank each by ascending load
// factor, prefer primary's best; ties break on the lexicographically
// smallest user id (a specified strengthening of an originally
// unspecified tie-break).
type ScoreLoadPolicy struct{}

func (ScoreLoadPolicy) Select(candidates []Candidate) (Candidate, bool) {
	var primary, fallback []Candidate
	for _, c := range candidates {
		if c.IsFallback {
			fallback = append(fallback, c)
		} else {
			primary = append(primary, c)
		}
	}

	if best, ok := bestOf(primary); ok {
		return best, true
	}
	return bestOf(fallback)
}

func bestOf(pool []Candidate) (Candidate, bool) {
	if len(pool) == 0 {
		return Candidate{}, false
	}
	sorted := make([]Candidate, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		fi, fj := sorted[i].Factor(), sorted[j].Factor()
		if fi != fj {
			return fi < fj
		}
		return sorted[i].UserID < sorted[j].UserID
	})
	return sorted[0], true
}

// ThresholdPolicy is the legacy policy: among candidates whose
// TotalScore is positive, keep those within ThresholdPercent of the
// best TotalScore, then pick the least-loaded of that subset
// (spec.md §4.6, §9 open question — kept only as an opt-in
// alternative, not the default).
type ThresholdPolicy struct{}

func (ThresholdPolicy) Select(candidates []Candidate) (Candidate, bool) {
	var scored []Candidate
	best := 0.0
	for _, c := range candidates {
		if c.TotalScore <= 0 {
			continue
		}
		scored = append(scored, c)
		if c.TotalScore > best {
			best = c.TotalScore
		}
	}
	if len(scored) == 0 {
		return Candidate{}, false
	}

	floor := best * (1 - ThresholdPercent)
	var withinBand []Candidate
	for _, c := range scored {
		if c.TotalScore >= floor {
			withinBand = append(withinBand, c)
		}
	}

	sort.SliceStable(withinBand, func(i, j int) bool {
		li, lj := LoadFraction(withinBand[i].Daily, withinBand[i].Quota), LoadFraction(withinBand[j].Daily, withinBand[j].Quota)
		if li != lj {
			return li < lj
		}
		return withinBand[i].UserID < withinBand[j].UserID
	})
	return withinBand[0], true
}
