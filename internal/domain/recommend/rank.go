package recommend

import (
	"sort"

	"github.com/okian/medrank/internal/domain/model"
)

// Better is the ranking order: score, then confidence, then sample size, all
// descending, then hospital id ascending. No two distinct hospitals tie.
func Better(a, b model.PerformanceStat) bool {
	if a.BayesianScore != b.BayesianScore {
		return a.BayesianScore > b.BayesianScore
	}
	if a.ConfidenceLevel != b.ConfidenceLevel {
		return a.ConfidenceLevel > b.ConfidenceLevel
	}
	if a.SampleSize != b.SampleSize {
		return a.SampleSize > b.SampleSize
	}
	return a.Key.HospitalID < b.Key.HospitalID
}

// TierFor labels a row for display. Tiers never affect order.
func TierFor(score float64, sampleSize int) model.Tier {
	switch {
	case score >= 0.7 && sampleSize >= 10:
		return model.TierStronglyRecommended
	case score >= 0.5 && sampleSize >= 5:
		return model.TierRecommended
	case score >= 0.3 || sampleSize >= 3:
		return model.TierConsiderable
	default:
		return model.TierInsufficientData
	}
}

// GradeFor maps a headline score to the hospital card grade.
func GradeFor(score float64) model.Grade {
	switch {
	case score >= 0.7:
		return model.GradeExcellent
	case score >= 0.5:
		return model.GradeGood
	case score >= 0.3:
		return model.GradeAverage
	default:
		return model.GradeBelowAverage
	}
}

// Rank orders rows, keeps the best row per hospital and assigns 1-based ranks
// and tiers. The input is not modified.
func Rank(stats []model.PerformanceStat) []model.RankedStat {
	sorted := make([]model.PerformanceStat, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool { return Better(sorted[i], sorted[j]) })

	out := make([]model.RankedStat, 0, len(sorted))
	seen := make(map[int64]struct{}, len(sorted))
	for _, st := range sorted {
		if _, dup := seen[st.Key.HospitalID]; dup {
			continue
		}
		seen[st.Key.HospitalID] = struct{}{}
		out = append(out, model.RankedStat{
			PerformanceStat: st,
			Rank:            len(out) + 1,
			Tier:            TierFor(st.BayesianScore, st.SampleSize),
		})
	}
	return out
}
