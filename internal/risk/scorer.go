package risk

import (
	"fmt"
	"sort"

	"github.com/opensource-health/readmit/internal/domain"
)

// Scorer scores a member population.
type Scorer struct {
	// MaxRaw, when set, replaces the population maximum.
	MaxRaw *float64
}

// Result is the scored population with the statistics used to scale it.
type Result struct {
	Records []domain.RiskRecord
	Stats   PopulationStats
}

// ScoreMembers scores each member against its features. features must hold
// one row per member, in members order.
func (s Scorer) ScoreMembers(members []domain.Member, features []domain.UtilizationFeatures) (Result, error) {
	if len(members) != len(features) {
		return Result{}, fmt.Errorf("risk: %d members but %d feature rows", len(members), len(features))
	}

	raws := make([]float64, len(members))
	for i, m := range members {
		if features[i].MemberID != m.MemberID {
			return Result{}, fmt.Errorf("risk: feature row %d is for %s, want %s", i, features[i].MemberID, m.MemberID)
		}
		raws[i] = Raw(InputsFor(m, features[i]))
	}

	stats := Stats(raws)
	if s.MaxRaw != nil {
		stats.MaxRaw = *s.MaxRaw
	}

	records := make([]domain.RiskRecord, len(members))
	for i, m := range members {
		f := features[i]
		score := Score(raws[i], stats)
		records[i] = domain.RiskRecord{
			Member:              m,
			PriorAdmissions12m:  f.PriorAdmissions12m,
			EDVisits12m:         f.EDVisits12m,
			OutpatientVisits12m: f.OutpatientVisits12m,
			NoFollowupRate:      f.NoFollowupRate,
			Score:               score,
			Tier:                TierFor(score),
		}
	}

	return Result{Records: records, Stats: stats}, nil
}

// CountTier returns the number of records in tier.
func CountTier(records []domain.RiskRecord, tier domain.RiskTier) int {
	n := 0
	for _, r := range records {
		if r.Tier == tier {
			n++
		}
	}
	return n
}

// Contribution is one predictor's share of a member's raw score.
type Contribution struct {
	Predictor    string  `json:"predictor"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Share        float64 `json:"share"` // contribution / raw
}

// Explanation breaks a member's score into predictor contributions.
type Explanation struct {
	MemberID      string          `json:"memberId"`
	Raw           float64         `json:"raw"`
	MaxRaw        float64         `json:"maxRaw"`
	Score         float64         `json:"score"`
	Tier          domain.RiskTier `json:"tier"`
	Contributions []Contribution  `json:"contributions"`

	// TopContributors lists predictor names by descending contribution.
	TopContributors []string `json:"topContributors"`
}

// Explain recomputes a stored risk record against stats.
func Explain(rec domain.RiskRecord, stats PopulationStats) Explanation {
	in := Inputs{
		Age:              float64(rec.Age),
		ChronicCount:     float64(rec.ChronicCount),
		SDI:              rec.SDI,
		PriorAdmissions:  float64(rec.PriorAdmissions12m),
		EDVisits:         float64(rec.EDVisits12m),
		OutpatientVisits: float64(rec.OutpatientVisits12m),
		NoFollowupRate:   rec.NoFollowupRate,
	}
	values := [7]float64{in.Age, in.ChronicCount, in.SDI, in.PriorAdmissions, in.EDVisits, in.OutpatientVisits, in.NoFollowupRate}

	raw := Raw(in)
	t := terms(in)
	preds := Predictors()

	exp := Explanation{
		MemberID:      rec.MemberID,
		Raw:           raw,
		MaxRaw:        stats.MaxRaw,
		Score:         Score(raw, stats),
		Contributions: make([]Contribution, len(preds)),
	}
	exp.Tier = TierFor(exp.Score)

	for i, p := range preds {
		share := 0.0
		if raw > 0 {
			share = t[i] / raw
		}
		exp.Contributions[i] = Contribution{
			Predictor:    p.Name,
			Value:        values[i],
			Weight:       p.Weight,
			Contribution: t[i],
			Share:        share,
		}
	}

	ranked := make([]Contribution, len(exp.Contributions))
	copy(ranked, exp.Contributions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Contribution > ranked[j].Contribution
	})
	for _, c := range ranked {
		if c.Contribution > 0 {
			exp.TopContributors = append(exp.TopContributors, c.Predictor)
		}
	}
	return exp
}
