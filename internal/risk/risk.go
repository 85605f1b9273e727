// Package risk computes the explainable readmission risk score.
//
// The raw score is a fixed linear blend of seven clipped predictors. It is
// rescaled so the riskiest member of the population scores 100, then
// bucketed into Low (<= 33), Medium (<= 66) and High tiers.
package risk

import (
	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/numeric"
)

// Tier cut points on the rounded score.
const (
	LowUpper    = 33.0
	MediumUpper = 66.0
)

// Predictor names, in formula order.
const (
	PredictorAge              = "age"
	PredictorChronic          = "chronic_count"
	PredictorSDI              = "sdi"
	PredictorPriorAdmissions  = "prior_admissions_12m"
	PredictorEDVisits         = "ed_visits_12m"
	PredictorOutpatientVisits = "outpatient_visits_12m"
	PredictorNoFollowup       = "no_followup_rate"
)

// Predictor describes one term of the raw score.
type Predictor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Predictors returns the score terms in formula order.
func Predictors() []Predictor {
	return []Predictor{
		{Name: PredictorAge, Weight: 0.22, Min: 18, Max: 90},
		{Name: PredictorChronic, Weight: 0.22, Min: 0, Max: 6},
		{Name: PredictorSDI, Weight: 0.20, Min: 0, Max: 1},
		{Name: PredictorPriorAdmissions, Weight: 0.16, Min: 0, Max: 10},
		{Name: PredictorEDVisits, Weight: 0.10, Min: 0, Max: 20},
		{Name: PredictorOutpatientVisits, Weight: 0.05, Min: 0, Max: 60},
		{Name: PredictorNoFollowup, Weight: 0.05, Min: 0, Max: 1},
	}
}

// Inputs are the unclipped predictor values of one member.
type Inputs struct {
	Age              float64
	ChronicCount     float64
	SDI              float64
	PriorAdmissions  float64
	EDVisits         float64
	OutpatientVisits float64
	NoFollowupRate   float64
}

// InputsFor combines member demographics with utilization features.
func InputsFor(m domain.Member, f domain.UtilizationFeatures) Inputs {
	return Inputs{
		Age:              float64(m.Age),
		ChronicCount:     float64(m.ChronicCount),
		SDI:              m.SDI,
		PriorAdmissions:  float64(f.PriorAdmissions12m),
		EDVisits:         float64(f.EDVisits12m),
		OutpatientVisits: float64(f.OutpatientVisits12m),
		NoFollowupRate:   f.NoFollowupRate,
	}
}

// terms returns the weighted, clipped predictor terms in formula order.
// Each term keeps its own operation order so the sum is bit-for-bit stable.
func terms(in Inputs) [7]float64 {
	age := numeric.Clip(in.Age, 18, 90)
	chronic := numeric.Clip(in.ChronicCount, 0, 6)
	sdi := numeric.Clip(in.SDI, 0, 1)
	priorAdm := numeric.Clip(in.PriorAdmissions, 0, 10)
	priorED := numeric.Clip(in.EDVisits, 0, 20)
	outpt := numeric.Clip(in.OutpatientVisits, 0, 60)
	noFollow := numeric.Clip(in.NoFollowupRate, 0, 1)

	return [7]float64{
		0.22 * (age - 18) / 72,
		0.22 * (chronic / 6),
		0.20 * sdi,
		0.16 * (priorAdm / 10),
		0.10 * (priorED / 20),
		0.05 * (outpt / 60),
		0.05 * noFollow,
	}
}

// Raw returns the unscaled risk score, in [0, 1].
func Raw(in Inputs) float64 {
	t := terms(in)
	raw := t[0]
	for _, v := range t[1:] {
		raw += v
	}
	return raw
}

// PopulationStats is the population-level input of the rescaling step.
type PopulationStats struct {
	MaxRaw float64
}

// Stats computes the population maximum of the raw scores.
func Stats(raws []float64) PopulationStats {
	var s PopulationStats
	for _, r := range raws {
		if numeric.IsFinite(r) && r > s.MaxRaw {
			s.MaxRaw = r
		}
	}
	return s
}

// Score rescales raw against the population and rounds to one decimal,
// ties to even, so 33.05 scores 33.0 and stays Low.
// A non-positive maximum scores every member 0.
func Score(raw float64, stats PopulationStats) float64 {
	if stats.MaxRaw <= 0 {
		return 0
	}
	return numeric.RoundScaled(numeric.SafeDiv(raw, stats.MaxRaw)*100, 1)
}

// TierFor buckets a rounded score.
func TierFor(score float64) domain.RiskTier {
	switch {
	case score <= LowUpper:
		return domain.TierLow
	case score <= MediumUpper:
		return domain.TierMedium
	default:
		return domain.TierHigh
	}
}
