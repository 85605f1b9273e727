// Package roi simulates the savings of readmission-reduction programs
// against the preventable-readmission spend.
package roi

import (
	"sort"

	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/numeric"
)

// DefaultScenarios returns the built-in intervention programs.
func DefaultScenarios() []domain.Intervention {
	return []domain.Intervention{
		{Name: "Post-discharge follow-up (7d)", ReductionPct: 0.07, CostPerMember: 18.0},
		{Name: "Medication reconciliation", ReductionPct: 0.05, CostPerMember: 28.0},
		{Name: "Care coordination program", ReductionPct: 0.10, CostPerMember: 65.0},
	}
}

// TouchedMembers is the number of members a program is paid for.
// Programs always cost at least one member.
func TouchedMembers(highRisk int) int {
	return max(highRisk, 1)
}

// Simulate projects every scenario against baseline, the unrounded
// preventable readmission spend. Results are ordered by net savings
// descending, then by name.
func Simulate(baseline float64, highRisk int, scenarios []domain.Intervention) []domain.InterventionResult {
	touched := float64(TouchedMembers(highRisk))

	out := make([]domain.InterventionResult, 0, len(scenarios))
	for _, s := range scenarios {
		savings := baseline * s.ReductionPct
		cost := touched * s.CostPerMember
		net := savings - cost

		out = append(out, domain.InterventionResult{
			Intervention:          s.Name,
			ExpectedReductionPct:  s.ReductionPct,
			AvoidablePaidBaseline: numeric.Money(baseline),
			EstimatedSavings:      numeric.Money(savings),
			EstimatedProgramCost:  numeric.Money(cost),
			EstimatedNetSavings:   numeric.Money(net),
			ROI:                   numeric.Round(numeric.SafeDiv(net, cost), 3),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EstimatedNetSavings != out[j].EstimatedNetSavings {
			return out[i].EstimatedNetSavings > out[j].EstimatedNetSavings
		}
		return out[i].Intervention < out[j].Intervention
	})
	return out
}
