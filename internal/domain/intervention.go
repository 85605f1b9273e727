package domain

// Intervention defines a care program that can be simulated against the
// preventable-spend baseline.
type Intervention struct {
	Name          string  `json:"name" yaml:"name"`
	ReductionPct  float64 `json:"reductionPct" yaml:"reduction_pct"`
	CostPerMember float64 `json:"costPerMember" yaml:"cost_per_member"`
}

// InterventionResult is one row of intervention_roi.
type InterventionResult struct {
	Intervention          string  `json:"intervention"`
	ExpectedReductionPct  float64 `json:"expected_readmission_reduction_pct"`
	AvoidablePaidBaseline float64 `json:"avoidable_paid_baseline"`
	EstimatedSavings      float64 `json:"estimated_savings"`
	EstimatedProgramCost  float64 `json:"estimated_program_cost"`
	EstimatedNetSavings   float64 `json:"estimated_net_savings"`
	ROI                   float64 `json:"roi"`
}
