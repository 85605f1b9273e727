package domain

import (
	"database/sql"
	"time"
)

// ReadmissionWindowDays is the upper bound of the 30-day readmission window.
const ReadmissionWindowDays = 30

// IsReadmissionGap reports whether a discharge-to-admit gap qualifies as a
// 30-day readmission. Same-day and past-dated successors never qualify.
func IsReadmissionGap(days int) bool {
	return days >= 1 && days <= ReadmissionWindowDays
}

// EnrichedAdmission is an admission linked to the member's next admission.
type EnrichedAdmission struct {
	Admission

	NextAdmissionID  sql.NullString
	NextAdmitDate    sql.NullTime
	DaysToNextAdmit  sql.NullInt64
	Is30dReadmission bool
}

// ReadmissionEvent pairs an index admission with the readmission that followed it.
type ReadmissionEvent struct {
	MemberID                string
	IndexAdmissionID        string
	IndexDischargeDate      time.Time
	NextAdmissionID         string
	NextAdmitDate           time.Time
	DaysToNextAdmit         int
	IndexConditionGroup     string
	IndexHospitalID         string
	IndexPaidAmount         sql.NullFloat64
	IndexPreventableProxy   int
	IndexFollowupWithin7d   int
	ReadmitAdmitDate        time.Time
	ReadmitConditionGroup   string
	ReadmitPreventableProxy int
	ReadmitPaidAmount       sql.NullFloat64
	TotalPaid               sql.NullFloat64
}

// IsPreventable re-checks the preventable-readmission condition.
// Ledger construction already guarantees the gap, so for built events this
// reduces to the index admission's preventable proxy.
func (e ReadmissionEvent) IsPreventable() bool {
	return e.IndexPreventableProxy == 1 && IsReadmissionGap(e.DaysToNextAdmit)
}

// UtilizationFeatures are trailing-12-month counts for one member.
type UtilizationFeatures struct {
	MemberID            string  `json:"member_id"`
	PriorAdmissions12m  int     `json:"prior_admissions_12m"`
	EDVisits12m         int     `json:"ed_visits_12m"`
	OutpatientVisits12m int     `json:"outpatient_visits_12m"`
	NoFollowupRate      float64 `json:"no_followup_rate"`
}

// RiskTier is the coarse bucket derived from a risk score.
type RiskTier string

const (
	TierLow    RiskTier = "Low"
	TierMedium RiskTier = "Medium"
	TierHigh   RiskTier = "High"
)

// RiskRecord is one row of patient_risk_scores.
type RiskRecord struct {
	Member
	PriorAdmissions12m  int      `json:"prior_admissions_12m"`
	EDVisits12m         int      `json:"ed_visits_12m"`
	OutpatientVisits12m int      `json:"outpatient_visits_12m"`
	NoFollowupRate      float64  `json:"no_followup_rate"`
	Score               float64  `json:"readmission_risk_score"`
	Tier                RiskTier `json:"risk_tier"`
}

// DiagnosisSummary is one row of diagnosis_summary.
type DiagnosisSummary struct {
	ConditionGroup     string  `json:"primary_condition_group"`
	Admissions         int     `json:"admissions"`
	Readmissions30d    int     `json:"readmissions_30d"`
	AvgInpatientPaid   float64 `json:"avg_inpatient_paid"`
	ReadmissionRate30d float64 `json:"readmission_rate_30d"`
	PreventableEvents  int     `json:"preventable_readmission_events"`
	TotalEvents        int     `json:"total_readmission_events"`
	AvoidablePaid      float64 `json:"avoidable_paid"`
	PreventableShare   float64 `json:"preventable_share_of_readmissions"`
}

// HospitalSummary is one row of hospital_summary.
type HospitalSummary struct {
	HospitalID         string  `json:"hospital_id"`
	Admissions         int     `json:"admissions"`
	Readmissions30d    int     `json:"readmissions_30d"`
	AvgPaid            float64 `json:"avg_paid"`
	ReadmissionRate30d float64 `json:"readmission_rate_30d"`
}

// KPISnapshot is the single row of kpi_summary.
type KPISnapshot struct {
	AsOfDate                   string  `json:"as_of_date"`
	TotalAdmissions            int     `json:"total_admissions"`
	Readmissions30d            int     `json:"readmissions_30d"`
	ReadmissionRate30d         float64 `json:"readmission_rate_30d"`
	TotalInpatientPaid         float64 `json:"total_inpatient_paid"`
	PreventableReadmissionPaid float64 `json:"preventable_readmission_paid"`
	AvgReadmissionPaid         float64 `json:"avg_readmission_paid"`
	HighRiskMembers            int     `json:"high_risk_members"`
}

// Tables holds every processed table produced by one pipeline run.
type Tables struct {
	Enriched      []EnrichedAdmission
	Events        []ReadmissionEvent
	Diagnosis     []DiagnosisSummary
	Hospitals     []HospitalSummary
	Risk          []RiskRecord
	KPI           KPISnapshot
	Interventions []InterventionResult
}
