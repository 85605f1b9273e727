// Package export writes the processed analytics tables to disk.
package export

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/opensource-health/readmit/internal/domain"
)

// Processed table names. File names add the format extension.
const (
	TableAdmissionsEnriched = "admissions_enriched"
	TableReadmissionEvents  = "readmissions_events"
	TableDiagnosisSummary   = "diagnosis_summary"
	TableHospitalSummary    = "hospital_summary"
	TableKPISummary         = "kpi_summary"
	TablePatientRiskScores  = "patient_risk_scores"
	TableInterventionROI    = "intervention_roi"
)

// Formats understood by Write.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Table is a processed table rendered as strings.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Render converts tables to their string form in output order. The two
// audit tables (enriched admissions and events) are left out unless
// includeAudit is set.
func Render(t *domain.Tables, includeAudit bool) []Table {
	var out []Table
	if includeAudit {
		out = append(out, enrichedTable(t.Enriched), eventsTable(t.Events))
	}
	return append(out,
		diagnosisTable(t.Diagnosis),
		hospitalTable(t.Hospitals),
		kpiTable(t.KPI),
		riskTable(t.Risk),
		interventionTable(t.Interventions),
	)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatNullFloat(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float64)
}

func formatDate(t time.Time) string {
	return t.Format(domain.DateLayout)
}

func formatNullDate(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return formatDate(t.Time)
}

func formatNullInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func enrichedTable(rows []domain.EnrichedAdmission) Table {
	t := Table{
		Name: TableAdmissionsEnriched,
		Header: []string{
			"admission_id", "member_id", "hospital_id", "attending_provider_id",
			"admit_date", "discharge_date", "length_of_stay", "primary_condition_group",
			"primary_icd10", "drg", "preventable_proxy", "followup_within_7d",
			"inpatient_paid_amount", "next_admit_date", "next_admission_id",
			"days_to_next_admit", "is_30d_readmission",
		},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.AdmissionID, r.MemberID, r.HospitalID, r.AttendingProviderID,
			formatDate(r.AdmitDate), formatDate(r.DischargeDate), strconv.Itoa(r.LengthOfStay), r.ConditionGroup,
			r.PrimaryICD10, r.DRG, strconv.Itoa(r.PreventableProxy), strconv.Itoa(r.FollowupWithin7d),
			formatNullFloat(r.PaidAmount), formatNullDate(r.NextAdmitDate), r.NextAdmissionID.String,
			formatNullInt(r.DaysToNextAdmit), formatBool(r.Is30dReadmission),
		})
	}
	return t
}

func eventsTable(rows []domain.ReadmissionEvent) Table {
	t := Table{
		Name: TableReadmissionEvents,
		Header: []string{
			"member_id", "index_admission_id", "index_discharge_date", "next_admission_id",
			"next_admit_date", "days_to_next_admit", "index_condition_group", "index_hospital_id",
			"index_inpatient_paid_amount", "index_preventable_proxy", "index_followup_within_7d",
			"readmit_admit_date", "readmit_condition_group", "readmit_preventable_proxy",
			"readmit_inpatient_paid_amount", "readmission_event_total_paid",
		},
	}
	for _, e := range rows {
		t.Rows = append(t.Rows, []string{
			e.MemberID, e.IndexAdmissionID, formatDate(e.IndexDischargeDate), e.NextAdmissionID,
			formatDate(e.NextAdmitDate), strconv.Itoa(e.DaysToNextAdmit), e.IndexConditionGroup, e.IndexHospitalID,
			formatNullFloat(e.IndexPaidAmount), strconv.Itoa(e.IndexPreventableProxy), strconv.Itoa(e.IndexFollowupWithin7d),
			formatDate(e.ReadmitAdmitDate), e.ReadmitConditionGroup, strconv.Itoa(e.ReadmitPreventableProxy),
			formatNullFloat(e.ReadmitPaidAmount), formatNullFloat(e.TotalPaid),
		})
	}
	return t
}

func diagnosisTable(rows []domain.DiagnosisSummary) Table {
	t := Table{
		Name: TableDiagnosisSummary,
		Header: []string{
			"primary_condition_group", "admissions", "readmissions_30d", "avg_inpatient_paid",
			"readmission_rate_30d", "preventable_readmission_events", "total_readmission_events",
			"avoidable_paid", "preventable_share_of_readmissions",
		},
	}
	for _, d := range rows {
		t.Rows = append(t.Rows, []string{
			d.ConditionGroup, strconv.Itoa(d.Admissions), strconv.Itoa(d.Readmissions30d), formatFloat(d.AvgInpatientPaid),
			formatFloat(d.ReadmissionRate30d), strconv.Itoa(d.PreventableEvents), strconv.Itoa(d.TotalEvents),
			formatFloat(d.AvoidablePaid), formatFloat(d.PreventableShare),
		})
	}
	return t
}

func hospitalTable(rows []domain.HospitalSummary) Table {
	t := Table{
		Name:   TableHospitalSummary,
		Header: []string{"hospital_id", "admissions", "readmissions_30d", "avg_paid", "readmission_rate_30d"},
	}
	for _, h := range rows {
		t.Rows = append(t.Rows, []string{
			h.HospitalID, strconv.Itoa(h.Admissions), strconv.Itoa(h.Readmissions30d),
			formatFloat(h.AvgPaid), formatFloat(h.ReadmissionRate30d),
		})
	}
	return t
}

func kpiTable(k domain.KPISnapshot) Table {
	return Table{
		Name: TableKPISummary,
		Header: []string{
			"as_of_date", "total_admissions", "readmissions_30d", "readmission_rate_30d",
			"total_inpatient_paid", "preventable_readmission_paid", "avg_readmission_paid",
			"high_risk_members",
		},
		Rows: [][]string{{
			k.AsOfDate, strconv.Itoa(k.TotalAdmissions), strconv.Itoa(k.Readmissions30d), formatFloat(k.ReadmissionRate30d),
			formatFloat(k.TotalInpatientPaid), formatFloat(k.PreventableReadmissionPaid), formatFloat(k.AvgReadmissionPaid),
			strconv.Itoa(k.HighRiskMembers),
		}},
	}
}

func riskTable(rows []domain.RiskRecord) Table {
	t := Table{
		Name: TablePatientRiskScores,
		Header: []string{
			"member_id", "age", "sex", "state", "plan_type", "sdi", "chronic_count",
			"prior_admissions_12m", "ed_visits_12m", "outpatient_visits_12m", "no_followup_rate",
			"readmission_risk_score", "risk_tier",
		},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.MemberID, strconv.Itoa(r.Age), r.Sex, r.State, r.PlanType, formatFloat(r.SDI), strconv.Itoa(r.ChronicCount),
			strconv.Itoa(r.PriorAdmissions12m), strconv.Itoa(r.EDVisits12m), strconv.Itoa(r.OutpatientVisits12m), formatFloat(r.NoFollowupRate),
			formatFloat(r.Score), string(r.Tier),
		})
	}
	return t
}

func interventionTable(rows []domain.InterventionResult) Table {
	t := Table{
		Name: TableInterventionROI,
		Header: []string{
			"intervention", "expected_readmission_reduction_pct", "avoidable_paid_baseline",
			"estimated_savings", "estimated_program_cost", "estimated_net_savings", "roi",
		},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Intervention, formatFloat(r.ExpectedReductionPct), formatFloat(r.AvoidablePaidBaseline),
			formatFloat(r.EstimatedSavings), formatFloat(r.EstimatedProgramCost), formatFloat(r.EstimatedNetSavings),
			formatFloat(r.ROI),
		})
	}
	return t
}
