package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/opensource-health/readmit/internal/domain"
)

type enrichedRow struct {
	AdmissionID         string   `parquet:"admission_id"`
	MemberID            string   `parquet:"member_id"`
	HospitalID          string   `parquet:"hospital_id"`
	AttendingProviderID string   `parquet:"attending_provider_id"`
	AdmitDate           string   `parquet:"admit_date"`
	DischargeDate       string   `parquet:"discharge_date"`
	LengthOfStay        int32    `parquet:"length_of_stay"`
	ConditionGroup      string   `parquet:"primary_condition_group"`
	PrimaryICD10        string   `parquet:"primary_icd10"`
	DRG                 string   `parquet:"drg"`
	PreventableProxy    int32    `parquet:"preventable_proxy"`
	FollowupWithin7d    int32    `parquet:"followup_within_7d"`
	PaidAmount          *float64 `parquet:"inpatient_paid_amount,optional"`
	NextAdmitDate       *string  `parquet:"next_admit_date,optional"`
	NextAdmissionID     *string  `parquet:"next_admission_id,optional"`
	DaysToNextAdmit     *int32   `parquet:"days_to_next_admit,optional"`
	Is30dReadmission    int32    `parquet:"is_30d_readmission"`
}

type eventRow struct {
	MemberID                string   `parquet:"member_id"`
	IndexAdmissionID        string   `parquet:"index_admission_id"`
	IndexDischargeDate      string   `parquet:"index_discharge_date"`
	NextAdmissionID         string   `parquet:"next_admission_id"`
	NextAdmitDate           string   `parquet:"next_admit_date"`
	DaysToNextAdmit         int32    `parquet:"days_to_next_admit"`
	IndexConditionGroup     string   `parquet:"index_condition_group"`
	IndexHospitalID         string   `parquet:"index_hospital_id"`
	IndexPaidAmount         *float64 `parquet:"index_inpatient_paid_amount,optional"`
	IndexPreventableProxy   int32    `parquet:"index_preventable_proxy"`
	IndexFollowupWithin7d   int32    `parquet:"index_followup_within_7d"`
	ReadmitAdmitDate        string   `parquet:"readmit_admit_date"`
	ReadmitConditionGroup   string   `parquet:"readmit_condition_group"`
	ReadmitPreventableProxy int32    `parquet:"readmit_preventable_proxy"`
	ReadmitPaidAmount       *float64 `parquet:"readmit_inpatient_paid_amount,optional"`
	TotalPaid               *float64 `parquet:"readmission_event_total_paid,optional"`
}

type diagnosisRow struct {
	ConditionGroup     string  `parquet:"primary_condition_group"`
	Admissions         int64   `parquet:"admissions"`
	Readmissions30d    int64   `parquet:"readmissions_30d"`
	AvgInpatientPaid   float64 `parquet:"avg_inpatient_paid"`
	ReadmissionRate30d float64 `parquet:"readmission_rate_30d"`
	PreventableEvents  int64   `parquet:"preventable_readmission_events"`
	TotalEvents        int64   `parquet:"total_readmission_events"`
	AvoidablePaid      float64 `parquet:"avoidable_paid"`
	PreventableShare   float64 `parquet:"preventable_share_of_readmissions"`
}

type hospitalRow struct {
	HospitalID         string  `parquet:"hospital_id"`
	Admissions         int64   `parquet:"admissions"`
	Readmissions30d    int64   `parquet:"readmissions_30d"`
	AvgPaid            float64 `parquet:"avg_paid"`
	ReadmissionRate30d float64 `parquet:"readmission_rate_30d"`
}

type kpiRow struct {
	AsOfDate                   string  `parquet:"as_of_date"`
	TotalAdmissions            int64   `parquet:"total_admissions"`
	Readmissions30d            int64   `parquet:"readmissions_30d"`
	ReadmissionRate30d         float64 `parquet:"readmission_rate_30d"`
	TotalInpatientPaid         float64 `parquet:"total_inpatient_paid"`
	PreventableReadmissionPaid float64 `parquet:"preventable_readmission_paid"`
	AvgReadmissionPaid         float64 `parquet:"avg_readmission_paid"`
	HighRiskMembers            int64   `parquet:"high_risk_members"`
}

type riskRow struct {
	MemberID            string  `parquet:"member_id"`
	Age                 int32   `parquet:"age"`
	Sex                 string  `parquet:"sex"`
	State               string  `parquet:"state"`
	PlanType            string  `parquet:"plan_type"`
	SDI                 float64 `parquet:"sdi"`
	ChronicCount        int32   `parquet:"chronic_count"`
	PriorAdmissions12m  int32   `parquet:"prior_admissions_12m"`
	EDVisits12m         int32   `parquet:"ed_visits_12m"`
	OutpatientVisits12m int32   `parquet:"outpatient_visits_12m"`
	NoFollowupRate      float64 `parquet:"no_followup_rate"`
	Score               float64 `parquet:"readmission_risk_score"`
	Tier                string  `parquet:"risk_tier"`
}

type interventionRow struct {
	Intervention          string  `parquet:"intervention"`
	ExpectedReductionPct  float64 `parquet:"expected_readmission_reduction_pct"`
	AvoidablePaidBaseline float64 `parquet:"avoidable_paid_baseline"`
	EstimatedSavings      float64 `parquet:"estimated_savings"`
	EstimatedProgramCost  float64 `parquet:"estimated_program_cost"`
	EstimatedNetSavings   float64 `parquet:"estimated_net_savings"`
	ROI                   float64 `parquet:"roi"`
}

func nullFloat(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

// WriteParquet writes one Snappy-compressed Parquet file per table, with the
// same tables and columns as WriteCSV.
func WriteParquet(dir string, t *domain.Tables, includeAudit bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create %s: %w", dir, err)
	}

	var writers []func() (string, error)
	if includeAudit {
		writers = append(writers,
			func() (string, error) {
				return writeParquetFile(dir, TableAdmissionsEnriched, enrichedRows(t.Enriched))
			},
			func() (string, error) {
				return writeParquetFile(dir, TableReadmissionEvents, eventRows(t.Events))
			},
		)
	}
	writers = append(writers,
		func() (string, error) {
			return writeParquetFile(dir, TableDiagnosisSummary, diagnosisRows(t.Diagnosis))
		},
		func() (string, error) {
			return writeParquetFile(dir, TableHospitalSummary, hospitalRows(t.Hospitals))
		},
		func() (string, error) {
			return writeParquetFile(dir, TableKPISummary, []kpiRow{kpiParquetRow(t.KPI)})
		},
		func() (string, error) {
			return writeParquetFile(dir, TablePatientRiskScores, riskRows(t.Risk))
		},
		func() (string, error) {
			return writeParquetFile(dir, TableInterventionROI, interventionRows(t.Interventions))
		},
	)

	paths := make([]string, 0, len(writers))
	for _, write := range writers {
		path, err := write()
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeParquetFile[T any](dir, name string, rows []T) (string, error) {
	path := filepath.Join(dir, name+".parquet")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create %s: %w", path, err)
	}

	writer := parquet.NewGenericWriter[T](file,
		parquet.Compression(&parquet.Snappy),
		parquet.CreatedBy("readmit", "1.0", ""),
	)
	if _, err := writer.Write(rows); err != nil {
		file.Close()
		return "", fmt.Errorf("export: write %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return "", fmt.Errorf("export: close %s writer: %w", name, err)
	}
	return path, file.Close()
}

func enrichedRows(rows []domain.EnrichedAdmission) []enrichedRow {
	out := make([]enrichedRow, len(rows))
	for i, r := range rows {
		row := enrichedRow{
			AdmissionID:         r.AdmissionID,
			MemberID:            r.MemberID,
			HospitalID:          r.HospitalID,
			AttendingProviderID: r.AttendingProviderID,
			AdmitDate:           formatDate(r.AdmitDate),
			DischargeDate:       formatDate(r.DischargeDate),
			LengthOfStay:        int32(r.LengthOfStay),
			ConditionGroup:      r.ConditionGroup,
			PrimaryICD10:        r.PrimaryICD10,
			DRG:                 r.DRG,
			PreventableProxy:    int32(r.PreventableProxy),
			FollowupWithin7d:    int32(r.FollowupWithin7d),
			PaidAmount:          nullFloat(r.PaidAmount.Float64, r.PaidAmount.Valid),
		}
		if r.Is30dReadmission {
			row.Is30dReadmission = 1
		}
		if r.NextAdmitDate.Valid {
			d := formatDate(r.NextAdmitDate.Time)
			row.NextAdmitDate = &d
		}
		if r.NextAdmissionID.Valid {
			id := r.NextAdmissionID.String
			row.NextAdmissionID = &id
		}
		if r.DaysToNextAdmit.Valid {
			days := int32(r.DaysToNextAdmit.Int64)
			row.DaysToNextAdmit = &days
		}
		out[i] = row
	}
	return out
}

func eventRows(rows []domain.ReadmissionEvent) []eventRow {
	out := make([]eventRow, len(rows))
	for i, e := range rows {
		out[i] = eventRow{
			MemberID:                e.MemberID,
			IndexAdmissionID:        e.IndexAdmissionID,
			IndexDischargeDate:      formatDate(e.IndexDischargeDate),
			NextAdmissionID:         e.NextAdmissionID,
			NextAdmitDate:           formatDate(e.NextAdmitDate),
			DaysToNextAdmit:         int32(e.DaysToNextAdmit),
			IndexConditionGroup:     e.IndexConditionGroup,
			IndexHospitalID:         e.IndexHospitalID,
			IndexPaidAmount:         nullFloat(e.IndexPaidAmount.Float64, e.IndexPaidAmount.Valid),
			IndexPreventableProxy:   int32(e.IndexPreventableProxy),
			IndexFollowupWithin7d:   int32(e.IndexFollowupWithin7d),
			ReadmitAdmitDate:        formatDate(e.ReadmitAdmitDate),
			ReadmitConditionGroup:   e.ReadmitConditionGroup,
			ReadmitPreventableProxy: int32(e.ReadmitPreventableProxy),
			ReadmitPaidAmount:       nullFloat(e.ReadmitPaidAmount.Float64, e.ReadmitPaidAmount.Valid),
			TotalPaid:               nullFloat(e.TotalPaid.Float64, e.TotalPaid.Valid),
		}
	}
	return out
}

func diagnosisRows(rows []domain.DiagnosisSummary) []diagnosisRow {
	out := make([]diagnosisRow, len(rows))
	for i, d := range rows {
		out[i] = diagnosisRow{
			ConditionGroup:     d.ConditionGroup,
			Admissions:         int64(d.Admissions),
			Readmissions30d:    int64(d.Readmissions30d),
			AvgInpatientPaid:   d.AvgInpatientPaid,
			ReadmissionRate30d: d.ReadmissionRate30d,
			PreventableEvents:  int64(d.PreventableEvents),
			TotalEvents:        int64(d.TotalEvents),
			AvoidablePaid:      d.AvoidablePaid,
			PreventableShare:   d.PreventableShare,
		}
	}
	return out
}

func hospitalRows(rows []domain.HospitalSummary) []hospitalRow {
	out := make([]hospitalRow, len(rows))
	for i, h := range rows {
		out[i] = hospitalRow{
			HospitalID:         h.HospitalID,
			Admissions:         int64(h.Admissions),
			Readmissions30d:    int64(h.Readmissions30d),
			AvgPaid:            h.AvgPaid,
			ReadmissionRate30d: h.ReadmissionRate30d,
		}
	}
	return out
}

func kpiParquetRow(k domain.KPISnapshot) kpiRow {
	return kpiRow{
		AsOfDate:                   k.AsOfDate,
		TotalAdmissions:            int64(k.TotalAdmissions),
		Readmissions30d:            int64(k.Readmissions30d),
		ReadmissionRate30d:         k.ReadmissionRate30d,
		TotalInpatientPaid:         k.TotalInpatientPaid,
		PreventableReadmissionPaid: k.PreventableReadmissionPaid,
		AvgReadmissionPaid:         k.AvgReadmissionPaid,
		HighRiskMembers:            int64(k.HighRiskMembers),
	}
}

func riskRows(rows []domain.RiskRecord) []riskRow {
	out := make([]riskRow, len(rows))
	for i, r := range rows {
		out[i] = riskRow{
			MemberID:            r.MemberID,
			Age:                 int32(r.Age),
			Sex:                 r.Sex,
			State:               r.State,
			PlanType:            r.PlanType,
			SDI:                 r.SDI,
			ChronicCount:        int32(r.ChronicCount),
			PriorAdmissions12m:  int32(r.PriorAdmissions12m),
			EDVisits12m:         int32(r.EDVisits12m),
			OutpatientVisits12m: int32(r.OutpatientVisits12m),
			NoFollowupRate:      r.NoFollowupRate,
			Score:               r.Score,
			Tier:                string(r.Tier),
		}
	}
	return out
}

func interventionRows(rows []domain.InterventionResult) []interventionRow {
	out := make([]interventionRow, len(rows))
	for i, r := range rows {
		out[i] = interventionRow(r)
	}
	return out
}
