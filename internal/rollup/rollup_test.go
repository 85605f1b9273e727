package rollup

import (
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/opensource-health/readmit/internal/domain"
)

func day(s string) time.Time {
	t, _ := time.Parse(domain.DateLayout, s)
	return t
}

func paid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func row(id, hospital, group, admit string, amount sql.NullFloat64, flagged bool) domain.EnrichedAdmission {
	return domain.EnrichedAdmission{
		Admission: domain.Admission{
			AdmissionID:    id,
			HospitalID:     hospital,
			ConditionGroup: group,
			AdmitDate:      day(admit),
			PaidAmount:     amount,
		},
		Is30dReadmission: flagged,
	}
}

func event(group string, gap, proxy int, readmitPaid sql.NullFloat64) domain.ReadmissionEvent {
	return domain.ReadmissionEvent{
		IndexAdmissionID:      group + "-idx",
		IndexConditionGroup:   group,
		DaysToNextAdmit:       gap,
		IndexPreventableProxy: proxy,
		ReadmitPaidAmount:     readmitPaid,
	}
}

func fixture() ([]domain.EnrichedAdmission, []domain.ReadmissionEvent) {
	enriched := []domain.EnrichedAdmission{
		row("A1", "H1", domain.ConditionCHF, "2024-01-01", paid(10000), true),
		row("A2", "H1", domain.ConditionCHF, "2024-01-20", paid(8000), false),
		row("A3", "H2", domain.ConditionCOPD, "2024-02-01", sql.NullFloat64{}, true),
		row("A4", "H2", domain.ConditionCOPD, "2024-02-15", paid(6000), false),
		row("A5", "H3", domain.ConditionHTN, "2024-03-31", paid(1000), false),
	}
	events := []domain.ReadmissionEvent{
		event(domain.ConditionCHF, 15, 1, paid(8000)),
		event(domain.ConditionCOPD, 14, 0, paid(6000)),
	}
	return enriched, events
}

func TestDiagnosis(t *testing.T) {
	enriched, events := fixture()

	got := Diagnosis(enriched, events, nil)
	if len(got) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(got))
	}

	order := []string{domain.ConditionCHF, domain.ConditionCOPD, domain.ConditionHTN}
	for i, code := range order {
		if got[i].ConditionGroup != code {
			t.Errorf("row %d: expected %s, got %s", i, code, got[i].ConditionGroup)
		}
	}

	chf := got[0]
	if chf.Admissions != 2 || chf.Readmissions30d != 1 || chf.ReadmissionRate30d != 0.5 {
		t.Errorf("unexpected CHF counts %+v", chf)
	}
	if chf.AvgInpatientPaid != 9000 || chf.AvoidablePaid != 8000 || chf.PreventableEvents != 1 || chf.PreventableShare != 1 {
		t.Errorf("unexpected CHF amounts %+v", chf)
	}

	copd := got[1]
	if copd.AvgInpatientPaid != 6000 {
		t.Errorf("expected missing paid to be skipped, got avg %v", copd.AvgInpatientPaid)
	}
	if copd.PreventableEvents != 0 || copd.TotalEvents != 1 || copd.PreventableShare != 0 || copd.AvoidablePaid != 6000 {
		t.Errorf("unexpected COPD events %+v", copd)
	}

	htn := got[2]
	if htn.TotalEvents != 0 || htn.PreventableShare != 0 || htn.AvoidablePaid != 0 {
		t.Errorf("expected zero-filled HTN event columns, got %+v", htn)
	}
}

func TestDiagnosisDimension(t *testing.T) {
	enriched, events := fixture()

	got := Diagnosis(enriched, events, domain.ConditionCodes())
	if len(got) != len(domain.ConditionCodes()) {
		t.Fatalf("expected a row per condition group, got %d", len(got))
	}

	for _, r := range got {
		for _, v := range []float64{r.AvgInpatientPaid, r.ReadmissionRate30d, r.AvoidablePaid, r.PreventableShare} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("%s: non-finite value in %+v", r.ConditionGroup, r)
			}
		}
	}

	// Groups without readmissions sort alphabetically after the active ones.
	tail := got[2:]
	want := []string{domain.ConditionCKD, domain.ConditionDiabetes, domain.ConditionHTN, domain.ConditionPneumonia, domain.ConditionSepsis}
	for i, code := range want {
		if tail[i].ConditionGroup != code {
			t.Errorf("row %d: expected %s, got %s", i+2, code, tail[i].ConditionGroup)
		}
		if code != domain.ConditionHTN && (tail[i].Admissions != 0 || tail[i].ReadmissionRate30d != 0) {
			t.Errorf("expected zero row for %s, got %+v", code, tail[i])
		}
	}
}

func TestDiagnosisEmpty(t *testing.T) {
	if got := Diagnosis(nil, nil, nil); len(got) != 0 {
		t.Errorf("expected no rows, got %d", len(got))
	}
}

func TestHospital(t *testing.T) {
	enriched, _ := fixture()
	enriched = append(enriched, row("A6", "H0", domain.ConditionHTN, "2024-03-01", paid(500), false))

	got := Hospital(enriched)
	want := []struct {
		id   string
		rate float64
	}{
		{"H1", 0.5},
		{"H2", 0.5},
		{"H0", 0},
		{"H3", 0},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d hospitals, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].HospitalID != w.id || got[i].ReadmissionRate30d != w.rate {
			t.Errorf("row %d: expected %s/%v, got %s/%v", i, w.id, w.rate, got[i].HospitalID, got[i].ReadmissionRate30d)
		}
	}
	if got[1].AvgPaid != 6000 {
		t.Errorf("expected H2 average 6000, got %v", got[1].AvgPaid)
	}
}

func TestKPIs(t *testing.T) {
	enriched, events := fixture()
	records := []domain.RiskRecord{{Tier: domain.TierHigh}, {Tier: domain.TierLow}, {Tier: domain.TierHigh}}

	asOf, err := DefaultAsOf(enriched, nil)
	if err != nil {
		t.Fatalf("DefaultAsOf failed: %v", err)
	}

	kpi := KPIs(enriched, events, records, asOf)
	want := domain.KPISnapshot{
		AsOfDate:                   "2024-03-31",
		TotalAdmissions:            5,
		Readmissions30d:            2,
		ReadmissionRate30d:         0.4,
		TotalInpatientPaid:         25000,
		PreventableReadmissionPaid: 8000,
		AvgReadmissionPaid:         7000,
		HighRiskMembers:            2,
	}
	if kpi != want {
		t.Errorf("unexpected KPI snapshot\n got: %+v\nwant: %+v", kpi, want)
	}
}

func TestKPIRounding(t *testing.T) {
	enriched := []domain.EnrichedAdmission{
		row("A1", "H1", domain.ConditionCHF, "2024-01-01", paid(100.005), true),
		row("A2", "H1", domain.ConditionCHF, "2024-01-02", paid(0.001), false),
		row("A3", "H1", domain.ConditionCHF, "2024-01-03", sql.NullFloat64{}, false),
	}

	kpi := KPIs(enriched, nil, nil, day("2024-01-03"))
	if kpi.ReadmissionRate30d != 0.3333 {
		t.Errorf("expected rate 0.3333, got %v", kpi.ReadmissionRate30d)
	}
	if kpi.TotalInpatientPaid != 100.01 {
		t.Errorf("expected paid 100.01, got %v", kpi.TotalInpatientPaid)
	}
	if kpi.AvgReadmissionPaid != 0 || kpi.PreventableReadmissionPaid != 0 {
		t.Errorf("expected zero readmission amounts without events, got %+v", kpi)
	}
}

func TestKPIRoundingTiesUseBinaryValue(t *testing.T) {
	enriched := []domain.EnrichedAdmission{
		row("A1", "H1", domain.ConditionCHF, "2024-01-01", paid(2.675), false),
	}
	events := []domain.ReadmissionEvent{
		event(domain.ConditionCHF, 10, 0, paid(100.01)),
		event(domain.ConditionCHF, 12, 0, paid(100.00)),
	}

	kpi := KPIs(enriched, events, nil, day("2024-01-01"))
	if kpi.TotalInpatientPaid != 2.67 {
		t.Errorf("expected 2.675 to round to 2.67, got %v", kpi.TotalInpatientPaid)
	}
	if kpi.AvgReadmissionPaid != 100.0 {
		t.Errorf("expected mean 100.005 to round to 100.0, got %v", kpi.AvgReadmissionPaid)
	}
}

func TestComputeTotalsFailedChecks(t *testing.T) {
	events := []domain.ReadmissionEvent{
		event(domain.ConditionCHF, 45, 1, paid(100)),
		event(domain.ConditionCHF, 3, 1, paid(200)),
	}

	totals := ComputeTotals(nil, events, nil)
	if totals.FailedChecks != 1 {
		t.Errorf("expected 1 failed check, got %d", totals.FailedChecks)
	}
	if totals.PreventablePaid != 200 {
		t.Errorf("expected failed row to be excluded, got %v", totals.PreventablePaid)
	}
	if totals.ReadmissionRate() != 0 {
		t.Errorf("expected zero rate without admissions, got %v", totals.ReadmissionRate())
	}
}

func TestDefaultAsOf(t *testing.T) {
	claims := []domain.Claim{
		{ClaimID: "C1", ClaimDate: day("2024-05-02")},
		{ClaimID: "C2", ClaimDate: day("2024-06-30")},
		{ClaimID: "C3", ClaimDate: day("2024-04-11")},
	}
	enriched, _ := fixture()

	tests := []struct {
		name     string
		enriched []domain.EnrichedAdmission
		claims   []domain.Claim
		want     string
		wantErr  error
	}{
		{"admissions win over later claims", enriched, claims, "2024-03-31", nil},
		{"claims only", nil, claims, "2024-06-30", nil},
		{"nothing dated", nil, nil, "", ErrNoActivity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DefaultAsOf(tt.enriched, tt.claims)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DefaultAsOf() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.Format(domain.DateLayout) != tt.want {
				t.Errorf("DefaultAsOf() = %s, want %s", got.Format(domain.DateLayout), tt.want)
			}
		})
	}
}
