package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/export"
	"github.com/opensource-health/readmit/internal/ingest"
	"github.com/opensource-health/readmit/internal/rollup"
)

const (
	membersCSV = `member_id,age,sex,state,plan_type,sdi,chronic_count
M1,70,F,CA,MA,0.5,3
M2,30,M,TX,COMMERCIAL,0.1,0
`
	admissionsCSV = `admission_id,member_id,hospital_id,attending_provider_id,admit_date,discharge_date,length_of_stay,primary_condition_group,primary_icd10,drg,preventable_proxy,followup_within_7d,inpatient_paid_amount
A1,M1,H1,P1,2024-01-01,2024-01-05,4,CHF,I50.9,291,1,0,10000
A2,M1,H1,P1,2024-01-20,2024-01-23,3,CHF,I50.9,291,0,0,8000
`
	claimsCSV = `claim_id,member_id,claim_date,claim_type,provider_id,cpt,icd10,paid_amount
C1,M1,2024-01-10,OUTPATIENT,P9,99214,I50.9,120
C2,M2,2024-01-12,OUTPATIENT,P9,99213,I10,80
`
)

func loadFixture(t *testing.T) *domain.Dataset {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		ingest.MembersFile:    membersCSV,
		ingest.AdmissionsFile: admissionsCSV,
		ingest.ClaimsFile:     claimsCSV,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ds, err := ingest.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	return ds
}

func TestRunEndToEnd(t *testing.T) {
	res, err := Run(context.Background(), loadFixture(t), Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	t.Run("single event", func(t *testing.T) {
		if len(res.Tables.Events) != 1 {
			t.Fatalf("got %d events, want 1", len(res.Tables.Events))
		}
		ev := res.Tables.Events[0]
		if ev.IndexAdmissionID != "A1" || ev.NextAdmissionID != "A2" || ev.DaysToNextAdmit != 15 {
			t.Errorf("event = %+v", ev)
		}
		if !ev.TotalPaid.Valid || ev.TotalPaid.Float64 != 18000 {
			t.Errorf("total paid = %+v, want 18000", ev.TotalPaid)
		}
	})

	t.Run("diagnosis summary", func(t *testing.T) {
		var chf *domain.DiagnosisSummary
		for i := range res.Tables.Diagnosis {
			if res.Tables.Diagnosis[i].ConditionGroup == "CHF" {
				chf = &res.Tables.Diagnosis[i]
			}
		}
		if chf == nil {
			t.Fatal("no CHF row")
		}
		if chf.Admissions < 2 || chf.Readmissions30d < 1 || chf.PreventableEvents < 1 {
			t.Errorf("CHF row = %+v", *chf)
		}
	})

	t.Run("kpi", func(t *testing.T) {
		kpi := res.Tables.KPI
		if kpi.AsOfDate != "2024-01-20" {
			t.Errorf("as_of_date = %s", kpi.AsOfDate)
		}
		if kpi.TotalAdmissions != 2 || kpi.Readmissions30d != 1 || kpi.ReadmissionRate30d != 0.5 {
			t.Errorf("kpi = %+v", kpi)
		}
		if kpi.TotalInpatientPaid != 18000 || kpi.PreventableReadmissionPaid != 8000 {
			t.Errorf("kpi paid = %+v", kpi)
		}
	})

	t.Run("risk", func(t *testing.T) {
		if len(res.Tables.Risk) != 2 {
			t.Fatalf("got %d risk rows, want 2", len(res.Tables.Risk))
		}
		m1, m2 := res.Tables.Risk[0], res.Tables.Risk[1]
		if m1.MemberID != "M1" || m1.Score != 100 || m1.Tier != domain.TierHigh {
			t.Errorf("M1 = %+v", m1)
		}
		if m1.PriorAdmissions12m != 2 || m1.EDVisits12m != 1 || m1.OutpatientVisits12m != 1 || m1.NoFollowupRate != 1 {
			t.Errorf("M1 features = %+v", m1)
		}
		if m2.Tier != domain.TierLow || m2.EDVisits12m != 0 {
			t.Errorf("M2 = %+v", m2)
		}
	})

	t.Run("interventions", func(t *testing.T) {
		if len(res.Tables.Interventions) != 3 {
			t.Fatalf("got %d scenarios, want 3", len(res.Tables.Interventions))
		}
		for _, r := range res.Tables.Interventions {
			if r.AvoidablePaidBaseline != 8000 {
				t.Errorf("%s baseline = %v", r.Intervention, r.AvoidablePaidBaseline)
			}
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := res.Stats
		if s.Members != 2 || s.Admissions != 2 || s.Claims != 2 || s.Readmissions != 1 || s.Events != 1 {
			t.Errorf("stats = %+v", s)
		}
		if s.DroppedEvents != 0 || s.FailedPreventable != 0 || s.HighRiskMembers != 1 {
			t.Errorf("stats = %+v", s)
		}
		if s.MaxRawScore <= 0 || s.MaxRawScore != res.Population.MaxRaw {
			t.Errorf("max raw = %v", s.MaxRawScore)
		}
	})
}

func TestRunIdempotentOutput(t *testing.T) {
	ds := loadFixture(t)
	dirs := []string{t.TempDir(), t.TempDir()}
	for _, dir := range dirs {
		res, err := Run(context.Background(), ds, Options{})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if _, err := export.WriteCSV(dir, &res.Tables, true); err != nil {
			t.Fatalf("WriteCSV() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dirs[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 7 {
		t.Fatalf("got %d files, want 7", len(entries))
	}
	for _, e := range entries {
		a, _ := os.ReadFile(filepath.Join(dirs[0], e.Name()))
		b, err := os.ReadFile(filepath.Join(dirs[1], e.Name()))
		if err != nil {
			t.Fatalf("second run missing %s", e.Name())
		}
		if !bytes.Equal(a, b) {
			t.Errorf("%s differs between runs", e.Name())
		}
	}
}

func TestRunOptions(t *testing.T) {
	ds := loadFixture(t)

	t.Run("as-of override narrows the window", func(t *testing.T) {
		asOf := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
		res, err := Run(context.Background(), ds, Options{AsOf: &asOf})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Tables.KPI.AsOfDate != "2024-01-15" {
			t.Errorf("as_of_date = %s", res.Tables.KPI.AsOfDate)
		}
		if got := res.Tables.Risk[0].PriorAdmissions12m; got != 1 {
			t.Errorf("prior admissions = %d, want 1", got)
		}
	})

	t.Run("ED expression", func(t *testing.T) {
		res, err := Run(context.Background(), ds, Options{EDExpression: `cpt == "99213"`})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Tables.Risk[0].EDVisits12m != 0 || res.Tables.Risk[1].EDVisits12m != 1 {
			t.Errorf("ED visits = %d, %d", res.Tables.Risk[0].EDVisits12m, res.Tables.Risk[1].EDVisits12m)
		}
	})

	t.Run("invalid ED expression", func(t *testing.T) {
		if _, err := Run(context.Background(), ds, Options{EDExpression: `cpt +`}); err == nil {
			t.Error("Run() with a bad expression should fail")
		}
	})

	t.Run("custom scenarios", func(t *testing.T) {
		scenarios := []domain.Intervention{{Name: "Pharmacist call", ReductionPct: 0.5, CostPerMember: 100}}
		res, err := Run(context.Background(), ds, Options{Scenarios: scenarios})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(res.Tables.Interventions) != 1 || res.Tables.Interventions[0].EstimatedSavings != 4000 {
			t.Errorf("interventions = %+v", res.Tables.Interventions)
		}
	})

	t.Run("invalid scenarios", func(t *testing.T) {
		scenarios := []domain.Intervention{{Name: "", ReductionPct: 2}}
		if _, err := Run(context.Background(), ds, Options{Scenarios: scenarios}); err == nil {
			t.Error("Run() with invalid scenarios should fail")
		}
	})

	t.Run("fixed max raw", func(t *testing.T) {
		maxRaw := 10.0
		res, err := Run(context.Background(), ds, Options{MaxRaw: &maxRaw})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Tables.Risk[0].Score >= 100 || res.Stats.HighRiskMembers != 0 {
			t.Errorf("score = %v, high risk = %d", res.Tables.Risk[0].Score, res.Stats.HighRiskMembers)
		}
	})
}

func TestRunClaimsOnly(t *testing.T) {
	claimDate := func(s string) time.Time {
		d, err := domain.ParseDate(s)
		if err != nil {
			t.Fatal(err)
		}
		return d
	}
	ds := &domain.Dataset{
		Members: []domain.Member{{MemberID: "M1", Age: 70}, {MemberID: "M2", Age: 40}},
		Claims: []domain.Claim{
			{ClaimID: "C1", MemberID: "M1", ClaimDate: claimDate("2024-01-15"), ClaimType: domain.ClaimTypeOutpatient, CPT: "99214"},
			{ClaimID: "C2", MemberID: "M2", ClaimDate: claimDate("2024-02-01"), ClaimType: domain.ClaimTypeOutpatient, CPT: "99213"},
		},
	}

	res, err := Run(context.Background(), ds, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	kpi := res.Tables.KPI
	if kpi.AsOfDate != "2024-02-01" {
		t.Errorf("as of = %s, want latest claim date 2024-02-01", kpi.AsOfDate)
	}
	if kpi.TotalAdmissions != 0 || kpi.Readmissions30d != 0 || kpi.ReadmissionRate30d != 0 || kpi.TotalInpatientPaid != 0 {
		t.Errorf("expected zero-valued KPI row, got %+v", kpi)
	}
	if len(res.Tables.Risk) != 2 || len(res.Tables.Events) != 0 {
		t.Errorf("risk = %d rows, events = %d rows", len(res.Tables.Risk), len(res.Tables.Events))
	}
	for _, iv := range res.Tables.Interventions {
		if iv.EstimatedSavings != 0 {
			t.Errorf("%s: expected no savings without readmission spend, got %v", iv.Intervention, iv.EstimatedSavings)
		}
	}
}

func TestRunErrors(t *testing.T) {
	t.Run("nothing dated", func(t *testing.T) {
		ds := &domain.Dataset{Members: []domain.Member{{MemberID: "M1", Age: 40}}}
		_, err := Run(context.Background(), ds, Options{})
		if !errors.Is(err, rollup.ErrNoActivity) {
			t.Errorf("Run() error = %v, want ErrNoActivity", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, loadFixture(t), Options{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	})
}
