package ledger

import (
	"database/sql"
	"testing"
	"time"

	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/linker"
)

func day(s string) time.Time {
	t, _ := time.Parse(domain.DateLayout, s)
	return t
}

func paid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func TestBuild(t *testing.T) {
	adms := []domain.Admission{
		{AdmissionID: "A1", MemberID: "M1", HospitalID: "H1", ConditionGroup: domain.ConditionCHF,
			AdmitDate: day("2024-01-01"), DischargeDate: day("2024-01-05"), PreventableProxy: 1, PaidAmount: paid(10000)},
		{AdmissionID: "A2", MemberID: "M1", HospitalID: "H1", ConditionGroup: domain.ConditionCHF,
			AdmitDate: day("2024-01-20"), DischargeDate: day("2024-01-22"), PaidAmount: paid(8000)},
		{AdmissionID: "A3", MemberID: "M1", HospitalID: "H2", ConditionGroup: domain.ConditionCOPD,
			AdmitDate: day("2024-02-10"), DischargeDate: day("2024-02-11")},
		{AdmissionID: "B1", MemberID: "M2", ConditionGroup: domain.ConditionHTN,
			AdmitDate: day("2024-01-01"), DischargeDate: day("2024-01-02"), PaidAmount: paid(500)},
		{AdmissionID: "B2", MemberID: "M2", ConditionGroup: domain.ConditionHTN,
			AdmitDate: day("2024-06-01"), DischargeDate: day("2024-06-02"), PaidAmount: paid(500)},
	}

	enriched, err := linker.Link(adms)
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	res := Build(enriched)
	if res.Flagged != 2 || res.Dropped != 0 {
		t.Fatalf("expected 2 flagged and 0 dropped, got %d/%d", res.Flagged, res.Dropped)
	}
	if len(res.Events) != res.Flagged {
		t.Fatalf("expected ledger cardinality %d, got %d", res.Flagged, len(res.Events))
	}

	ev := res.Events[0]
	if ev.IndexAdmissionID != "A1" || ev.NextAdmissionID != "A2" || ev.DaysToNextAdmit != 15 {
		t.Errorf("unexpected first event %+v", ev)
	}
	if !ev.TotalPaid.Valid || ev.TotalPaid.Float64 != 18000 {
		t.Errorf("expected total paid 18000, got %+v", ev.TotalPaid)
	}
	if !ev.IsPreventable() {
		t.Error("expected first event to be preventable")
	}
	if !ev.ReadmitAdmitDate.Equal(day("2024-01-20")) || ev.ReadmitConditionGroup != domain.ConditionCHF {
		t.Errorf("unexpected readmission side %+v", ev)
	}

	second := res.Events[1]
	if second.IndexAdmissionID != "A2" || second.ReadmitPaidAmount.Valid || second.TotalPaid.Valid {
		t.Errorf("expected missing readmission paid to propagate, got %+v", second)
	}
	if second.IsPreventable() {
		t.Error("expected second event not to be preventable")
	}
}

func TestBuildDropsUnresolvedPartners(t *testing.T) {
	flagged := func(id, next string) domain.EnrichedAdmission {
		return domain.EnrichedAdmission{
			Admission:        domain.Admission{AdmissionID: id, MemberID: "M1"},
			NextAdmissionID:  sql.NullString{String: next, Valid: true},
			DaysToNextAdmit:  sql.NullInt64{Int64: 3, Valid: true},
			Is30dReadmission: true,
		}
	}

	res := Build([]domain.EnrichedAdmission{
		flagged("A1", "missing"),
		flagged("A2", "A2"),
		flagged("A3", "A1"),
	})

	if res.Flagged != 3 {
		t.Errorf("expected 3 flagged, got %d", res.Flagged)
	}
	if res.Dropped != 2 {
		t.Errorf("expected 2 dropped, got %d", res.Dropped)
	}
	if len(res.Events) != 1 || res.Events[0].IndexAdmissionID != "A3" {
		t.Errorf("unexpected events %+v", res.Events)
	}
}

func TestBuildEmpty(t *testing.T) {
	res := Build(nil)
	if len(res.Events) != 0 || res.Flagged != 0 || res.Dropped != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}
