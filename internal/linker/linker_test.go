package linker

import (
	"errors"
	"testing"
	"time"

	"github.com/opensource-health/readmit/internal/domain"
)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func adm(id, member, admit, discharge string) domain.Admission {
	return domain.Admission{
		AdmissionID:    id,
		MemberID:       member,
		AdmitDate:      day(admit),
		DischargeDate:  day(discharge),
		ConditionGroup: domain.ConditionCHF,
	}
}

func TestLinkOrdering(t *testing.T) {
	adms := []domain.Admission{
		adm("A3", "M2", "2024-02-01", "2024-02-03"),
		adm("A2", "M1", "2024-03-01", "2024-03-04"),
		adm("A1", "M1", "2024-01-01", "2024-01-05"),
		adm("A4", "M2", "2024-01-10", "2024-01-11"),
	}

	out, err := Link(adms)
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	want := []string{"A1", "A2", "A4", "A3"}
	if len(out) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(out))
	}
	for i, id := range want {
		if out[i].AdmissionID != id {
			t.Errorf("row %d: expected %s, got %s", i, id, out[i].AdmissionID)
		}
	}

	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], out[i]
		if prev.MemberID == cur.MemberID && cur.AdmitDate.Before(prev.AdmitDate) {
			t.Errorf("rows %d and %d out of order", i-1, i)
		}
	}
}

func TestLastAdmissionHasNoNext(t *testing.T) {
	out, err := Link([]domain.Admission{
		adm("A1", "M1", "2024-01-01", "2024-01-05"),
		adm("A2", "M1", "2024-01-10", "2024-01-12"),
	})
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	last := out[len(out)-1]
	if last.NextAdmissionID.Valid || last.NextAdmitDate.Valid || last.DaysToNextAdmit.Valid {
		t.Errorf("expected last admission to have no successor, got %+v", last)
	}
	if last.Is30dReadmission {
		t.Error("expected last admission not to be flagged")
	}

	first := out[0]
	if first.NextAdmissionID.String != "A2" || first.DaysToNextAdmit.Int64 != 5 || !first.Is30dReadmission {
		t.Errorf("unexpected first row %+v", first)
	}
}

func TestReadmissionBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		nextDay string
		gap     int64
		flagged bool
	}{
		{"same day", "2024-01-05", 0, false},
		{"next day", "2024-01-06", 1, true},
		{"thirty days", "2024-02-04", 30, true},
		{"thirty one days", "2024-02-05", 31, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Link([]domain.Admission{
				adm("A1", "M1", "2024-01-01", "2024-01-05"),
				adm("A2", "M1", tt.nextDay, tt.nextDay),
			})
			if err != nil {
				t.Fatalf("Link failed: %v", err)
			}
			if out[0].DaysToNextAdmit.Int64 != tt.gap {
				t.Errorf("expected gap %d, got %d", tt.gap, out[0].DaysToNextAdmit.Int64)
			}
			if out[0].Is30dReadmission != tt.flagged {
				t.Errorf("expected flag %v, got %v", tt.flagged, out[0].Is30dReadmission)
			}
		})
	}
}

func TestOverlappingStaysGiveNegativeGap(t *testing.T) {
	out, err := Link([]domain.Admission{
		adm("A1", "M1", "2024-01-01", "2024-01-10"),
		adm("A2", "M1", "2024-01-05", "2024-01-06"),
	})
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if out[0].DaysToNextAdmit.Int64 != -5 {
		t.Errorf("expected gap -5, got %d", out[0].DaysToNextAdmit.Int64)
	}
	if out[0].Is30dReadmission {
		t.Error("expected negative gap not to be flagged")
	}
}

func TestSameDayAdmitsKeepInputOrder(t *testing.T) {
	out, err := Link([]domain.Admission{
		adm("B", "M1", "2024-01-01", "2024-01-01"),
		adm("A", "M1", "2024-01-01", "2024-01-02"),
	})
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if out[0].AdmissionID != "B" || out[0].NextAdmissionID.String != "A" {
		t.Errorf("expected stable order B then A, got %s then %s", out[0].AdmissionID, out[1].AdmissionID)
	}
}

func TestLinkRejectsBadDates(t *testing.T) {
	bad := adm("A1", "M1", "2024-01-05", "2024-01-01")
	_, err := Link([]domain.Admission{bad})
	var rowErr *domain.RowError
	if !errors.As(err, &rowErr) || rowErr.Column != "discharge_date" || rowErr.Row != 1 {
		t.Fatalf("expected discharge_date row error, got %v", err)
	}

	_, err = Link([]domain.Admission{{AdmissionID: "A2", MemberID: "M1"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for zero dates, got %v", err)
	}
}

func TestLinkEmpty(t *testing.T) {
	out, err := Link(nil)
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no rows, got %d", len(out))
	}
}

func TestIndex(t *testing.T) {
	adms := []domain.Admission{
		adm("A1", "M2", "2024-02-01", "2024-02-02"),
		adm("A2", "M1", "2024-01-01", "2024-01-02"),
		adm("A3", "M2", "2024-01-01", "2024-01-02"),
	}
	idx := BuildIndex(adms)

	if got := idx.Members(); len(got) != 2 || got[0] != "M1" || got[1] != "M2" {
		t.Errorf("unexpected members %v", got)
	}
	if got := idx.Admissions("M2"); len(got) != 2 || got[0] != 2 || got[1] != 0 {
		t.Errorf("unexpected M2 positions %v", got)
	}
	if got := idx.Admissions("M9"); got != nil {
		t.Errorf("expected nil for unknown member, got %v", got)
	}
}
