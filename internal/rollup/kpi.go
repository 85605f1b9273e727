package rollup

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/numeric"
)

// ErrNoActivity is returned when neither admissions nor claims carry a date
// to derive the as-of date from.
var ErrNoActivity = errors.New("no admissions or claims to derive an as-of date from")

// DefaultAsOf returns the latest admit date. A dataset without admissions
// falls back to the latest claim date, so its KPI row still builds with
// zero counts.
func DefaultAsOf(enriched []domain.EnrichedAdmission, claims []domain.Claim) (time.Time, error) {
	var latest time.Time
	for _, row := range enriched {
		if row.AdmitDate.After(latest) {
			latest = row.AdmitDate
		}
	}
	if len(enriched) > 0 {
		return latest, nil
	}
	for _, c := range claims {
		if c.ClaimDate.After(latest) {
			latest = c.ClaimDate
		}
	}
	if len(claims) == 0 {
		return time.Time{}, ErrNoActivity
	}
	return latest, nil
}

// Totals are the unrounded population figures behind the KPI snapshot.
// PreventablePaid is also the ROI baseline.
type Totals struct {
	TotalAdmissions    int
	Readmissions30d    int
	TotalInpatientPaid float64
	PreventablePaid    float64
	AvgReadmissionPaid float64
	HighRiskMembers    int

	// FailedChecks counts ledger rows whose gap is outside the readmission
	// window. Built ledgers never contain one.
	FailedChecks int
}

// ComputeTotals aggregates the population figures.
func ComputeTotals(enriched []domain.EnrichedAdmission, events []domain.ReadmissionEvent, records []domain.RiskRecord) Totals {
	var t Totals

	paid := make([]sql.NullFloat64, len(enriched))
	for i, row := range enriched {
		t.TotalAdmissions++
		if row.Is30dReadmission {
			t.Readmissions30d++
		}
		paid[i] = row.PaidAmount
	}
	t.TotalInpatientPaid = paidSum(paid)

	var preventable []sql.NullFloat64
	readmitPaid := make([]sql.NullFloat64, len(events))
	for i, ev := range events {
		readmitPaid[i] = ev.ReadmitPaidAmount
		if !domain.IsReadmissionGap(ev.DaysToNextAdmit) {
			t.FailedChecks++
			slog.Warn("ledger row outside readmission window",
				"index_admission_id", ev.IndexAdmissionID,
				"days_to_next_admit", ev.DaysToNextAdmit,
			)
			continue
		}
		if ev.IsPreventable() {
			preventable = append(preventable, ev.ReadmitPaidAmount)
		}
	}
	t.PreventablePaid = paidSum(preventable)
	t.AvgReadmissionPaid = paidMean(readmitPaid)

	for _, r := range records {
		if r.Tier == domain.TierHigh {
			t.HighRiskMembers++
		}
	}
	return t
}

// ReadmissionRate returns readmissions over admissions, 0 without admissions.
func (t Totals) ReadmissionRate() float64 {
	return numeric.SafeDiv(float64(t.Readmissions30d), float64(t.TotalAdmissions))
}

// Snapshot rounds the totals into the single kpi_summary row.
func (t Totals) Snapshot(asOf time.Time) domain.KPISnapshot {
	return domain.KPISnapshot{
		AsOfDate:                   asOf.Format(domain.DateLayout),
		TotalAdmissions:            t.TotalAdmissions,
		Readmissions30d:            t.Readmissions30d,
		ReadmissionRate30d:         numeric.Round(t.ReadmissionRate(), 4),
		TotalInpatientPaid:         numeric.Money(t.TotalInpatientPaid),
		PreventableReadmissionPaid: numeric.Money(t.PreventablePaid),
		AvgReadmissionPaid:         numeric.Money(t.AvgReadmissionPaid),
		HighRiskMembers:            t.HighRiskMembers,
	}
}

// KPIs builds the kpi_summary row.
func KPIs(enriched []domain.EnrichedAdmission, events []domain.ReadmissionEvent, records []domain.RiskRecord, asOf time.Time) domain.KPISnapshot {
	return ComputeTotals(enriched, events, records).Snapshot(asOf)
}
