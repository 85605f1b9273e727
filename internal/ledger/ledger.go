// Package ledger builds the readmission event ledger from linked admissions.
package ledger

import (
	"database/sql"
	"log/slog"

	"github.com/opensource-health/readmit/internal/domain"
)

// Result is the event ledger plus the bookkeeping of how it was built.
type Result struct {
	Events []domain.ReadmissionEvent

	// Flagged is the number of enriched rows marked as 30-day readmissions.
	Flagged int

	// Dropped counts flagged rows whose partner admission could not be used.
	Dropped int
}

// Build pairs every flagged index admission with the admission named by its
// next-admission id. Events keep the order of the enriched rows.
// A partner that does not resolve, or that is the index admission itself,
// drops the event.
func Build(enriched []domain.EnrichedAdmission) Result {
	byID := make(map[string]int, len(enriched))
	for i, row := range enriched {
		byID[row.AdmissionID] = i
	}

	var res Result
	for _, idx := range enriched {
		if !idx.Is30dReadmission {
			continue
		}
		res.Flagged++

		nextID := idx.NextAdmissionID.String
		pos, ok := byID[nextID]
		if !idx.NextAdmissionID.Valid || !ok {
			res.Dropped++
			slog.Warn("readmission partner not found",
				"admission_id", idx.AdmissionID,
				"next_admission_id", nextID,
			)
			continue
		}
		if nextID == idx.AdmissionID {
			res.Dropped++
			slog.Warn("readmission partner is the index admission",
				"admission_id", idx.AdmissionID,
			)
			continue
		}

		res.Events = append(res.Events, pair(idx, enriched[pos].Admission))
	}

	if res.Dropped > 0 {
		slog.Warn("readmission events dropped", "dropped", res.Dropped, "flagged", res.Flagged)
	}
	return res
}

func pair(idx domain.EnrichedAdmission, next domain.Admission) domain.ReadmissionEvent {
	ev := domain.ReadmissionEvent{
		MemberID:                idx.MemberID,
		IndexAdmissionID:        idx.AdmissionID,
		IndexDischargeDate:      idx.DischargeDate,
		NextAdmissionID:         idx.NextAdmissionID.String,
		NextAdmitDate:           idx.NextAdmitDate.Time,
		DaysToNextAdmit:         int(idx.DaysToNextAdmit.Int64),
		IndexConditionGroup:     idx.ConditionGroup,
		IndexHospitalID:         idx.HospitalID,
		IndexPaidAmount:         idx.PaidAmount,
		IndexPreventableProxy:   idx.PreventableProxy,
		IndexFollowupWithin7d:   idx.FollowupWithin7d,
		ReadmitAdmitDate:        next.AdmitDate,
		ReadmitConditionGroup:   next.ConditionGroup,
		ReadmitPreventableProxy: next.PreventableProxy,
		ReadmitPaidAmount:       next.PaidAmount,
	}
	if ev.IndexPaidAmount.Valid && ev.ReadmitPaidAmount.Valid {
		ev.TotalPaid = sql.NullFloat64{
			Float64: ev.IndexPaidAmount.Float64 + ev.ReadmitPaidAmount.Float64,
			Valid:   true,
		}
	}
	return ev
}
