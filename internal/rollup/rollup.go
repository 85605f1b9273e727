// Package rollup aggregates linked admissions and the event ledger into the
// diagnosis, hospital and population summaries.
package rollup

import (
	"database/sql"
	"sort"

	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/numeric"
)

// paidMean averages the non-missing amounts, or returns 0 when there are none.
func paidMean(values []sql.NullFloat64) float64 {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if v.Valid {
			present = append(present, v.Float64)
		}
	}
	return numeric.SafeDiv(numeric.Sum(present), float64(len(present)))
}

// paidSum adds the non-missing amounts.
func paidSum(values []sql.NullFloat64) float64 {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if v.Valid {
			present = append(present, v.Float64)
		}
	}
	return numeric.Sum(present)
}

type admissionGroup struct {
	admissions   int
	readmissions int
	paid         []sql.NullFloat64
}

func (g *admissionGroup) add(row domain.EnrichedAdmission) {
	g.admissions++
	if row.Is30dReadmission {
		g.readmissions++
	}
	g.paid = append(g.paid, row.PaidAmount)
}

type eventGroup struct {
	preventable int
	total       int
	readmitPaid []sql.NullFloat64
}

// Diagnosis summarises admissions and readmission events per condition group.
//
// groups is the condition dimension. Every listed group gets a row, zero
// filled when it has no admissions; groups found only in the data are
// appended. A nil dimension uses the groups present in enriched.
//
// Rows are ordered by preventable events then readmissions, both
// descending, with the group code ascending as the final tie-break.
func Diagnosis(enriched []domain.EnrichedAdmission, events []domain.ReadmissionEvent, groups []string) []domain.DiagnosisSummary {
	adm := make(map[string]*admissionGroup)
	for _, g := range groups {
		adm[g] = &admissionGroup{}
	}
	for _, row := range enriched {
		g, ok := adm[row.ConditionGroup]
		if !ok {
			g = &admissionGroup{}
			adm[row.ConditionGroup] = g
		}
		g.add(row)
	}

	evs := make(map[string]*eventGroup)
	for _, ev := range events {
		g, ok := evs[ev.IndexConditionGroup]
		if !ok {
			g = &eventGroup{}
			evs[ev.IndexConditionGroup] = g
		}
		g.total++
		if ev.IsPreventable() {
			g.preventable++
		}
		g.readmitPaid = append(g.readmitPaid, ev.ReadmitPaidAmount)
	}

	out := make([]domain.DiagnosisSummary, 0, len(adm))
	for code, a := range adm {
		row := domain.DiagnosisSummary{
			ConditionGroup:     code,
			Admissions:         a.admissions,
			Readmissions30d:    a.readmissions,
			AvgInpatientPaid:   paidMean(a.paid),
			ReadmissionRate30d: numeric.SafeDiv(float64(a.readmissions), float64(a.admissions)),
		}
		if e, ok := evs[code]; ok {
			row.PreventableEvents = e.preventable
			row.TotalEvents = e.total
			row.AvoidablePaid = paidSum(e.readmitPaid)
			row.PreventableShare = numeric.SafeDiv(float64(e.preventable), float64(e.total))
		}
		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.PreventableEvents != b.PreventableEvents {
			return a.PreventableEvents > b.PreventableEvents
		}
		if a.Readmissions30d != b.Readmissions30d {
			return a.Readmissions30d > b.Readmissions30d
		}
		return a.ConditionGroup < b.ConditionGroup
	})
	return out
}

// Hospital summarises admissions per hospital, ordered by readmission rate
// descending and hospital id ascending.
func Hospital(enriched []domain.EnrichedAdmission) []domain.HospitalSummary {
	groups := make(map[string]*admissionGroup)
	for _, row := range enriched {
		g, ok := groups[row.HospitalID]
		if !ok {
			g = &admissionGroup{}
			groups[row.HospitalID] = g
		}
		g.add(row)
	}

	out := make([]domain.HospitalSummary, 0, len(groups))
	for id, g := range groups {
		out = append(out, domain.HospitalSummary{
			HospitalID:         id,
			Admissions:         g.admissions,
			Readmissions30d:    g.readmissions,
			AvgPaid:            paidMean(g.paid),
			ReadmissionRate30d: numeric.SafeDiv(float64(g.readmissions), float64(g.admissions)),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ReadmissionRate30d != out[j].ReadmissionRate30d {
			return out[i].ReadmissionRate30d > out[j].ReadmissionRate30d
		}
		return out[i].HospitalID < out[j].HospitalID
	})
	return out
}
