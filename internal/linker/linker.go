// Package linker chains each admission to the same member's next admission
// and flags 30-day readmissions.
package linker

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/opensource-health/readmit/internal/domain"
)

// Index maps a member id to the positions of that member's admissions,
// ordered by admit date with input order breaking ties.
type Index struct {
	members  []string
	byMember map[string][]int
}

// BuildIndex groups admissions by member and stable-sorts each group.
func BuildIndex(adms []domain.Admission) *Index {
	idx := &Index{byMember: make(map[string][]int)}
	for i, a := range adms {
		if _, ok := idx.byMember[a.MemberID]; !ok {
			idx.members = append(idx.members, a.MemberID)
		}
		idx.byMember[a.MemberID] = append(idx.byMember[a.MemberID], i)
	}
	sort.Strings(idx.members)

	for _, positions := range idx.byMember {
		sort.SliceStable(positions, func(i, j int) bool {
			return adms[positions[i]].AdmitDate.Before(adms[positions[j]].AdmitDate)
		})
	}
	return idx
}

// Members returns the indexed member ids in ascending order.
func (idx *Index) Members() []string {
	return idx.members
}

// Admissions returns the ordered positions of a member's admissions.
func (idx *Index) Admissions(memberID string) []int {
	return idx.byMember[memberID]
}

// Link returns one enriched row per admission, ordered by member id, admit
// date and input order. Every admission except a member's last carries its
// successor's id, admit date and the discharge-to-admit gap in days.
func Link(adms []domain.Admission) ([]domain.EnrichedAdmission, error) {
	for i, a := range adms {
		if err := check(i, a); err != nil {
			return nil, err
		}
	}

	idx := BuildIndex(adms)
	out := make([]domain.EnrichedAdmission, 0, len(adms))
	for _, member := range idx.Members() {
		positions := idx.Admissions(member)
		for k, pos := range positions {
			row := domain.EnrichedAdmission{Admission: adms[pos]}
			if k+1 < len(positions) {
				next := adms[positions[k+1]]
				gap := domain.DaysBetween(row.DischargeDate, next.AdmitDate)
				row.NextAdmissionID = sql.NullString{String: next.AdmissionID, Valid: true}
				row.NextAdmitDate = sql.NullTime{Time: next.AdmitDate, Valid: true}
				row.DaysToNextAdmit = sql.NullInt64{Int64: int64(gap), Valid: true}
				row.Is30dReadmission = domain.IsReadmissionGap(gap)
			}
			out = append(out, row)
		}
	}
	return out, nil
}

func check(i int, a domain.Admission) error {
	rowErr := func(column, value, reason string) error {
		return &domain.RowError{Table: "admissions", Row: i + 1, Column: column, Value: value, Err: fmt.Errorf("%s", reason)}
	}
	if a.AdmitDate.IsZero() {
		return rowErr("admit_date", "", "missing date")
	}
	if a.DischargeDate.IsZero() {
		return rowErr("discharge_date", "", "missing date")
	}
	if a.DischargeDate.Before(a.AdmitDate) {
		return rowErr("discharge_date", a.DischargeDate.Format(domain.DateLayout), "discharge precedes admit date")
	}
	return nil
}
