// Package features derives trailing-12-month utilization counts per member.
package features

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/numeric"
)

// LookbackDays is the length of the utilization window before as-of.
const LookbackDays = 365

// DefaultEDCodes returns the procedure codes counted as emergency visits.
func DefaultEDCodes() []string {
	return []string{"A0427", "99214"}
}

// Classifier decides which claims are emergency-department visits.
type Classifier interface {
	MatchAll(ctx context.Context, claims []domain.Claim) ([]bool, error)
}

// CodeSet classifies a claim as an emergency visit when its CPT is listed.
type CodeSet map[string]struct{}

// NewCodeSet builds a CodeSet from codes.
func NewCodeSet(codes []string) CodeSet {
	set := make(CodeSet, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// MatchAll implements Classifier.
func (s CodeSet) MatchAll(_ context.Context, claims []domain.Claim) ([]bool, error) {
	out := make([]bool, len(claims))
	for i, c := range claims {
		_, out[i] = s[c.CPT]
	}
	return out, nil
}

// Config controls feature building.
type Config struct {
	// EDCodes is used when Classifier is nil. Nil means DefaultEDCodes.
	EDCodes []string

	// Classifier overrides the ED code allowlist.
	Classifier Classifier

	// Workers bounds the member partitions processed concurrently.
	Workers int
}

// Window returns the inclusive day range [asOf-365d, asOf].
func Window(asOf time.Time) (start, end time.Time) {
	end = asOf.UTC().Truncate(24 * time.Hour)
	return end.AddDate(0, 0, -LookbackDays), end
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

type memberRows struct {
	admissions []domain.Admission
	edVisits   int
	outpatient int
}

// Build returns one feature row per member, in members order. Members
// without any in-window activity get zero counts and a zero no-follow-up rate.
func Build(ctx context.Context, members []domain.Member, adms []domain.Admission, claims []domain.Claim, asOf time.Time, cfg Config) ([]domain.UtilizationFeatures, error) {
	start, end := Window(asOf)

	rows := make(map[string]*memberRows, len(members))
	get := func(id string) *memberRows {
		r, ok := rows[id]
		if !ok {
			r = &memberRows{}
			rows[id] = r
		}
		return r
	}

	for _, a := range adms {
		if inWindow(a.AdmitDate, start, end) {
			r := get(a.MemberID)
			r.admissions = append(r.admissions, a)
		}
	}

	windowClaims := make([]domain.Claim, 0, len(claims))
	for _, c := range claims {
		if inWindow(c.ClaimDate, start, end) {
			windowClaims = append(windowClaims, c)
		}
	}

	classifier := cfg.Classifier
	if classifier == nil {
		codes := cfg.EDCodes
		if codes == nil {
			codes = DefaultEDCodes()
		}
		classifier = NewCodeSet(codes)
	}
	isED, err := classifier.MatchAll(ctx, windowClaims)
	if err != nil {
		return nil, fmt.Errorf("classify emergency claims: %w", err)
	}

	for i, c := range windowClaims {
		if isED[i] {
			get(c.MemberID).edVisits++
		}
		if c.ClaimType == domain.ClaimTypeOutpatient {
			get(c.MemberID).outpatient++
		}
	}

	return buildParallel(ctx, members, rows, cfg.Workers)
}

// buildParallel fills one output slot per member from a bounded pool of
// partitions, so the result does not depend on the worker count.
func buildParallel(ctx context.Context, members []domain.Member, rows map[string]*memberRows, workers int) ([]domain.UtilizationFeatures, error) {
	if workers <= 0 {
		workers = 1
	}
	out := make([]domain.UtilizationFeatures, len(members))
	if len(members) == 0 {
		return out, nil
	}

	chunk := (len(members) + workers - 1) / workers

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for lo := 0; lo < len(members); lo += chunk {
		hi := min(lo+chunk, len(members))
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			for i := lo; i < hi; i++ {
				out[i] = memberFeatures(members[i].MemberID, rows[members[i].MemberID])
			}
		}(lo, hi)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func memberFeatures(memberID string, r *memberRows) domain.UtilizationFeatures {
	f := domain.UtilizationFeatures{MemberID: memberID}
	if r == nil {
		return f
	}

	var noFollowup float64
	for _, a := range r.admissions {
		noFollowup += float64(1 - a.FollowupWithin7d)
	}

	f.PriorAdmissions12m = len(r.admissions)
	f.EDVisits12m = r.edVisits
	f.OutpatientVisits12m = r.outpatient
	f.NoFollowupRate = numeric.SafeDiv(noFollowup, float64(len(r.admissions)))
	return f
}
