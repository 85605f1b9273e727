package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-health/readmit/internal/domain"
)

// Raw table file names.
const (
	MembersFile    = "members.csv"
	AdmissionsFile = "admissions.csv"
	ClaimsFile     = "claims.csv"
)

var (
	memberColumns = []string{
		"member_id", "age", "sex", "state", "plan_type", "sdi", "chronic_count",
	}
	admissionColumns = []string{
		"admission_id", "member_id", "hospital_id", "attending_provider_id",
		"admit_date", "discharge_date", "length_of_stay", "primary_condition_group",
		"primary_icd10", "drg", "preventable_proxy", "followup_within_7d",
		"inpatient_paid_amount",
	}
	claimColumns = []string{
		"claim_id", "member_id", "claim_date", "claim_type", "provider_id",
		"cpt", "icd10", "paid_amount",
	}
)

var errDuplicateKey = errors.New("duplicate key")

// LoadDir reads members.csv, admissions.csv and claims.csv from dir.
func LoadDir(dir string) (*domain.Dataset, error) {
	var ds domain.Dataset
	var err error

	if ds.Members, err = readFile(filepath.Join(dir, MembersFile), ReadMembers); err != nil {
		return nil, err
	}
	if ds.Admissions, err = readFile(filepath.Join(dir, AdmissionsFile), ReadAdmissions); err != nil {
		return nil, err
	}
	if ds.Claims, err = readFile(filepath.Join(dir, ClaimsFile), ReadClaims); err != nil {
		return nil, err
	}

	slog.Debug("raw tables loaded",
		"dir", dir,
		"members", len(ds.Members),
		"admissions", len(ds.Admissions),
		"claims", len(ds.Claims),
	)
	return &ds, nil
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw table: %w", err)
	}
	defer f.Close()
	return read(f)
}

// ReadMembers parses the members table.
func ReadMembers(r io.Reader) ([]domain.Member, error) {
	f, err := readFrame("members", r, memberColumns)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Member, 0, len(f.rows))
	seen := make(map[string]struct{}, len(f.rows))
	err = f.each(func(c cell) error {
		var m domain.Member
		var err error
		if m.MemberID, err = c.key("member_id"); err != nil {
			return err
		}
		if _, dup := seen[m.MemberID]; dup {
			return c.rowErr("member_id", m.MemberID, errDuplicateKey)
		}
		seen[m.MemberID] = struct{}{}
		if m.Age, err = c.integer("age"); err != nil {
			return err
		}
		if m.SDI, err = c.real("sdi"); err != nil {
			return err
		}
		if m.ChronicCount, err = c.integer("chronic_count"); err != nil {
			return err
		}
		m.Sex = c.str("sex")
		m.State = c.str("state")
		m.PlanType = c.str("plan_type")
		out = append(out, m)
		return nil
	})
	return out, err
}

// ReadAdmissions parses the admissions table. Condition groups outside the
// taxonomy and discharges before admission are validation errors.
func ReadAdmissions(r io.Reader) ([]domain.Admission, error) {
	f, err := readFrame("admissions", r, admissionColumns)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Admission, 0, len(f.rows))
	seen := make(map[string]struct{}, len(f.rows))
	err = f.each(func(c cell) error {
		var a domain.Admission
		var err error
		if a.AdmissionID, err = c.key("admission_id"); err != nil {
			return err
		}
		if _, dup := seen[a.AdmissionID]; dup {
			return c.rowErr("admission_id", a.AdmissionID, errDuplicateKey)
		}
		seen[a.AdmissionID] = struct{}{}
		if a.MemberID, err = c.key("member_id"); err != nil {
			return err
		}
		if a.AdmitDate, err = c.date("admit_date"); err != nil {
			return err
		}
		if a.DischargeDate, err = c.date("discharge_date"); err != nil {
			return err
		}
		if a.DischargeDate.Before(a.AdmitDate) {
			return c.rowErr("discharge_date", c.raw("discharge_date"), fmt.Errorf("discharge precedes admit date"))
		}
		if a.LengthOfStay, err = c.integer("length_of_stay"); err != nil {
			return err
		}
		a.ConditionGroup = strings.ToUpper(c.str("primary_condition_group"))
		if !domain.IsConditionGroup(a.ConditionGroup) {
			return c.rowErr("primary_condition_group", c.raw("primary_condition_group"), fmt.Errorf("unknown condition group"))
		}
		if a.PreventableProxy, err = c.flag("preventable_proxy"); err != nil {
			return err
		}
		if a.FollowupWithin7d, err = c.flag("followup_within_7d"); err != nil {
			return err
		}
		if a.PaidAmount, err = c.amount("inpatient_paid_amount"); err != nil {
			return err
		}
		a.HospitalID = c.str("hospital_id")
		a.AttendingProviderID = c.str("attending_provider_id")
		a.PrimaryICD10 = c.str("primary_icd10")
		a.DRG = c.str("drg")
		out = append(out, a)
		return nil
	})
	return out, err
}

// ReadClaims parses the claims table. A missing CPT becomes "".
func ReadClaims(r io.Reader) ([]domain.Claim, error) {
	f, err := readFrame("claims", r, claimColumns)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Claim, 0, len(f.rows))
	err = f.each(func(c cell) error {
		var cl domain.Claim
		var err error
		if cl.ClaimID, err = c.key("claim_id"); err != nil {
			return err
		}
		if cl.MemberID, err = c.key("member_id"); err != nil {
			return err
		}
		if cl.ClaimDate, err = c.date("claim_date"); err != nil {
			return err
		}
		if cl.PaidAmount, err = c.amount("paid_amount"); err != nil {
			return err
		}
		cl.ClaimType = strings.ToUpper(c.str("claim_type"))
		cl.ProviderID = c.str("provider_id")
		cl.CPT = c.str("cpt")
		cl.ICD10 = c.str("icd10")
		out = append(out, cl)
		return nil
	})
	return out, err
}
