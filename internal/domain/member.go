package domain

import (
	"database/sql"
	"time"
)

// DateLayout is the calendar-date format used by every raw and processed table.
const DateLayout = "2006-01-02"

// Claim types recognised by the utilization features.
const (
	ClaimTypeOutpatient = "OUTPATIENT"
	ClaimTypeInpatient  = "INPATIENT"
)

// Member is immutable reference data about an enrolled person.
type Member struct {
	MemberID     string  `json:"member_id"`
	Age          int     `json:"age"`
	Sex          string  `json:"sex"`
	State        string  `json:"state"`
	PlanType     string  `json:"plan_type"`
	SDI          float64 `json:"sdi"`
	ChronicCount int     `json:"chronic_count"`
}

// Admission is a single inpatient stay.
// Dates are calendar days in UTC.
type Admission struct {
	AdmissionID         string
	MemberID            string
	HospitalID          string
	AttendingProviderID string
	AdmitDate           time.Time
	DischargeDate       time.Time
	LengthOfStay        int
	ConditionGroup      string
	PrimaryICD10        string
	DRG                 string
	PreventableProxy    int
	FollowupWithin7d    int
	PaidAmount          sql.NullFloat64
}

// Claim is a professional or facility claim line.
// CPT is empty when the source value was null.
type Claim struct {
	ClaimID    string
	MemberID   string
	ClaimDate  time.Time
	ClaimType  string
	ProviderID string
	CPT        string
	ICD10      string
	PaidAmount sql.NullFloat64
}

// Dataset bundles the three raw input tables.
type Dataset struct {
	Members    []Member
	Admissions []Admission
	Claims     []Claim
}

// DaysBetween returns the whole number of calendar days from a to b.
// The result is negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ca := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	cb := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int((cb.Unix() - ca.Unix()) / 86400)
}

// ParseDate parses a raw date value. Besides plain calendar dates it accepts
// the timestamp forms written by common dataframe tools; the time of day is dropped.
func ParseDate(value string) (time.Time, error) {
	layouts := []string{DateLayout, "2006-01-02 15:04:05", time.RFC3339}
	var err error
	for _, layout := range layouts {
		var t time.Time
		t, err = time.Parse(layout, value)
		if err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, err
}
