package rules

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-health/readmit/internal/domain"
)

func claim(cpt, claimType string, paid float64) domain.Claim {
	return domain.Claim{
		ClaimID:    "C-" + cpt,
		MemberID:   "M1",
		ClaimDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ClaimType:  claimType,
		CPT:        cpt,
		PaidAmount: sql.NullFloat64{Float64: paid, Valid: true},
	}
}

func TestNewClassifier(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"allowlist", `cpt in ["A0427", "99214"]`, false},
		{"combined", `has_cpt && claim_type == "OUTPATIENT" && paid_amount > 100.0`, false},
		{"date", `claim_date > timestamp("2024-01-01T00:00:00Z")`, false},
		{"non bool", `paid_amount * 2.0`, true},
		{"invalid", `this is not valid CEL !!!`, true},
		{"unknown variable", `amount > 5.0`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClassifier(tt.expr, 2)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClassifier(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if (Validate(tt.expr) != nil) != tt.wantErr {
				t.Errorf("Validate(%q) disagrees with NewClassifier", tt.expr)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	c, err := NewClassifier(`cpt in ["A0427", "99214"]`, 2)
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}

	tests := []struct {
		claim domain.Claim
		want  bool
	}{
		{claim("A0427", domain.ClaimTypeOutpatient, 900), true},
		{claim("99214", domain.ClaimTypeOutpatient, 150), true},
		{claim("99213", domain.ClaimTypeOutpatient, 90), false},
		{claim("", domain.ClaimTypeOutpatient, 90), false},
	}

	for _, tt := range tests {
		got, err := c.Match(tt.claim)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("Match(cpt=%q) = %v, want %v", tt.claim.CPT, got, tt.want)
		}
	}
}

func TestMatchAllKeepsOrder(t *testing.T) {
	c, err := NewClassifier(`paid_amount >= 50.0`, 3)
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}

	claims := make([]domain.Claim, 101)
	for i := range claims {
		claims[i] = claim(fmt.Sprintf("%05d", i), domain.ClaimTypeOutpatient, float64(i))
	}

	got, err := c.MatchAll(context.Background(), claims)
	if err != nil {
		t.Fatalf("MatchAll failed: %v", err)
	}
	if len(got) != len(claims) {
		t.Fatalf("expected %d results, got %d", len(claims), len(got))
	}
	for i, ok := range got {
		if ok != (i >= 50) {
			t.Errorf("claim %d: expected %v, got %v", i, i >= 50, ok)
		}
	}
}

func TestMatchAllCancelled(t *testing.T) {
	c, _ := NewClassifier(`has_cpt`, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.MatchAll(ctx, []domain.Claim{claim("1", "", 0)}); err == nil {
		t.Error("expected error from cancelled context")
	}

	got, err := c.MatchAll(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Errorf("expected empty result, got %v, %v", got, err)
	}
}
