// Package rules provides CEL-based claim classification.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-health/readmit/internal/domain"
)

// Classifier evaluates a compiled boolean CEL expression against claims.
//
// The expression sees these variables:
//
//	cpt          string     procedure code, "" when missing
//	has_cpt      bool
//	claim_type   string     OUTPATIENT or INPATIENT
//	icd10        string
//	provider_id  string
//	member_id    string
//	paid_amount  double     0 when missing
//	claim_date   timestamp
type Classifier struct {
	expression string
	program    cel.Program
	maxWorkers int
}

func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("cpt", cel.StringType),
		cel.Variable("has_cpt", cel.BoolType),
		cel.Variable("claim_type", cel.StringType),
		cel.Variable("icd10", cel.StringType),
		cel.Variable("provider_id", cel.StringType),
		cel.Variable("member_id", cel.StringType),
		cel.Variable("paid_amount", cel.DoubleType),
		cel.Variable("claim_date", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// NewClassifier compiles expression. maxWorkers bounds MatchAll concurrency.
func NewClassifier(expression string, maxWorkers int) (*Classifier, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile classifier: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("classifier must return bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier program: %w", err)
	}

	return &Classifier{
		expression: expression,
		program:    program,
		maxWorkers: maxWorkers,
	}, nil
}

// Validate reports whether expression compiles to a boolean classifier.
func Validate(expression string) error {
	_, err := NewClassifier(expression, 1)
	return err
}

// Expression returns the source expression.
func (c *Classifier) Expression() string {
	return c.expression
}

// Match evaluates the expression for one claim.
func (c *Classifier) Match(claim domain.Claim) (bool, error) {
	out, _, err := c.program.Eval(activation(claim))
	if err != nil {
		return false, fmt.Errorf("classify claim %s: %w", claim.ClaimID, err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("classify claim %s: non-bool result %v", claim.ClaimID, out)
	}
	return bool(b), nil
}

// MatchAll evaluates every claim in parallel chunks and returns one result
// per claim, in input order. The first evaluation error wins.
func (c *Classifier) MatchAll(ctx context.Context, claims []domain.Claim) ([]bool, error) {
	results := make([]bool, len(claims))
	if len(claims) == 0 {
		return results, nil
	}

	chunk := (len(claims) + c.maxWorkers - 1) / c.maxWorkers

	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	// Limit concurrency with semaphore
	sem := make(chan struct{}, c.maxWorkers)

	for start := 0; start < len(claims); start += chunk {
		end := min(start+chunk, len(claims))
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			for i := lo; i < hi; i++ {
				if ctx.Err() != nil {
					once.Do(func() { firstErr = ctx.Err() })
					return
				}
				ok, err := c.Match(claims[i])
				if err != nil {
					once.Do(func() { firstErr = err })
					return
				}
				results[i] = ok
			}
		}(start, end)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func activation(claim domain.Claim) map[string]any {
	paid := 0.0
	if claim.PaidAmount.Valid {
		paid = claim.PaidAmount.Float64
	}
	return map[string]any{
		"cpt":         claim.CPT,
		"has_cpt":     claim.CPT != "",
		"claim_type":  claim.ClaimType,
		"icd10":       claim.ICD10,
		"provider_id": claim.ProviderID,
		"member_id":   claim.MemberID,
		"paid_amount": paid,
		"claim_date":  claim.ClaimDate,
	}
}
