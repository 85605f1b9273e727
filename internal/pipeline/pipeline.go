// Package pipeline runs the analytics stages over one raw dataset.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/features"
	"github.com/opensource-health/readmit/internal/ledger"
	"github.com/opensource-health/readmit/internal/linker"
	"github.com/opensource-health/readmit/internal/risk"
	"github.com/opensource-health/readmit/internal/roi"
	"github.com/opensource-health/readmit/internal/rollup"
	"github.com/opensource-health/readmit/internal/rules"
)

var tracer = otel.Tracer("readmit-pipeline")

// Options tune a pipeline run. The zero value reproduces the standard build.
type Options struct {
	// AsOf overrides the default as-of date (the latest admit date).
	AsOf *time.Time

	// Workers bounds feature-building concurrency.
	Workers int

	// EDCodes replaces the emergency-visit procedure codes.
	EDCodes []string

	// EDExpression, when set, classifies emergency visits with CEL instead.
	EDExpression string

	// Scenarios replaces the built-in intervention programs.
	Scenarios []domain.Intervention

	// MaxRaw replaces the population maximum used to scale risk scores.
	MaxRaw *float64

	// DiagnosisGroups is the condition dimension of the diagnosis summary.
	// Nil uses the groups present in the admissions.
	DiagnosisGroups []string
}

// Result is the output of one run.
type Result struct {
	Tables domain.Tables
	Stats  domain.RunStats
	AsOf   time.Time

	// Totals are the unrounded KPI figures; PreventablePaid is the ROI baseline.
	Totals     rollup.Totals
	Population risk.PopulationStats
}

// Run executes every stage in dependency order. Cancellation is checked
// between stages.
func Run(ctx context.Context, ds *domain.Dataset, opts Options) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.Int("members", len(ds.Members)),
		attribute.Int("admissions", len(ds.Admissions)),
		attribute.Int("claims", len(ds.Claims)),
	))
	defer span.End()

	scenarios := opts.Scenarios
	if scenarios == nil {
		scenarios = roi.DefaultScenarios()
	}
	if err := roi.Validate(scenarios); err != nil {
		return nil, err
	}

	res := &Result{}
	res.Stats.Members = len(ds.Members)
	res.Stats.Admissions = len(ds.Admissions)
	res.Stats.Claims = len(ds.Claims)

	// Temporal linking
	err := stage(ctx, "link", func(ctx context.Context) error {
		enriched, err := linker.Link(ds.Admissions)
		if err != nil {
			return err
		}
		res.Tables.Enriched = enriched
		return nil
	})
	if err != nil {
		return nil, err
	}

	asOf, err := resolveAsOf(res.Tables.Enriched, ds.Claims, opts.AsOf)
	if err != nil {
		return nil, err
	}
	res.AsOf = asOf

	// Event ledger
	if err = stage(ctx, "ledger", func(ctx context.Context) error {
		lr := ledger.Build(res.Tables.Enriched)
		res.Tables.Events = lr.Events
		res.Stats.Readmissions = lr.Flagged
		res.Stats.Events = len(lr.Events)
		res.Stats.DroppedEvents = lr.Dropped
		return nil
	}); err != nil {
		return nil, err
	}

	// Utilization features and risk
	if err = stage(ctx, "risk", func(ctx context.Context) error {
		cfg := features.Config{EDCodes: opts.EDCodes, Workers: opts.Workers}
		if opts.EDExpression != "" {
			c, err := rules.NewClassifier(opts.EDExpression, opts.Workers)
			if err != nil {
				return err
			}
			cfg.Classifier = c
		}

		feats, err := features.Build(ctx, ds.Members, ds.Admissions, ds.Claims, asOf, cfg)
		if err != nil {
			return err
		}
		scored, err := risk.Scorer{MaxRaw: opts.MaxRaw}.ScoreMembers(ds.Members, feats)
		if err != nil {
			return err
		}
		res.Tables.Risk = scored.Records
		res.Population = scored.Stats
		return nil
	}); err != nil {
		return nil, err
	}

	// Rollups
	if err = stage(ctx, "rollup", func(ctx context.Context) error {
		res.Tables.Diagnosis = rollup.Diagnosis(res.Tables.Enriched, res.Tables.Events, opts.DiagnosisGroups)
		res.Tables.Hospitals = rollup.Hospital(res.Tables.Enriched)
		res.Totals = rollup.ComputeTotals(res.Tables.Enriched, res.Tables.Events, res.Tables.Risk)
		res.Tables.KPI = res.Totals.Snapshot(asOf)
		return nil
	}); err != nil {
		return nil, err
	}

	// ROI simulation
	if err = stage(ctx, "roi", func(ctx context.Context) error {
		res.Tables.Interventions = roi.Simulate(res.Totals.PreventablePaid, res.Totals.HighRiskMembers, scenarios)
		return nil
	}); err != nil {
		return nil, err
	}

	res.Stats.FailedPreventable = res.Totals.FailedChecks
	res.Stats.HighRiskMembers = res.Totals.HighRiskMembers
	res.Stats.MaxRawScore = res.Population.MaxRaw
	res.Stats.DurationMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Int("events", res.Stats.Events),
		attribute.Int("dropped_events", res.Stats.DroppedEvents),
		attribute.Int("high_risk_members", res.Stats.HighRiskMembers),
	)
	slog.Info("analytics tables built",
		"as_of", asOf.Format(domain.DateLayout),
		"admissions", res.Stats.Admissions,
		"readmissions", res.Stats.Readmissions,
		"dropped", res.Stats.DroppedEvents,
		"high_risk_members", res.Stats.HighRiskMembers,
		"duration_ms", res.Stats.DurationMs,
	)
	return res, nil
}

// stage runs fn inside a span, after checking for cancellation.
func stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pipeline %s: %w", name, err)
	}

	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("pipeline %s: %w", name, err)
	}
	return nil
}

func resolveAsOf(enriched []domain.EnrichedAdmission, claims []domain.Claim, override *time.Time) (time.Time, error) {
	if override != nil {
		y, m, d := override.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	asOf, err := rollup.DefaultAsOf(enriched, claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("pipeline: %w", err)
	}
	return asOf, nil
}
