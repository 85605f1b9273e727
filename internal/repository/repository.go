// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-health/readmit/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with SQLite and both PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	case "pgx":
		db, err = openPgx(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, stmt := range AllSchemas() {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func requireDataset(datasetID string) error {
	if datasetID == "" {
		return fmt.Errorf("%w: datasetID is required", ErrInvalidInput)
	}
	return nil
}

// CreateRun stores a new pending run.
func (r *SQLRepository) CreateRun(ctx context.Context, datasetID string, run *domain.Run) error {
	if err := requireDataset(datasetID); err != nil {
		return err
	}
	if run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	run.DatasetID = datasetID
	if run.Status == "" {
		run.Status = domain.RunStatusPending
	}

	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, dataset_id, status, as_of_date, raw_dir, error, stats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, datasetID, run.Status, run.AsOfDate, run.RawDir, run.Error,
		string(stats), run.CreatedAt, run.UpdatedAt,
	)
	return err
}

// CompleteRun writes every summary table of a run and marks it completed,
// in one transaction. Rows from an earlier completion are replaced.
func (r *SQLRepository) CompleteRun(ctx context.Context, datasetID string, run *domain.Run, tables *domain.Tables) error {
	if err := requireDataset(datasetID); err != nil {
		return err
	}

	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	run.Status = domain.RunStatusCompleted
	run.AsOfDate = tables.KPI.AsOfDate
	run.Error = ""
	run.UpdatedAt = time.Now().UTC()

	result, err := tx.ExecContext(ctx, r.rebind(`
		UPDATE runs SET status = ?, as_of_date = ?, error = ?, stats = ?, updated_at = ?
		WHERE dataset_id = ? AND id = ?
	`), run.Status, run.AsOfDate, "", string(stats), run.UpdatedAt, datasetID, run.ID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	for _, table := range runTables {
		if _, err := tx.ExecContext(ctx, r.rebind("DELETE FROM "+table+" WHERE run_id = ?"), run.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := r.insertTables(ctx, tx, datasetID, run.ID, tables); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRepository) insertTables(ctx context.Context, tx *sql.Tx, datasetID, runID string, t *domain.Tables) error {
	k := t.KPI
	if _, err := tx.ExecContext(ctx, r.rebind(`
		INSERT INTO kpi_summary (
			run_id, dataset_id, as_of_date, total_admissions, readmissions_30d, readmission_rate_30d,
			total_inpatient_paid, preventable_readmission_paid, avg_readmission_paid, high_risk_members
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), runID, datasetID, k.AsOfDate, k.TotalAdmissions, k.Readmissions30d, k.ReadmissionRate30d,
		k.TotalInpatientPaid, k.PreventableReadmissionPaid, k.AvgReadmissionPaid, k.HighRiskMembers,
	); err != nil {
		return fmt.Errorf("insert kpi_summary: %w", err)
	}

	err := insertRows(ctx, tx, r.rebind(`
		INSERT INTO diagnosis_summary (
			run_id, dataset_id, row_num, primary_condition_group, admissions, readmissions_30d,
			avg_inpatient_paid, readmission_rate_30d, preventable_readmission_events,
			total_readmission_events, avoidable_paid, preventable_share_of_readmissions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.Diagnosis, func(i int, d domain.DiagnosisSummary) []any {
		return []any{runID, datasetID, i, d.ConditionGroup, d.Admissions, d.Readmissions30d,
			d.AvgInpatientPaid, d.ReadmissionRate30d, d.PreventableEvents,
			d.TotalEvents, d.AvoidablePaid, d.PreventableShare}
	})
	if err != nil {
		return fmt.Errorf("insert diagnosis_summary: %w", err)
	}

	err = insertRows(ctx, tx, r.rebind(`
		INSERT INTO hospital_summary (
			run_id, dataset_id, row_num, hospital_id, admissions, readmissions_30d, avg_paid, readmission_rate_30d
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), t.Hospitals, func(i int, h domain.HospitalSummary) []any {
		return []any{runID, datasetID, i, h.HospitalID, h.Admissions, h.Readmissions30d, h.AvgPaid, h.ReadmissionRate30d}
	})
	if err != nil {
		return fmt.Errorf("insert hospital_summary: %w", err)
	}

	err = insertRows(ctx, tx, r.rebind(`
		INSERT INTO patient_risk_scores (
			run_id, dataset_id, row_num, member_id, age, sex, state, plan_type, sdi, chronic_count,
			prior_admissions_12m, ed_visits_12m, outpatient_visits_12m, no_followup_rate,
			readmission_risk_score, risk_tier
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.Risk, func(i int, rec domain.RiskRecord) []any {
		return []any{runID, datasetID, i, rec.MemberID, rec.Age, rec.Sex, rec.State, rec.PlanType, rec.SDI, rec.ChronicCount,
			rec.PriorAdmissions12m, rec.EDVisits12m, rec.OutpatientVisits12m, rec.NoFollowupRate,
			rec.Score, string(rec.Tier)}
	})
	if err != nil {
		return fmt.Errorf("insert patient_risk_scores: %w", err)
	}

	err = insertRows(ctx, tx, r.rebind(`
		INSERT INTO intervention_roi (
			run_id, dataset_id, row_num, intervention, expected_readmission_reduction_pct,
			avoidable_paid_baseline, estimated_savings, estimated_program_cost, estimated_net_savings, roi
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.Interventions, func(i int, res domain.InterventionResult) []any {
		return []any{runID, datasetID, i, res.Intervention, res.ExpectedReductionPct,
			res.AvoidablePaidBaseline, res.EstimatedSavings, res.EstimatedProgramCost, res.EstimatedNetSavings, res.ROI}
	})
	if err != nil {
		return fmt.Errorf("insert intervention_roi: %w", err)
	}
	return nil
}

// insertRows runs one prepared insert per row.
func insertRows[T any](ctx context.Context, tx *sql.Tx, query string, rows []T, args func(int, T) []any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, args(i, row)...); err != nil {
			return err
		}
	}
	return nil
}

// FailRun marks a run failed with the given reason.
func (r *SQLRepository) FailRun(ctx context.Context, datasetID string, runID string, reason string) error {
	if err := requireDataset(datasetID); err != nil {
		return err
	}

	query := `
		UPDATE runs SET status = ?, error = ?, updated_at = ?
		WHERE dataset_id = ? AND id = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		domain.RunStatusFailed, reason, time.Now().UTC(), datasetID, runID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, dataset_id, status, as_of_date, raw_dir, error, stats, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*domain.Run, error) {
	var run domain.Run
	var asOf, rawDir, reason sql.NullString
	var stats string

	if err := s.Scan(
		&run.ID, &run.DatasetID, &run.Status, &asOf, &rawDir, &reason,
		&stats, &run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return nil, err
	}

	run.AsOfDate = asOf.String
	run.RawDir = rawDir.String
	run.Error = reason.String
	if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
		return nil, fmt.Errorf("failed to parse stats for run %s: %w", run.ID, err)
	}
	return &run, nil
}

// GetRun retrieves a run by ID with dataset isolation.
func (r *SQLRepository) GetRun(ctx context.Context, datasetID string, runID string) (*domain.Run, error) {
	if err := requireDataset(datasetID); err != nil {
		return nil, err
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE dataset_id = ? AND id = ?`
	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), datasetID, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns returns a dataset's runs, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, datasetID string) ([]*domain.Run, error) {
	if err := requireDataset(datasetID); err != nil {
		return nil, err
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE dataset_id = ? ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetKPI retrieves the KPI snapshot of a run.
func (r *SQLRepository) GetKPI(ctx context.Context, datasetID string, runID string) (*domain.KPISnapshot, error) {
	if err := requireDataset(datasetID); err != nil {
		return nil, err
	}

	query := `
		SELECT as_of_date, total_admissions, readmissions_30d, readmission_rate_30d,
			   total_inpatient_paid, preventable_readmission_paid, avg_readmission_paid, high_risk_members
		FROM kpi_summary
		WHERE dataset_id = ? AND run_id = ?
	`

	var k domain.KPISnapshot
	err := r.db.QueryRowContext(ctx, r.rebind(query), datasetID, runID).Scan(
		&k.AsOfDate, &k.TotalAdmissions, &k.Readmissions30d, &k.ReadmissionRate30d,
		&k.TotalInpatientPaid, &k.PreventableReadmissionPaid, &k.AvgReadmissionPaid, &k.HighRiskMembers,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// queryRows runs query and scans each row with scan.
func queryRows[T any](ctx context.Context, db *sql.DB, query string, args []any, scan func(rowScanner) (T, error)) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListDiagnosisSummary returns the diagnosis summary rows of a run in table order.
func (r *SQLRepository) ListDiagnosisSummary(ctx context.Context, datasetID string, runID string) ([]domain.DiagnosisSummary, error) {
	if err := requireDataset(datasetID); err != nil {
		return nil, err
	}

	query := `
		SELECT primary_condition_group, admissions, readmissions_30d, avg_inpatient_paid,
			   readmission_rate_30d, preventable_readmission_events, total_readmission_events,
			   avoidable_paid, preventable_share_of_readmissions
		FROM diagnosis_summary
		WHERE dataset_id = ? AND run_id = ?
		ORDER BY row_num
	`
	return queryRows(ctx, r.db, r.rebind(query), []any{datasetID, runID}, func(s rowScanner) (domain.DiagnosisSummary, error) {
		var d domain.DiagnosisSummary
		err := s.Scan(&d.ConditionGroup, &d.Admissions, &d.Readmissions30d, &d.AvgInpatientPaid,
			&d.ReadmissionRate30d, &d.PreventableEvents, &d.TotalEvents,
			&d.AvoidablePaid, &d.PreventableShare)
		return d, err
	})
}

// ListHospitalSummary returns the hospital summary rows of a run in table order.
func (r *SQLRepository) ListHospitalSummary(ctx context.Context, datasetID string, runID string) ([]domain.HospitalSummary, error) {
	if err := requireDataset(datasetID); err != nil {
		return nil, err
	}

	query := `
		SELECT hospital_id, admissions, readmissions_30d, avg_paid, readmission_rate_30d
		FROM hospital_summary
		WHERE dataset_id = ? AND run_id = ?
		ORDER BY row_num
	`
	return queryRows(ctx, r.db, r.rebind(query), []any{datasetID, runID}, func(s rowScanner) (domain.HospitalSummary, error) {
		var h domain.HospitalSummary
		err := s.Scan(&h.HospitalID, &h.Admissions, &h.Readmissions30d, &h.AvgPaid, &h.ReadmissionRate30d)
		return h, err
	})
}

const riskColumns = `member_id, age, sex, state, plan_type, sdi, chronic_count,
	prior_admissions_12m, ed_visits_12m, outpatient_visits_12m, no_followup_rate,
	readmission_risk_score, risk_tier`

func scanRisk(s rowScanner) (domain.RiskRecord, error) {
	var rec domain.RiskRecord
	var tier string
	err := s.Scan(&rec.MemberID, &rec.Age, &rec.Sex, &rec.State, &rec.PlanType, &rec.SDI, &rec.ChronicCount,
		&rec.PriorAdmissions12m, &rec.EDVisits12m, &rec.OutpatientVisits12m, &rec.NoFollowupRate,
		&rec.Score, &tier)
	rec.Tier = domain.RiskTier(tier)
	return rec, err
}

// ListRiskScores returns a run's risk scores in member order. A non-empty
// tier restricts the result to that tier.
func (r *SQLRepository) ListRiskScores(ctx context.Context, datasetID string, runID string, tier domain.RiskTier) ([]domain.RiskRecord, error) {
	if err := requireDataset(datasetID); err != nil {
		return nil, err
	}

	query := `SELECT ` + riskColumns + ` FROM patient_risk_scores WHERE dataset_id = ? AND run_id = ?`
	args := []any{datasetID, runID}
	if tier != "" {
		query += ` AND risk_tier = ?`
		args = append(args, string(tier))
	}
	query += ` ORDER BY row_num`

	return queryRows(ctx, r.db, r.rebind(query), args, scanRisk)
}

// GetRiskScore retrieves one member's risk score.
func (r *SQLRepository) GetRiskScore(ctx context.Context, datasetID string, runID string, memberID string) (*domain.RiskRecord, error) {
	if err := requireDataset(datasetID); err != nil {
		return nil, err
	}

	query := `SELECT ` + riskColumns + ` FROM patient_risk_scores WHERE dataset_id = ? AND run_id = ? AND member_id = ?`
	rec, err := scanRisk(r.db.QueryRowContext(ctx, r.rebind(query), datasetID, runID, memberID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListInterventionResults returns the ROI rows of a run in table order.
func (r *SQLRepository) ListInterventionResults(ctx context.Context, datasetID string, runID string) ([]domain.InterventionResult, error) {
	if err := requireDataset(datasetID); err != nil {
		return nil, err
	}

	query := `
		SELECT intervention, expected_readmission_reduction_pct, avoidable_paid_baseline,
			   estimated_savings, estimated_program_cost, estimated_net_savings, roi
		FROM intervention_roi
		WHERE dataset_id = ? AND run_id = ?
		ORDER BY row_num
	`
	return queryRows(ctx, r.db, r.rebind(query), []any{datasetID, runID}, func(s rowScanner) (domain.InterventionResult, error) {
		var res domain.InterventionResult
		err := s.Scan(&res.Intervention, &res.ExpectedReductionPct, &res.AvoidablePaidBaseline,
			&res.EstimatedSavings, &res.EstimatedProgramCost, &res.EstimatedNetSavings, &res.ROI)
		return res, err
	})
}

// SaveScenario stores an intervention program, replacing one with the same name.
func (r *SQLRepository) SaveScenario(ctx context.Context, datasetID string, scenario *domain.Intervention) error {
	if err := requireDataset(datasetID); err != nil {
		return err
	}
	if scenario.Name == "" {
		return fmt.Errorf("%w: scenario name is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO scenarios (dataset_id, name, reduction_pct, cost_per_member, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(dataset_id, name) DO UPDATE SET
			reduction_pct = excluded.reduction_pct,
			cost_per_member = excluded.cost_per_member,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		datasetID, scenario.Name, scenario.ReductionPct, scenario.CostPerMember, now, now)
	return err
}

// ListScenarios returns a dataset's intervention programs ordered by name.
func (r *SQLRepository) ListScenarios(ctx context.Context, datasetID string) ([]domain.Intervention, error) {
	if err := requireDataset(datasetID); err != nil {
		return nil, err
	}

	query := `
		SELECT name, reduction_pct, cost_per_member
		FROM scenarios
		WHERE dataset_id = ?
		ORDER BY name
	`
	return queryRows(ctx, r.db, r.rebind(query), []any{datasetID}, func(s rowScanner) (domain.Intervention, error) {
		var in domain.Intervention
		err := s.Scan(&in.Name, &in.ReductionPct, &in.CostPerMember)
		return in, err
	})
}

// DeleteScenario removes an intervention program.
func (r *SQLRepository) DeleteScenario(ctx context.Context, datasetID string, name string) error {
	if err := requireDataset(datasetID); err != nil {
		return err
	}

	query := `DELETE FROM scenarios WHERE dataset_id = ? AND name = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), datasetID, name)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" && r.driver != "pgx" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
