package repository

// Schema definitions for the readmit database.
// Compatible with SQLite and PostgreSQL. Each entry is a single statement.

var schemaRuns = []string{`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    dataset_id TEXT NOT NULL,
    status TEXT NOT NULL,
    as_of_date TEXT,
    raw_dir TEXT,
    error TEXT,
    stats TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset_id, created_at)`,
}

var schemaKPI = []string{`
CREATE TABLE IF NOT EXISTS kpi_summary (
    run_id TEXT PRIMARY KEY,
    dataset_id TEXT NOT NULL,
    as_of_date TEXT NOT NULL,
    total_admissions INTEGER NOT NULL,
    readmissions_30d INTEGER NOT NULL,
    readmission_rate_30d DOUBLE PRECISION NOT NULL,
    total_inpatient_paid DOUBLE PRECISION NOT NULL,
    preventable_readmission_paid DOUBLE PRECISION NOT NULL,
    avg_readmission_paid DOUBLE PRECISION NOT NULL,
    high_risk_members INTEGER NOT NULL
)`,
}

var schemaDiagnosis = []string{`
CREATE TABLE IF NOT EXISTS diagnosis_summary (
    run_id TEXT NOT NULL,
    dataset_id TEXT NOT NULL,
    row_num INTEGER NOT NULL,
    primary_condition_group TEXT NOT NULL,
    admissions INTEGER NOT NULL,
    readmissions_30d INTEGER NOT NULL,
    avg_inpatient_paid DOUBLE PRECISION NOT NULL,
    readmission_rate_30d DOUBLE PRECISION NOT NULL,
    preventable_readmission_events INTEGER NOT NULL,
    total_readmission_events INTEGER NOT NULL,
    avoidable_paid DOUBLE PRECISION NOT NULL,
    preventable_share_of_readmissions DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, row_num)
)`,
	`CREATE INDEX IF NOT EXISTS idx_diagnosis_dataset ON diagnosis_summary(dataset_id, run_id)`,
}

var schemaHospitals = []string{`
CREATE TABLE IF NOT EXISTS hospital_summary (
    run_id TEXT NOT NULL,
    dataset_id TEXT NOT NULL,
    row_num INTEGER NOT NULL,
    hospital_id TEXT NOT NULL,
    admissions INTEGER NOT NULL,
    readmissions_30d INTEGER NOT NULL,
    avg_paid DOUBLE PRECISION NOT NULL,
    readmission_rate_30d DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, row_num)
)`,
	`CREATE INDEX IF NOT EXISTS idx_hospital_dataset ON hospital_summary(dataset_id, run_id)`,
}

// schemaRisk holds patient_risk_scores rows; member_id is unique per run.
var schemaRisk = []string{`
CREATE TABLE IF NOT EXISTS patient_risk_scores (
    run_id TEXT NOT NULL,
    dataset_id TEXT NOT NULL,
    row_num INTEGER NOT NULL,
    member_id TEXT NOT NULL,
    age INTEGER NOT NULL,
    sex TEXT NOT NULL,
    state TEXT NOT NULL,
    plan_type TEXT NOT NULL,
    sdi DOUBLE PRECISION NOT NULL,
    chronic_count INTEGER NOT NULL,
    prior_admissions_12m INTEGER NOT NULL,
    ed_visits_12m INTEGER NOT NULL,
    outpatient_visits_12m INTEGER NOT NULL,
    no_followup_rate DOUBLE PRECISION NOT NULL,
    readmission_risk_score DOUBLE PRECISION NOT NULL,
    risk_tier TEXT NOT NULL,
    PRIMARY KEY (run_id, member_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_tier ON patient_risk_scores(dataset_id, run_id, risk_tier)`,
}

var schemaInterventions = []string{`
CREATE TABLE IF NOT EXISTS intervention_roi (
    run_id TEXT NOT NULL,
    dataset_id TEXT NOT NULL,
    row_num INTEGER NOT NULL,
    intervention TEXT NOT NULL,
    expected_readmission_reduction_pct DOUBLE PRECISION NOT NULL,
    avoidable_paid_baseline DOUBLE PRECISION NOT NULL,
    estimated_savings DOUBLE PRECISION NOT NULL,
    estimated_program_cost DOUBLE PRECISION NOT NULL,
    estimated_net_savings DOUBLE PRECISION NOT NULL,
    roi DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, row_num)
)`,
}

// schemaScenarios stores intervention programs per dataset.
var schemaScenarios = []string{`
CREATE TABLE IF NOT EXISTS scenarios (
    dataset_id TEXT NOT NULL,
    name TEXT NOT NULL,
    reduction_pct DOUBLE PRECISION NOT NULL,
    cost_per_member DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (dataset_id, name)
)`,
}

// runTables lists the per-run tables cleared before a run's rows are written.
var runTables = []string{
	"kpi_summary", "diagnosis_summary", "hospital_summary",
	"patient_risk_scores", "intervention_roi",
}

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	var all []string
	for _, group := range [][]string{
		schemaRuns, schemaKPI, schemaDiagnosis, schemaHospitals,
		schemaRisk, schemaInterventions, schemaScenarios,
	} {
		all = append(all, group...)
	}
	return all
}
