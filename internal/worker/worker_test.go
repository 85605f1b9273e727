package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-health/readmit/internal/bus"
	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/repository"
)

func day(s string) time.Time {
	t, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixtureDataset() *domain.Dataset {
	paid := func(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }
	return &domain.Dataset{
		Members: []domain.Member{
			{MemberID: "M1", Age: 70, Sex: "F", State: "CA", PlanType: "MA", SDI: 0.5, ChronicCount: 3},
		},
		Admissions: []domain.Admission{
			{AdmissionID: "A1", MemberID: "M1", HospitalID: "H1", AdmitDate: day("2024-01-01"), DischargeDate: day("2024-01-05"), ConditionGroup: "CHF", PreventableProxy: 1, PaidAmount: paid(10000)},
			{AdmissionID: "A2", MemberID: "M1", HospitalID: "H1", AdmitDate: day("2024-01-20"), DischargeDate: day("2024-01-23"), ConditionGroup: "CHF", PaidAmount: paid(8000)},
		},
	}
}

func staticLoader(ds *domain.Dataset) Loader {
	return func(string) (*domain.Dataset, error) { return ds, nil }
}

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// listen collects run events published on topic for any dataset.
func listen(t *testing.T, eventBus domain.EventBus, topic string) <-chan domain.RunEvent {
	t.Helper()
	events := make(chan domain.RunEvent, 10)
	_, err := eventBus.Subscribe(context.Background(), domain.AllDatasets, topic, func(ctx context.Context, msg *domain.Message) error {
		var ev domain.RunEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		events <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return events
}

func waitEvent(t *testing.T, events <-chan domain.RunEvent) domain.RunEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for run event")
	}
	return domain.RunEvent{}
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, nil, staticLoader(fixtureDataset()), Config{DatasetIDs: []string{"ds-1", "ds-2"}})
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRequestedRun", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()
		repo := newRepo(t)
		outDir := t.TempDir()

		completed := listen(t, eventBus, domain.TopicRunCompleted)

		w := NewWorker(eventBus, repo, staticLoader(fixtureDataset()), Config{OutDir: outDir, IncludeAudit: true})
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		ctx := context.Background()
		if err := repo.CreateRun(ctx, "ds-1", &domain.Run{ID: "run-1", RawDir: "raw"}); err != nil {
			t.Fatal(err)
		}
		payload, _ := json.Marshal(domain.RunRequest{RunID: "run-1", RawDir: "raw"})
		if err := eventBus.Publish(ctx, "ds-1", domain.TopicRunRequested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		ev := waitEvent(t, completed)
		if ev.RunID != "run-1" || ev.DatasetID != "ds-1" || ev.Status != domain.RunStatusCompleted {
			t.Errorf("unexpected event: %+v", ev)
		}
		if len(ev.Files) != 7 {
			t.Errorf("expected 7 exported files, got %d", len(ev.Files))
		}
		if _, err := os.Stat(filepath.Join(outDir, "kpi_summary.csv")); err != nil {
			t.Errorf("kpi_summary.csv not written: %v", err)
		}

		run, err := repo.GetRun(ctx, "ds-1", "run-1")
		if err != nil {
			t.Fatal(err)
		}
		if run.Status != domain.RunStatusCompleted || run.AsOfDate != "2024-01-20" || run.Stats.Events != 1 {
			t.Errorf("unexpected run: %+v", run)
		}

		kpi, err := repo.GetKPI(ctx, "ds-1", "run-1")
		if err != nil {
			t.Fatal(err)
		}
		if kpi.PreventableReadmissionPaid != 8000 {
			t.Errorf("preventable paid = %v, want 8000", kpi.PreventableReadmissionPaid)
		}
	})
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesMissingRun", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()
		repo := newRepo(t)

		w := NewWorker(eventBus, repo, staticLoader(fixtureDataset()), Config{})
		run, err := w.Process(ctx, domain.RunRequest{DatasetID: "ds-1", RawDir: "raw", AsOf: "2024-01-10"})
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if run.ID == "" {
			t.Fatal("expected a generated run id")
		}

		stored, err := repo.GetRun(ctx, "ds-1", run.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.AsOfDate != "2024-01-10" {
			t.Errorf("as-of = %s, want 2024-01-10", stored.AsOfDate)
		}
	})

	t.Run("UsesStoredScenarios", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()
		repo := newRepo(t)
		if err := repo.SaveScenario(ctx, "ds-1", &domain.Intervention{Name: "Home visit", ReductionPct: 0.2, CostPerMember: 100}); err != nil {
			t.Fatal(err)
		}

		w := NewWorker(eventBus, repo, staticLoader(fixtureDataset()), Config{})
		run, err := w.Process(ctx, domain.RunRequest{DatasetID: "ds-1"})
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}

		results, err := repo.ListInterventionResults(ctx, "ds-1", run.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 || results[0].Intervention != "Home visit" || results[0].EstimatedSavings != 1600 {
			t.Errorf("unexpected results: %+v", results)
		}
	})

	t.Run("LoadFailure", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()
		repo := newRepo(t)
		failed := listen(t, eventBus, domain.TopicRunFailed)

		loadErr := &domain.SchemaError{Table: "claims", Column: "cpt", Reason: "required column missing"}
		w := NewWorker(eventBus, repo, func(string) (*domain.Dataset, error) { return nil, loadErr }, Config{})

		run, err := w.Process(ctx, domain.RunRequest{DatasetID: "ds-1", RunID: "run-bad"})
		if !errors.Is(err, domain.ErrSchema) {
			t.Fatalf("expected schema error, got %v", err)
		}
		if run.Status != domain.RunStatusFailed {
			t.Errorf("status = %s, want failed", run.Status)
		}

		ev := waitEvent(t, failed)
		if ev.RunID != "run-bad" || ev.Error == "" {
			t.Errorf("unexpected event: %+v", ev)
		}

		stored, err := repo.GetRun(ctx, "ds-1", "run-bad")
		if err != nil {
			t.Fatal(err)
		}
		if stored.Status != domain.RunStatusFailed || stored.Error != loadErr.Error() {
			t.Errorf("unexpected stored run: %+v", stored)
		}
	})

	t.Run("InvalidAsOf", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, nil, staticLoader(fixtureDataset()), Config{})
		if _, err := w.Process(ctx, domain.RunRequest{DatasetID: "ds-1", AsOf: "01/10/2024"}); err == nil {
			t.Error("expected error for bad as-of date")
		}
	})

	t.Run("DatasetRequired", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, nil, staticLoader(fixtureDataset()), Config{})
		if _, err := w.Process(ctx, domain.RunRequest{}); !errors.Is(err, repository.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
