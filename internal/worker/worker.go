// Package worker builds requested runs asynchronously from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/export"
	"github.com/opensource-health/readmit/internal/pipeline"
	"github.com/opensource-health/readmit/internal/repository"
)

// Loader reads the raw tables of a dataset from a directory.
type Loader func(rawDir string) (*domain.Dataset, error)

// Worker consumes run requests and persists the built tables.
type Worker struct {
	bus  domain.EventBus
	repo domain.Repository
	load Loader
	cfg  Config

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// DatasetIDs is the list of datasets to serve (empty = all via wildcard)
	DatasetIDs []string

	// Options are the base pipeline options for every run.
	Options pipeline.Options

	// OutDir receives exported tables when a request names none.
	OutDir       string
	Formats      []string
	IncludeAudit bool
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, load Loader, cfg Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		load:   load,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to run requests.
func (w *Worker) Start() error {
	datasets := w.cfg.DatasetIDs
	if len(datasets) == 0 {
		datasets = []string{domain.AllDatasets}
	}

	for _, datasetID := range datasets {
		sub, err := w.bus.Subscribe(w.ctx, datasetID, domain.TopicRunRequested, w.handleMessage)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", datasetID, err)
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()

		slog.Info("run worker started",
			"dataset_id", datasetID,
			"topic", domain.TopicRunRequested,
		)
	}
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	var req domain.RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse run request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.DatasetID == "" {
		req.DatasetID = msg.DatasetID
	}

	_, err := w.Process(ctx, req)
	return err
}

// Process builds one run: load, pipeline, persist, export, announce.
// A failed build is recorded on the run and announced on TopicRunFailed.
func (w *Worker) Process(ctx context.Context, req domain.RunRequest) (*domain.Run, error) {
	if req.DatasetID == "" {
		return nil, fmt.Errorf("%w: datasetID is required", repository.ErrInvalidInput)
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	run, err := w.ensureRun(ctx, req)
	if err != nil {
		return nil, err
	}

	slog.Info("building run",
		"run_id", run.ID,
		"dataset_id", req.DatasetID,
		"raw_dir", req.RawDir,
	)

	res, files, err := w.build(ctx, req)
	if err != nil {
		w.fail(ctx, run, err)
		return run, err
	}

	run.Stats = res.Stats
	if w.repo != nil {
		if err := w.repo.CompleteRun(ctx, req.DatasetID, run, &res.Tables); err != nil {
			w.fail(ctx, run, err)
			return run, err
		}
	} else {
		run.Status = domain.RunStatusCompleted
		run.AsOfDate = res.Tables.KPI.AsOfDate
	}

	w.publish(ctx, domain.TopicRunCompleted, domain.RunEvent{
		RunID:     run.ID,
		DatasetID: req.DatasetID,
		Status:    run.Status,
		AsOfDate:  run.AsOfDate,
		Files:     files,
		Stats:     run.Stats,
	})

	slog.Info("run completed",
		"run_id", run.ID,
		"dataset_id", req.DatasetID,
		"events", run.Stats.Events,
		"high_risk_members", run.Stats.HighRiskMembers,
		"duration_ms", run.Stats.DurationMs,
	)
	return run, nil
}

// ensureRun returns the stored run for req, creating it when the request
// did not come through the API.
func (w *Worker) ensureRun(ctx context.Context, req domain.RunRequest) (*domain.Run, error) {
	run := &domain.Run{ID: req.RunID, DatasetID: req.DatasetID, RawDir: req.RawDir, Status: domain.RunStatusPending}
	if w.repo == nil {
		return run, nil
	}

	existing, err := w.repo.GetRun(ctx, req.DatasetID, req.RunID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err := w.repo.CreateRun(ctx, req.DatasetID, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (w *Worker) build(ctx context.Context, req domain.RunRequest) (*pipeline.Result, []string, error) {
	opts := w.cfg.Options
	if req.AsOf != "" {
		asOf, err := domain.ParseDate(req.AsOf)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid as-of date %q: %w", req.AsOf, err)
		}
		opts.AsOf = &asOf
	}
	if opts.Scenarios == nil && w.repo != nil {
		stored, err := w.repo.ListScenarios(ctx, req.DatasetID)
		if err != nil {
			return nil, nil, err
		}
		if len(stored) > 0 {
			opts.Scenarios = stored
		}
	}

	ds, err := w.load(req.RawDir)
	if err != nil {
		return nil, nil, err
	}

	res, err := pipeline.Run(ctx, ds, opts)
	if err != nil {
		return nil, nil, err
	}

	outDir := req.OutDir
	if outDir == "" {
		outDir = w.cfg.OutDir
	}
	if outDir == "" {
		return res, nil, nil
	}
	files, err := export.Write(outDir, &res.Tables, w.cfg.Formats, w.cfg.IncludeAudit)
	if err != nil {
		return nil, nil, err
	}
	return res, files, nil
}

func (w *Worker) fail(ctx context.Context, run *domain.Run, cause error) {
	slog.Error("run failed",
		"run_id", run.ID,
		"dataset_id", run.DatasetID,
		"error", cause,
	)

	run.Status = domain.RunStatusFailed
	run.Error = cause.Error()
	if w.repo != nil {
		if err := w.repo.FailRun(ctx, run.DatasetID, run.ID, run.Error); err != nil {
			slog.Error("failed to record run failure",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	w.publish(ctx, domain.TopicRunFailed, domain.RunEvent{
		RunID:     run.ID,
		DatasetID: run.DatasetID,
		Status:    run.Status,
		Error:     run.Error,
	})
}

func (w *Worker) publish(ctx context.Context, topic string, ev domain.RunEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode run event", "run_id", ev.RunID, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, ev.DatasetID, topic, payload); err != nil {
		slog.Error("failed to publish run event",
			"run_id", ev.RunID,
			"topic", topic,
			"error", err,
		)
	}
}

// Stop gracefully stops all workers and waits for in-flight runs.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("timed out waiting for in-flight runs")
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
