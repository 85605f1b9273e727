// Readmit - Readmission analytics for health plans.
// Copyright (c) 2025 opensource.health
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opensource-health/readmit/internal/api"
	"github.com/opensource-health/readmit/internal/bus"
	"github.com/opensource-health/readmit/internal/cache"
	"github.com/opensource-health/readmit/internal/config"
	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/ingest"
	"github.com/opensource-health/readmit/internal/pipeline"
	"github.com/opensource-health/readmit/internal/repository"
	"github.com/opensource-health/readmit/internal/roi"
	"github.com/opensource-health/readmit/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configPath string
	cfg        *domain.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "readmit",
		Short:         "Readmission analytics: linked events, risk scores and intervention ROI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			setupLogger(cfg.Logging)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default ./readmit.yaml)")

	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scenariosCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(lc domain.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	if os.Getenv("READMIT_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if lc.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// pipelineOptions turns the pipeline config into run options.
// scenarioFile overrides the configured scenario file.
func pipelineOptions(pc domain.PipelineConfig, scenarioFile string) (pipeline.Options, error) {
	opts := pipeline.Options{
		Workers:      pc.Workers,
		EDCodes:      pc.EDCodes,
		EDExpression: pc.EDExpression,
	}

	if pc.AsOf != "" {
		asOf, err := domain.ParseDate(pc.AsOf)
		if err != nil {
			return opts, fmt.Errorf("invalid as-of date %q: %w", pc.AsOf, err)
		}
		opts.AsOf = &asOf
	}

	if scenarioFile == "" {
		scenarioFile = pc.ScenarioFile
	}
	if scenarioFile != "" {
		scenarios, err := roi.LoadScenarios(scenarioFile)
		if err != nil {
			return opts, err
		}
		opts.Scenarios = scenarios
	}
	return opts, nil
}

func buildCmd() *cobra.Command {
	var (
		scenarioFile string
		datasetID    string
		noAudit      bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the processed tables from a raw data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := cfg.Pipeline
			if v, _ := cmd.Flags().GetString("raw-dir"); v != "" {
				pc.RawDir = v
			}
			if v, _ := cmd.Flags().GetString("out-dir"); v != "" {
				pc.OutDir = v
			}
			if v, _ := cmd.Flags().GetString("as-of"); v != "" {
				pc.AsOf = v
			}
			if v, _ := cmd.Flags().GetStringSlice("format"); len(v) > 0 {
				pc.Formats = v
			}
			if noAudit {
				pc.IncludeAudit = false
			}
			if err := config.Validate(&domain.Config{Server: cfg.Server, Pipeline: pc, Logging: cfg.Logging}); err != nil {
				return err
			}

			opts, err := pipelineOptions(pc, scenarioFile)
			if err != nil {
				return err
			}

			// A dataset id persists the run; without one the build only exports.
			var repo domain.Repository
			if datasetID != "" {
				r, err := repository.New(cfg.Repository)
				if err != nil {
					return fmt.Errorf("initialize repository: %w", err)
				}
				defer r.Close()
				repo = r
			} else {
				datasetID = "local"
			}

			localBus := bus.NewChannelBus(10)
			defer localBus.Close()

			w := worker.NewWorker(localBus, repo, ingest.LoadDir, worker.Config{
				Options:      opts,
				OutDir:       pc.OutDir,
				Formats:      pc.Formats,
				IncludeAudit: pc.IncludeAudit,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			run, err := w.Process(ctx, domain.RunRequest{
				RunID:     uuid.New().String(),
				DatasetID: datasetID,
				RawDir:    pc.RawDir,
			})
			if err != nil {
				return err
			}

			fmt.Printf("run %s %s (as of %s)\n", run.ID, run.Status, run.AsOfDate)
			fmt.Printf("  admissions:   %d\n", run.Stats.Admissions)
			fmt.Printf("  readmissions: %d\n", run.Stats.Readmissions)
			fmt.Printf("  events:       %d (dropped %d)\n", run.Stats.Events, run.Stats.DroppedEvents)
			fmt.Printf("  high risk:    %d\n", run.Stats.HighRiskMembers)
			fmt.Printf("  output:       %s\n", pc.OutDir)
			return nil
		},
	}

	cmd.Flags().String("raw-dir", "", "Directory holding members.csv, admissions.csv and claims.csv")
	cmd.Flags().String("out-dir", "", "Directory receiving the processed tables")
	cmd.Flags().String("as-of", "", "As-of date (YYYY-MM-DD); defaults to the latest admit date")
	cmd.Flags().StringSlice("format", nil, "Export formats: csv, parquet")
	cmd.Flags().StringVar(&scenarioFile, "scenarios", "", "YAML or JSON intervention list")
	cmd.Flags().StringVar(&datasetID, "dataset", "", "Persist the run under this dataset id")
	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "Skip admissions_enriched and readmissions_events")
	return cmd
}

func serveCmd() *cobra.Command {
	var datasets []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the run worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), datasets)
		},
	}
	cmd.Flags().StringSliceVar(&datasets, "datasets", nil, "Datasets the worker builds runs for (default all)")
	return cmd
}

func serve(parent context.Context, datasets []string) error {
	slog.Info("starting readmit",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"profile", cfg.Profile,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	opts, err := pipelineOptions(cfg.Pipeline, "")
	if err != nil {
		return err
	}

	runWorker := worker.NewWorker(busImpl, repo, ingest.LoadDir, worker.Config{
		DatasetIDs:   datasets,
		Options:      opts,
		OutDir:       cfg.Pipeline.OutDir,
		Formats:      cfg.Pipeline.Formats,
		IncludeAudit: cfg.Pipeline.IncludeAudit,
	})
	if err := runWorker.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, cfg.Pipeline, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("readmit is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err = <-errCh:
		slog.Error("server failed", "error", err)
	}

	// Stop worker first
	if stopErr := runWorker.Stop(); stopErr != nil {
		slog.Error("failed to stop worker", "error", stopErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("server forced to shutdown", "error", shutdownErr)
	}

	slog.Info("readmit shutdown complete")
	return err
}

func scenariosCmd() *cobra.Command {
	var (
		file   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Print the resolved intervention list",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := pipelineOptions(domain.PipelineConfig{ScenarioFile: cfg.Pipeline.ScenarioFile}, file)
			if err != nil {
				return err
			}
			scenarios := opts.Scenarios
			if scenarios == nil {
				scenarios = roi.DefaultScenarios()
			}
			if err := roi.Validate(scenarios); err != nil {
				return err
			}

			switch format {
			case "yaml":
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(scenarios)
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(scenarios)
			default:
				return fmt.Errorf("unsupported output format %q", format)
			}
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML or JSON intervention list")
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "Output format: yaml or json")
	return cmd
}
