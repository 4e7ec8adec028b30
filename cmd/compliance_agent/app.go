package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jonathan/plan-compliance/internal/analysis"
	"github.com/jonathan/plan-compliance/internal/config"
	"github.com/jonathan/plan-compliance/internal/db"
	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/observability"
	"github.com/jonathan/plan-compliance/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newLLMClient builds the model client used by every command. Tests replace it.
var newLLMClient = func(ctx context.Context, cfg config.Config, log *zap.Logger) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s not set (set it in the environment or the config file)", config.EnvAPIKey)
	}
	inner, err := llm.NewClient(ctx, cfg.LLMConfig(), cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return llm.NewResilientClient(inner, cfg.ResilienceConfig(), log), nil
}

// resolveConfig layers the config file, environment and defaults.
func resolveConfig() (config.Config, error) {
	cfg, err := config.Resolve(configPath, os.Getenv)
	if err != nil {
		return config.Config{}, err
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func connectDB(ctx context.Context, cfg config.Config) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%s not set (set it in the environment or the config file)", config.EnvDatabaseURL)
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

// openFileStore returns nil when no storage root is configured.
func openFileStore(cfg config.Config) (*storage.FilesystemStore, error) {
	if cfg.StorageRoot == "" {
		return nil, nil
	}
	return storage.NewFilesystemStore(cfg.StorageRoot, logger)
}

// backend is the database-backed orchestrator shared by the online commands.
type backend struct {
	orchestrator *analysis.Orchestrator
	db           *db.DB
	client       llm.Client
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	database, err := connectDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stores := analysis.Stores{Documents: database, Requirements: database, Reports: database}
	files, err := openFileStore(cfg)
	if err != nil {
		database.Close()
		return nil, err
	}
	if files != nil {
		stores.Files = files
	}

	client, err := newLLMClient(ctx, cfg, logger)
	if err != nil {
		database.Close()
		return nil, err
	}

	orchestrator, err := analysis.NewOrchestrator(stores, client, cfg.AnalysisConfig(), logger)
	if err != nil {
		_ = client.Close()
		database.Close()
		return nil, err
	}
	return &backend{orchestrator: orchestrator, db: database, client: client}, nil
}

func (b *backend) Close() {
	_ = b.client.Close()
	b.db.Close()
}

// writeOutput writes v as indented JSON to path, or to w when path is empty.
func writeOutput(w io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	if path == "" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// emit prints v as JSON when --json or --out is given, otherwise in human-readable form.
func emit(cmd *cobra.Command, out string, v any, print func(*observability.Printer)) error {
	if out != "" || jsonOutput {
		return writeOutput(cmd.OutOrStdout(), out, v)
	}
	print(observability.NewPrinter(cmd.OutOrStdout()))
	return nil
}
