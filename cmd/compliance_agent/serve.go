package main

import (
	"context"

	"github.com/jonathan/plan-compliance/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server exposing reference processing, plan analysis, reports and reconciliation.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	b, err := openBackend(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	srv := server.New(server.Config{Addr: cfg.Addr}, b.orchestrator, logger)
	return srv.Start()
}
