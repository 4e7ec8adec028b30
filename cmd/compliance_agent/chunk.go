package main

import (
	"fmt"
	"os"

	"github.com/jonathan/plan-compliance/internal/chunking"
	"github.com/jonathan/plan-compliance/internal/ingestion"
	"github.com/jonathan/plan-compliance/internal/observability"
	"github.com/spf13/cobra"
)

var (
	chunkMaxSize int
	chunkOverlap int
	chunkOutput  string
)

var chunkCmd = &cobra.Command{
	Use:   "chunk <file>",
	Short: "Show how a document would be split for extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunk,
}

func init() {
	chunkCmd.Flags().IntVar(&chunkMaxSize, "max-size", 0, "Maximum chunk size in bytes (default from config)")
	chunkCmd.Flags().IntVar(&chunkOverlap, "overlap", -1, "Overlap in bytes (default from config)")
	chunkCmd.Flags().StringVarP(&chunkOutput, "out", "o", "", "Write the chunks as JSON to this file")
	rootCmd.AddCommand(chunkCmd)
}

// chunkFile extracts the text of a raw file and splits it.
func chunkFile(path string, opts chunking.Options) ([]chunking.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	text, err := ingestion.ExtractText(data, path, "")
	if err != nil {
		return nil, err
	}
	return chunking.Split(text, opts), nil
}

func runChunk(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	opts := cfg.Chunking
	if chunkMaxSize > 0 {
		opts.MaxChunkSize = chunkMaxSize
	}
	if chunkOverlap >= 0 {
		opts.ChunkOverlap = chunkOverlap
	}

	chunks, err := chunkFile(args[0], opts)
	if err != nil {
		return err
	}
	return emit(cmd, chunkOutput, chunks, func(p *observability.Printer) {
		p.PrintChunks(chunks)
	})
}
