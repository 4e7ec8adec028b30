package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonathan/plan-compliance/internal/analysis"
	"github.com/jonathan/plan-compliance/internal/chunking"
	"github.com/jonathan/plan-compliance/internal/config"
	"github.com/jonathan/plan-compliance/internal/ingestion"
	"github.com/jonathan/plan-compliance/internal/observability"
	"github.com/jonathan/plan-compliance/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	uploadType    string
	uploadID      string
	uploadSubtype string
	uploadRawOnly bool
	uploadOutput  string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Store a plan or reference document",
	Long: `Extract the text of a plain text, Markdown or HTML file and store it as a
document. Plans are stored with their chunks; reference documents are chunked
again when processed. With a configured storage root the raw file is kept too.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadType, "type", "t", types.DocumentTypePlan, "Document type: plan or reference")
	uploadCmd.Flags().StringVar(&uploadID, "id", "", "Document ID (default derived from the content hash)")
	uploadCmd.Flags().StringVar(&uploadSubtype, "subtype", "", "Optional document subtype")
	uploadCmd.Flags().BoolVar(&uploadRawOnly, "raw-only", false, "Store only the raw file, no chunks")
	uploadCmd.Flags().StringVarP(&uploadOutput, "out", "o", "", "Write the stored document as JSON to this file")
	rootCmd.AddCommand(uploadCmd)
}

// buildDocument ingests a raw file into a document record and its chunks.
func buildDocument(data []byte, filename, docType, id string, opts chunking.Options) (*types.Document, []types.DocumentChunk, error) {
	if docType != types.DocumentTypePlan && docType != types.DocumentTypeReference {
		return nil, nil, fmt.Errorf("invalid document type %q (want %s or %s)", docType, types.DocumentTypePlan, types.DocumentTypeReference)
	}
	text, meta, err := ingestion.Ingest(data, filename, "")
	if err != nil {
		return nil, nil, err
	}
	if id == "" {
		id = meta.ShortID()
	}

	doc := &types.Document{
		ID:    id,
		Type:  docType,
		Title: meta.Title,
		Metadata: map[string]any{
			"filename": meta.Filename,
			"format":   string(meta.Format),
			"hash":     meta.Hash,
		},
	}
	return doc, analysis.ChunkText(text, opts), nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	doc, chunks, err := buildDocument(data, path, uploadType, uploadID, cfg.Chunking)
	if err != nil {
		return err
	}
	doc.Subtype = uploadSubtype

	files, err := openFileStore(cfg)
	if err != nil {
		return err
	}
	if uploadRawOnly && files == nil {
		return fmt.Errorf("--raw-only needs a storage root (set %s)", config.EnvStorageRoot)
	}

	ctx := context.Background()
	if files != nil {
		rawPath := filepath.ToSlash(filepath.Join(doc.ID, filepath.Base(path)))
		if err := files.UploadRawFile(ctx, cfg.DefaultBucket, rawPath, data); err != nil {
			return err
		}
		doc.Metadata[types.MetadataBucket] = cfg.DefaultBucket
		doc.Metadata[types.MetadataFilePath] = rawPath
	}

	database, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	if uploadRawOnly {
		chunks = nil
	}
	if err := database.ReplaceDocumentChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("failed to save chunks: %w", err)
	}
	logger.Info("document stored",
		zap.String("document_id", doc.ID),
		zap.String("type", doc.Type),
		zap.Int("chunks", len(chunks)),
	)

	return emit(cmd, uploadOutput, doc, func(*observability.Printer) {
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s %q as %s (%d chunks)\n", doc.Type, doc.Title, doc.ID, len(chunks)) //nolint:errcheck
	})
}
