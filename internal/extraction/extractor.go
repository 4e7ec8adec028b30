// Package extraction turns reference document chunks into normalized requirements using the language model.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/prompts"
	"github.com/jonathan/plan-compliance/internal/schemas"
	"github.com/jonathan/plan-compliance/internal/types"
)

// DefaultConcurrency is the number of chunks sent to the model at once.
const DefaultConcurrency = 4

var errNoUsableItem = errors.New("every item was malformed")

// DocumentMetadata identifies the reference document being extracted.
type DocumentMetadata struct {
	DocumentID string
	Title      string
	Subtype    string
}

// Result is the outcome of extracting one document.
type Result struct {
	Requirements []types.Requirement
	// BySection counts requirements per section after deduplication
	BySection map[string]int
	// FailedChunks counts chunks whose call failed or whose output was unusable
	FailedChunks int
	// DroppedItems counts individual malformed items that were discarded
	DroppedItems int
}

// rawRequirement is one item of the extraction response.
type rawRequirement struct {
	Text          string   `json:"text"`
	Section       string   `json:"section"`
	Importance    string   `json:"importance"`
	SourceSection string   `json:"source_section"`
	Keywords      []string `json:"keywords"`
}

// Extractor sends document chunks to the model and normalizes what comes back.
type Extractor struct {
	client      llm.Client
	logger      *zap.Logger
	concurrency int
}

// NewExtractor creates an extractor. Concurrency below 1 uses DefaultConcurrency.
func NewExtractor(client llm.Client, logger *zap.Logger, concurrency int) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Extractor{client: client, logger: logger, concurrency: concurrency}
}

type chunkOutcome struct {
	requirements []types.Requirement
	dropped      int
	err          error
}

// Extract processes every chunk and returns the deduplicated requirements in
// chunk order. A failing chunk contributes nothing. When every chunk failed
// because of the model gateway or an unusable reply, the first such error is
// returned together with the empty result.
func (e *Extractor) Extract(ctx context.Context, chunks []types.DocumentChunk, meta DocumentMetadata) (*Result, error) {
	outcomes := make([]chunkOutcome, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range chunks {
		g.Go(func() error {
			reqs, dropped, err := e.extractChunk(gctx, chunks[i], meta)
			outcomes[i] = chunkOutcome{requirements: reqs, dropped: dropped, err: err}
			if errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{}
	var all []types.Requirement
	var firstGatewayErr error
	for i, o := range outcomes {
		result.DroppedItems += o.dropped
		if o.err != nil {
			result.FailedChunks++
			if firstGatewayErr == nil && llm.IsGatewayError(o.err) {
				firstGatewayErr = o.err
			}
			e.logger.Warn("chunk extraction failed",
				zap.String("document_id", meta.DocumentID),
				zap.Int("chunk", i),
				zap.Error(o.err),
			)
			continue
		}
		all = append(all, o.requirements...)
	}

	result.Requirements = Deduplicate(all)
	result.BySection = BySection(result.Requirements)

	e.logger.Info("requirements extracted",
		zap.String("document_id", meta.DocumentID),
		zap.Int("chunks", len(chunks)),
		zap.Int("failed_chunks", result.FailedChunks),
		zap.Int("requirements", len(result.Requirements)),
	)

	if len(chunks) > 0 && result.FailedChunks == len(chunks) && firstGatewayErr != nil {
		return result, fmt.Errorf("every chunk failed: %w", firstGatewayErr)
	}
	return result, nil
}

func (e *Extractor) extractChunk(ctx context.Context, chunk types.DocumentChunk, meta DocumentMetadata) ([]types.Requirement, int, error) {
	if strings.TrimSpace(chunk.Content) == "" {
		return nil, 0, nil
	}

	sectionPath, _ := chunk.Metadata[types.ChunkMetadataSectionPath].(string)
	if sectionPath == "" {
		sectionPath = "(none)"
	}
	subtype := meta.Subtype
	if subtype == "" {
		subtype = "reference standard"
	}

	userPrompt, err := prompts.Render(prompts.ExtractionFile, prompts.KeyUser, map[string]string{
		"DocumentTitle":   meta.Title,
		"DocumentSubtype": subtype,
		"SectionPath":     sectionPath,
		"Content":         chunk.Content,
	})
	if err != nil {
		return nil, 0, err
	}

	text, err := e.client.Generate(ctx, llm.Request{
		Conversation: []llm.Message{
			{Role: llm.RoleSystem, Text: prompts.MustGet(prompts.ExtractionFile, prompts.KeySystem)},
			{Role: llm.RoleUser, Text: userPrompt},
		},
		Tier:   llm.TierStandard,
		Params: llm.FactualParams(),
		JSON:   true,
	})
	if err != nil {
		return nil, 0, err
	}

	items, err := llm.ParseItems[rawRequirement](text, schemas.RequirementItem)
	if err != nil {
		return nil, 0, llm.Malformed(err)
	}

	var reqs []types.Requirement
	dropped := 0
	for _, item := range items {
		if !item.OK() {
			dropped++
			continue
		}
		req, ok := normalize(item.Value, meta.DocumentID)
		if !ok {
			dropped++
			continue
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 && dropped > 0 {
		return nil, dropped, llm.Malformed(errNoUsableItem)
	}
	return reqs, dropped, nil
}

// normalize converts a model item into a Requirement with a fresh ID.
func normalize(raw rawRequirement, documentID string) (types.Requirement, bool) {
	text := collapseSpace(raw.Text)
	if text == "" {
		return types.Requirement{}, false
	}

	section := collapseSpace(raw.Section)
	if section == "" {
		section = types.DefaultSection
	}

	req := types.Requirement{
		ID:            uuid.NewString(),
		Text:          text,
		Section:       section,
		Importance:    types.ParseImportance(raw.Importance),
		SourceSection: collapseSpace(raw.SourceSection),
		Keywords:      NormalizeKeywords(raw.Keywords),
	}
	if documentID != "" {
		req.SourceDocumentIDs = []string{documentID}
	}
	return req, true
}

// NormalizeKeywords lower-cases and trims keywords, dropping blanks and repeats.
func NormalizeKeywords(keywords []string) []string {
	var out []string
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(collapseSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
