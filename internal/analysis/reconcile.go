package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/plan-compliance/internal/llm"
	"github.com/jonathan/plan-compliance/internal/prompts"
	"github.com/jonathan/plan-compliance/internal/schemas"
	"github.com/jonathan/plan-compliance/internal/types"
)

// reconcileGroup is one group of equivalent requirements returned by the model.
type reconcileGroup struct {
	RequirementIDs []string `json:"requirement_ids"`
	CanonicalText  string   `json:"canonical_text"`
}

// ReconcileRequirements finds requirements from different reference documents
// that impose the same obligation and links the first requirement of each
// group to the source documents of the others. Model failures are logged and
// skipped.
func (o *Orchestrator) ReconcileRequirements(ctx context.Context, referenceDocumentIDs []string) (*types.ReconcileResult, error) {
	req := types.ReconcileRequest{ReferenceDocumentIDs: referenceDocumentIDs}
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}

	reqs, err := o.requirements.GetRequirementsForDocuments(ctx, referenceDocumentIDs)
	if err != nil {
		return nil, storeErr("get requirements", err)
	}

	sections := multiSourceSections(reqs)
	result := &types.ReconcileResult{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, section := range sections {
		g.Go(func() error {
			mappings, ok := o.reconcileSection(gctx, section.name, section.requirements)
			if ok {
				mu.Lock()
				result.SectionsProcessed++
				result.MappingsFound += mappings
				mu.Unlock()
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	o.logger.Info("requirements reconciled",
		zap.Int("sections", len(sections)),
		zap.Int("sections_processed", result.SectionsProcessed),
		zap.Int("mappings", result.MappingsFound),
	)
	return result, nil
}

type sectionRequirements struct {
	name         string
	requirements []types.Requirement
}

// multiSourceSections returns, in name order, the sections whose requirements
// come from at least two documents.
func multiSourceSections(reqs []types.Requirement) []sectionRequirements {
	bySection := make(map[string][]types.Requirement)
	for _, r := range reqs {
		bySection[r.Section] = append(bySection[r.Section], r)
	}

	var out []sectionRequirements
	for name, group := range bySection {
		docs := make(map[string]bool)
		for _, r := range group {
			for _, d := range r.SourceDocumentIDs {
				docs[d] = true
			}
		}
		if len(docs) >= 2 {
			out = append(out, sectionRequirements{name: name, requirements: group})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// reconcileSection reports the number of new links and whether the model gave a usable answer.
func (o *Orchestrator) reconcileSection(ctx context.Context, section string, reqs []types.Requirement) (int, bool) {
	log := o.logger.With(zap.String("section", section))

	var lines strings.Builder
	for i, r := range reqs {
		if i > 0 {
			lines.WriteByte('\n')
		}
		source := "unknown"
		if len(r.SourceDocumentIDs) > 0 {
			source = r.SourceDocumentIDs[0]
		}
		fmt.Fprintf(&lines, "[%s] (%s) %s", r.ID, source, r.Text)
	}

	userPrompt, err := prompts.Render(prompts.ReconcileFile, prompts.KeyUser, map[string]string{
		"Section":      section,
		"Requirements": lines.String(),
	})
	if err != nil {
		log.Warn("reconcile prompt failed", zap.Error(err))
		return 0, false
	}

	text, err := o.client.Generate(ctx, llm.Request{
		Conversation: []llm.Message{
			{Role: llm.RoleSystem, Text: prompts.MustGet(prompts.ReconcileFile, prompts.KeySystem)},
			{Role: llm.RoleUser, Text: userPrompt},
		},
		Tier:   llm.TierLite,
		Params: llm.FactualParams(),
		JSON:   true,
	})
	if err != nil {
		log.Warn("reconcile call failed", zap.Error(err))
		return 0, false
	}

	groups, err := llm.ParseItems[reconcileGroup](text, schemas.ReconcileGroup)
	if err != nil {
		log.Warn("reconcile response unusable", zap.Error(err))
		return 0, false
	}

	byID := make(map[string]*types.Requirement, len(reqs))
	for i := range reqs {
		byID[reqs[i].ID] = &reqs[i]
	}

	mappings := 0
	for _, g := range groups {
		if !g.OK() {
			continue
		}
		members := validMembers(g.Value.RequirementIDs, byID)
		if len(members) < 2 {
			continue
		}
		canonical := members[0]
		for _, other := range members[1:] {
			linked := false
			for _, doc := range other.SourceDocumentIDs {
				if canonical.HasSource(doc) {
					continue
				}
				if err := o.requirements.LinkRequirementToSource(ctx, canonical.ID, doc); err != nil {
					log.Warn("link requirement failed", zap.String("requirement_id", canonical.ID), zap.Error(err))
					continue
				}
				canonical.SourceDocumentIDs = append(canonical.SourceDocumentIDs, doc)
				linked = true
			}
			if linked {
				mappings++
			}
		}
	}
	return mappings, true
}

// validMembers resolves group IDs to known requirements, dropping unknown and repeated IDs.
func validMembers(ids []string, byID map[string]*types.Requirement) []*types.Requirement {
	seen := make(map[string]bool, len(ids))
	var out []*types.Requirement
	for _, id := range ids {
		id = strings.TrimSpace(id)
		r, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r)
	}
	return out
}
