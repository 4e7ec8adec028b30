package extraction

import (
	"strings"

	"github.com/jonathan/plan-compliance/internal/types"
)

// NormalizeKey is the identity used to detect duplicate requirements:
// the text lower-cased with surrounding and repeated whitespace removed.
func NormalizeKey(text string) string {
	return strings.ToLower(collapseSpace(text))
}

// Deduplicate removes requirements whose NormalizeKey matches an earlier one.
// The first occurrence is kept; later duplicates contribute their source
// document IDs and keywords. The input is not modified.
func Deduplicate(reqs []types.Requirement) []types.Requirement {
	if len(reqs) == 0 {
		return nil
	}

	out := make([]types.Requirement, 0, len(reqs))
	seen := make(map[string]int, len(reqs)) // key -> index in out

	for _, req := range reqs {
		key := NormalizeKey(req.Text)
		if idx, ok := seen[key]; ok {
			kept := &out[idx]
			kept.SourceDocumentIDs = appendMissing(kept.SourceDocumentIDs, req.SourceDocumentIDs...)
			kept.Keywords = appendMissing(kept.Keywords, req.Keywords...)
			continue
		}

		req.SourceDocumentIDs = append([]string(nil), req.SourceDocumentIDs...)
		req.Keywords = append([]string(nil), req.Keywords...)
		seen[key] = len(out)
		out = append(out, req)
	}

	return out
}

// BySection counts requirements per section.
func BySection(reqs []types.Requirement) map[string]int {
	counts := make(map[string]int)
	for _, r := range reqs {
		counts[r.Section]++
	}
	return counts
}

func appendMissing(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
