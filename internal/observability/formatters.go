// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jonathan/plan-compliance/internal/analysis"
	"github.com/jonathan/plan-compliance/internal/chunking"
	"github.com/jonathan/plan-compliance/internal/scoring"
	"github.com/jonathan/plan-compliance/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintProgress outputs one run state transition as a single line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(event analysis.ProgressEvent) {
	marker := "→"
	if event.Category == analysis.CategoryError {
		marker = "✗"
	}
	fmt.Fprintf(p.out, "%s [%s] %s\n", marker, event.Step, event.Message)
}

// PrintReport outputs the headline scores, per-section breakdown and the most
// important gaps of an analysis report.
func (p *Printer) PrintReport(report *types.AnalysisReport) {
	if report == nil {
		return
	}

	total, present := report.Totals()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Plan:        %s\n", report.PlanID))
	sb.WriteString(fmt.Sprintf("Compliance:  %d%% (%s)\n", report.OverallComplianceScore, scoring.ComplianceBand(report.OverallComplianceScore)))
	sb.WriteString(fmt.Sprintf("Quality:     %d%% (%s)\n", report.OverallQualityScore, scoring.QualityBand(report.OverallQualityScore)))
	sb.WriteString(fmt.Sprintf("Present:     %d of %d requirements\n", present, total))

	if len(report.SectionScores) > 0 {
		sb.WriteString("\nSections:\n")
		names := make([]string, 0, len(report.SectionScores))
		for name := range report.SectionScores {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := report.SectionScores[name]
			sb.WriteString(fmt.Sprintf("  • %s: %d/%d, %d%% / %d%%\n",
				truncate(name, 24), s.RequirementsPresent, s.RequirementsTotal, s.Compliance, s.Quality))
		}
	}

	if len(report.MissingRequirements) > 0 {
		sb.WriteString("\nMissing:\n")
		count := min(len(report.MissingRequirements), maxItemsToShow)
		for i := 0; i < count; i++ {
			m := report.MissingRequirements[i]
			sb.WriteString(fmt.Sprintf("  • [%s] %s\n", m.Importance, truncate(m.Text, 38)))
		}
		if len(report.MissingRequirements) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(report.MissingRequirements)-maxItemsToShow))
		}
	}

	if n := len(report.ImprovementSuggestions); n > 0 {
		sb.WriteString(fmt.Sprintf("\n%d requirements have improvement suggestions\n", n))
	}

	p.printBox("COMPLIANCE REPORT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintThinkingProcess outputs each narrative step with its details.
func (p *Printer) PrintThinkingProcess(process *types.ThinkingProcess) {
	if process == nil || len(process.Steps) == 0 {
		return
	}

	var sb strings.Builder
	for i, step := range process.Steps {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, step.Title))
		if step.Description != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", step.Description))
		}
		for _, d := range step.Details {
			sb.WriteString(fmt.Sprintf("   - %s\n", d))
		}
		if i < len(process.Steps)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("THINKING PROCESS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintProcessResult outputs the requirement counts extracted from a reference document.
func (p *Printer) PrintProcessResult(result *types.ProcessResult) {
	if result == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Document:      %s\n", result.DocumentID))
	sb.WriteString(fmt.Sprintf("Requirements:  %d\n", result.RequirementsCount))

	if len(result.RequirementsBySection) > 0 {
		sb.WriteString("\nBy section:\n")
		names := make([]string, 0, len(result.RequirementsBySection))
		for name := range result.RequirementsBySection {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("  • %s: %d\n", truncate(name, 40), result.RequirementsBySection[name]))
		}
	}

	p.printBox("EXTRACTED REQUIREMENTS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintReconcileResult outputs the outcome of cross-standard reconciliation.
func (p *Printer) PrintReconcileResult(result *types.ReconcileResult) {
	if result == nil {
		return
	}
	p.printBox("RECONCILIATION", fmt.Sprintf("Sections processed:  %d\nMappings found:      %d",
		result.SectionsProcessed, result.MappingsFound))
}

// PrintChunks outputs the chunk boundaries of a split document.
func (p *Printer) PrintChunks(chunks []chunking.Chunk) {
	if len(chunks) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total chunks: %d\n\n", len(chunks)))
	count := min(len(chunks), maxItemsToShow)
	for i := 0; i < count; i++ {
		c := chunks[i]
		sb.WriteString(fmt.Sprintf("#%d  bytes %d-%d\n", c.Index, c.Start, c.End))
		if len(c.Headers) > 0 {
			sb.WriteString(fmt.Sprintf("    %s\n", strings.Join(c.Headers, " > ")))
		}
	}
	if len(chunks) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more chunks", len(chunks)-maxItemsToShow))
	}

	p.printBox("DOCUMENT CHUNKS", strings.TrimSuffix(sb.String(), "\n"))
}
