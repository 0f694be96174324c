// Package report turns a finished crawl session into the immutable
// AuditReport handed to external reporting collaborators.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/Maimoon-github/SEO-Agent/pkg/types"
)

// Assemble builds the final report. Findings are sorted on (URL, check-id,
// message) so repeated sessions over the same site produce identical output
// regardless of worker scheduling.
func Assemble(sessionID, seed string, started, finished time.Time, inventory map[string]types.PageRecord, findings []types.Finding) *types.AuditReport {
	sorted := make([]types.Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].URL != sorted[j].URL {
			return sorted[i].URL < sorted[j].URL
		}
		if sorted[i].CheckID != sorted[j].CheckID {
			return sorted[i].CheckID < sorted[j].CheckID
		}
		return sorted[i].Message < sorted[j].Message
	})

	summary := types.Summary{
		FindingsBySeverity: make(map[types.Severity]int),
	}
	for _, rec := range inventory {
		switch rec.Outcome {
		case types.OutcomeFetched, types.OutcomeMalformed:
			summary.PagesFetched++
		case types.OutcomeSkippedRobots:
			summary.PagesSkipped++
		case types.OutcomeFailed:
			summary.PagesFailed++
		}
	}
	for _, f := range sorted {
		summary.FindingsBySeverity[f.Severity]++
	}

	return &types.AuditReport{
		SessionID:  sessionID,
		Seed:       seed,
		StartedAt:  started,
		FinishedAt: finished,
		Inventory:  inventory,
		Findings:   sorted,
		Summary:    summary,
	}
}

// WriteJSON serialises the report for external consumers.
func WriteJSON(w io.Writer, r *types.AuditReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteFile writes the JSON report to path.
func WriteFile(path string, r *types.AuditReport) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer fh.Close()
	if err := WriteJSON(fh, r); err != nil {
		return err
	}
	return fh.Close()
}
