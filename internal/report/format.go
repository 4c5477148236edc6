package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/spachava753/templatesync/internal/drift"
	"github.com/spachava753/templatesync/internal/models"
)

// WriteTable renders a terminal summary of the run.
func WriteTable(w io.Writer, r *models.RunReport) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Repository", "Status", "Commits", "Detail"})
	table.SetAutoWrapText(false)
	for _, o := range r.Outcomes {
		table.Append([]string{o.Name, statusLabel(o), commits(o), o.Detail()})
	}
	table.Render()

	fmt.Fprintf(w, "%s run %s: %s in %s\n", r.Mode, r.RunID, countsLine(r), r.Duration().Round(time.Millisecond))
	if r.Cancelled {
		fmt.Fprintln(w, "run was cancelled before every repository finished")
	}
}

// WriteMarkdown renders the run as a markdown document.
func WriteMarkdown(w io.Writer, r *models.RunReport) {
	fmt.Fprintln(w, "# Template Update Report")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Generated: %s  \n", r.EndedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Run: `%s` (%s, concurrency %d)\n", r.RunID, r.Mode, r.Concurrency)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Summary")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "- Total repositories: %d\n", len(r.Outcomes))
	for _, s := range models.AllStatuses {
		if n := r.Counts[s]; n > 0 {
			fmt.Fprintf(w, "- %s: %d\n", s, n)
		}
	}
	if r.Cancelled {
		fmt.Fprintln(w, "- **Run was cancelled**")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Repositories")
	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Repository", "Status", "Commits", "Pull request"})
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	for _, o := range r.Outcomes {
		table.Append([]string{o.Name, statusLabel(o), commits(o), o.PRReference})
	}
	table.Render()

	var details []models.UpdateOutcome
	for _, o := range r.Outcomes {
		if o.Status == models.StatusConflict || o.Error != nil {
			details = append(details, o)
		}
	}
	if len(details) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "## Needs attention")
	for _, o := range details {
		fmt.Fprintf(w, "\n### %s\n\n", o.Name)
		fmt.Fprintf(w, "- Status: %s\n", o.Status)
		if o.HostSlug != "" {
			fmt.Fprintf(w, "- Repository: https://github.com/%s\n", o.HostSlug)
		}
		if o.Error != nil {
			fmt.Fprintf(w, "- Error (%s): %s\n", o.Error.Type, o.Error.Message)
		}
		if len(o.Diff.Files) > 0 {
			fmt.Fprintf(w, "- Affected files: %s\n", strings.Join(quoteAll(o.Diff.Files), ", "))
		}
		if o.WorkspacePath != "" {
			fmt.Fprintf(w, "- Workspace kept at `%s`\n", o.WorkspacePath)
		}
		fmt.Fprintf(w, "- Attempts: %d\n", o.Attempts)
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *models.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteFile writes the report to path, as JSON when the extension is
// .json and as markdown otherwise.
func WriteFile(path string, r *models.RunReport) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := WriteJSON(f, r); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	} else {
		WriteMarkdown(f, r)
	}
	return f.Close()
}

// Headline is a one-line summary of the run.
func Headline(r *models.RunReport) string {
	s := fmt.Sprintf("templatesync %s: %d repositories, %s", r.Mode, len(r.Outcomes), countsLine(r))
	if r.Cancelled {
		s += " (cancelled)"
	}
	return s
}

func countsLine(r *models.RunReport) string {
	var parts []string
	for _, s := range models.AllStatuses {
		if n := r.Counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, ", ")
}

func statusLabel(o models.UpdateOutcome) string {
	if o.Status == models.StatusSkipped && o.SkipReason != "" {
		return fmt.Sprintf("%s (%s)", o.Status, o.SkipReason)
	}
	return string(o.Status)
}

func commits(o models.UpdateOutcome) string {
	if o.RecordedCommit == "" || o.UpstreamCommit == "" || drift.SameCommit(o.RecordedCommit, o.UpstreamCommit) {
		return drift.Short(o.RecordedCommit)
	}
	return drift.Short(o.RecordedCommit) + " -> " + drift.Short(o.UpstreamCommit)
}

func quoteAll(files []string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = "`" + f + "`"
	}
	return out
}
