// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/exportd/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxLogLines is the number of transcript lines shown per run
	maxLogLines = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRun outputs a human-readable summary of one run.
func (p *Printer) PrintRun(run *types.Run) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", run.ID))
	sb.WriteString(fmt.Sprintf("Platform: %s (%s / %s)\n", run.PlatformID, run.Company, run.Name))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", statusBadge(run.Status)))
	sb.WriteString(fmt.Sprintf("Started:  %s\n", run.StartDate.Format(time.RFC3339)))
	if run.EndDate != nil {
		sb.WriteString(fmt.Sprintf("Ended:    %s\n", run.EndDate.Format(time.RFC3339)))
	}
	if run.CurrentStep != "" {
		sb.WriteString(fmt.Sprintf("Step:     %s\n", run.CurrentStep))
	}
	if run.ExportPath != "" {
		sb.WriteString(fmt.Sprintf("Export:   %s (%s)\n", run.ExportPath, formatBytes(run.ExportSize)))
	}

	if run.Logs != "" {
		sb.WriteString("\nTranscript:\n")
		lines := strings.Split(run.Logs, "\n")
		start := 0
		if len(lines) > maxLogLines {
			sb.WriteString(fmt.Sprintf("  ... %d earlier lines\n", len(lines)-maxLogLines))
			start = len(lines) - maxLogLines
		}
		for _, line := range lines[start:] {
			sb.WriteString(fmt.Sprintf("  %s\n", line))
		}
	}

	p.printBox("EXPORT RUN", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRunList outputs a compact listing of runs.
func (p *Printer) PrintRunList(runs []types.Run) {
	if len(runs) == 0 {
		p.printBox("EXPORT RUNS", "No runs recorded.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total: %d\n\n", len(runs)))
	for i, run := range runs {
		sb.WriteString(fmt.Sprintf("%s  %s\n", statusBadge(run.Status), run.ID))
		sb.WriteString(fmt.Sprintf("    %s  %s\n", run.Company, run.StartDate.Format("2006-01-02 15:04")))
		if i < len(runs)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("EXPORT RUNS", sb.String())
}

// PrintPlatforms outputs the available platform descriptors.
func (p *Printer) PrintPlatforms(descs []types.PlatformDescriptor) {
	if len(descs) == 0 {
		return
	}

	var sb strings.Builder
	for i, desc := range descs {
		sb.WriteString(fmt.Sprintf("%s\n", desc.ID))
		sb.WriteString(fmt.Sprintf("  %s — %s\n", desc.Company, desc.Name))
		if desc.ExportFrequency != "" {
			sb.WriteString(fmt.Sprintf("  recurs %s\n", desc.ExportFrequency))
		}
		if i < len(descs)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("AVAILABLE PLATFORMS", strings.TrimSuffix(sb.String(), "\n"))
}

func statusBadge(status string) string {
	switch status {
	case types.RunStatusSuccess:
		return "✓ success"
	case types.RunStatusError:
		return "✗ error"
	case types.RunStatusStopped:
		return "■ stopped"
	case types.RunStatusRunning:
		return "▶ running"
	default:
		return "· " + status
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/float64(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
