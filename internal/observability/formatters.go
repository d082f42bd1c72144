// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/jonathan/apply-orchestrator/internal/discovery"
	"github.com/jonathan/apply-orchestrator/internal/pipeline"
	"github.com/jonathan/apply-orchestrator/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Faint(true)
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out   io.Writer
	color bool
	now   func() time.Time
}

// NewPrinter creates a new Printer that writes to the given writer.
// Color is only used when the writer is a terminal.
func NewPrinter(out io.Writer) *Printer {
	color := false
	if f, ok := out.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{out: out, color: color, now: time.Now}
}

func (p *Printer) paint(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

func (p *Printer) statusStyle(status types.Status) lipgloss.Style {
	switch status {
	case types.StatusReviewReady, types.StatusSubmitted:
		return okStyle
	case types.StatusFailed:
		return errStyle
	case types.StatusSkipped, types.StatusAwaitingHuman:
		return warnStyle
	}
	return mutedStyle
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", padRight(title, boxWidth-4))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %s │\n", padRight(truncate(line, boxWidth-4), boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintProgress writes one line per pipeline progress event.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(event pipeline.ProgressEvent) {
	stamp := p.paint(mutedStyle, p.now().Format("15:04:05"))
	id := shortID(event.ApplicationID)

	switch event.Category {
	case pipeline.CategoryTransition:
		status := types.Status(event.Step)
		from := ""
		if content, ok := event.Content.(map[string]any); ok {
			if f, ok := content["from"].(string); ok {
				from = f + " → "
			}
		}
		line := fmt.Sprintf("%s %s %s%s", stamp, id, from, p.paint(p.statusStyle(status), event.Step))
		if event.Message != "" {
			line += ": " + event.Message
		}
		fmt.Fprintln(p.out, line)
	case pipeline.CategoryInterruption:
		fmt.Fprintf(p.out, "%s %s %s %s: %s\n", stamp, id, p.paint(warnStyle, "interruption"), event.Step, event.Message)
	default:
		fmt.Fprintf(p.out, "%s %s %s: %s\n", stamp, id, event.Step, event.Message)
	}
}

// PrintTask outputs a summary of a task and its quality gate findings.
func (p *Printer) PrintTask(task *types.ApplicationTask, issues []types.QAIssue) {
	if task == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Company:  %s\n", task.Job.Company))
	sb.WriteString(fmt.Sprintf("Role:     %s\n", task.Job.Title))
	sb.WriteString(fmt.Sprintf("Domain:   %s\n", task.Domain))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", p.paint(p.statusStyle(task.Status), string(task.Status))))
	if task.Reason != "" {
		sb.WriteString(fmt.Sprintf("Reason:   %s\n", task.Reason))
	}
	sb.WriteString(fmt.Sprintf("Score:    %.2f\n", task.MatchScore))
	if task.Effort != nil {
		sb.WriteString(fmt.Sprintf("Effort:   %s\n", task.Effort.Tier))
	}
	if task.FailureCode != "" {
		sb.WriteString(fmt.Sprintf("Failure:  %s\n", task.FailureCode))
	}
	if task.ManualFollowupNeeded {
		sb.WriteString(p.paint(errStyle, "Manual follow-up needed") + "\n")
	}
	sb.WriteString(fmt.Sprintf("Usage:    %d in / %d out ($%.4f)\n", task.Usage.TokensIn, task.Usage.TokensOut, task.Usage.CostUSD))

	if len(issues) > 0 {
		sb.WriteString(fmt.Sprintf("\nQA issues (%d):\n", len(issues)))
		count := min(len(issues), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s: %s\n", issues[i].Category, issues[i].DetectedValue))
		}
		if len(issues) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(issues)-maxItemsToShow))
		}
	}

	p.printBox("APPLICATION "+shortID(task.ID.String()), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintLedger outputs the day's domain counters as a table.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintLedger(day time.Time, entries []types.DomainLedgerEntry) {
	fmt.Fprintf(p.out, "Domain ledger for %s\n", day.Format("2006-01-02"))
	if len(entries) == 0 {
		fmt.Fprintln(p.out, p.paint(mutedStyle, "  no attempts recorded"))
		return
	}

	width := len("DOMAIN")
	for _, e := range entries {
		width = max(width, lipgloss.Width(e.Domain))
	}
	fmt.Fprintf(p.out, "  %s  %9s  %9s  %6s  %s\n", padRight("DOMAIN", width), "ATTEMPTED", "SUCCEEDED", "FAILED", "BLOCKED")
	for _, e := range entries {
		blocked := "-"
		if e.Blocked {
			blocked = "yes"
			if e.BlockedUntil != nil {
				blocked = "until " + e.BlockedUntil.Format(time.RFC3339)
			}
			blocked = p.paint(errStyle, blocked)
		}
		fmt.Fprintf(p.out, "  %s  %9d  %9d  %6d  %s\n", padRight(e.Domain, width), e.Attempted, e.Succeeded, e.Failed, blocked)
	}
}

// PrintPolicies outputs domain policies as a table.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintPolicies(policies []types.DomainPolicy) {
	if len(policies) == 0 {
		fmt.Fprintln(p.out, p.paint(mutedStyle, "no domain policies"))
		return
	}

	width := len("DOMAIN")
	for _, pol := range policies {
		width = max(width, lipgloss.Width(pol.Domain))
	}
	fmt.Fprintf(p.out, "%s  %7s  %7s  %10s  %s\n", padRight("DOMAIN", width), "PER DAY", "MIN GAP", "CONCURRENT", "NOTES")
	for _, pol := range policies {
		notes := pol.Notes
		if pol.Avoid {
			notes = strings.TrimSpace(p.paint(warnStyle, "avoid") + " " + notes)
		}
		fmt.Fprintf(p.out, "%s  %7s  %7s  %10d  %s\n",
			padRight(pol.Domain, width), optional(pol.MaxApplicationsPerDay), optional(pol.MinSecondsBetween), pol.MaxConcurrent, notes)
	}
}

// PrintPostings lists discovered job postings.
func (p *Printer) PrintPostings(postings []discovery.Posting) {
	if len(postings) == 0 {
		fmt.Fprintln(p.out, p.paint(mutedStyle, "no postings found"))
		return
	}
	for i, posting := range postings {
		title := posting.Title
		if title == "" {
			title = "(untitled)"
		}
		if posting.Company != "" {
			title += " at " + posting.Company
		}
		fmt.Fprintf(p.out, "%2d. %s\n    %s\n", i+1, title, p.paint(mutedStyle, posting.URL))
	}
}

func optional(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// padRight pads to a visual width so wide characters line up.
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	var sb strings.Builder
	used := 0
	for _, r := range s {
		w := lipgloss.Width(string(r))
		if used+w > width-3 {
			break
		}
		sb.WriteRune(r)
		used += w
	}
	return sb.String() + "..."
}
