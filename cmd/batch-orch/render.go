package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/events"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// statusStyle colours task, run and batch statuses alike
func statusStyle(status string) lipgloss.Style {
	switch status {
	case string(domain.StatusComplete), string(domain.StatusValidated), string(domain.StatusSkipped):
		return okStyle
	case string(domain.StatusFailed), string(domain.StatusNeedsHumanReview):
		return errorStyle
	case string(domain.StatusNeedsRescope), string(domain.StatusRescopeRequired), string(domain.RunPaused):
		return warningStyle
	case string(domain.StatusPending):
		return dimmedStyle
	}
	return lipgloss.NewStyle()
}

func severityStyle(s events.Severity) lipgloss.Style {
	switch s {
	case events.SeverityError:
		return errorStyle
	case events.SeverityWarn:
		return warningStyle
	}
	return dimmedStyle
}

func formatUsage(u domain.Usage) string {
	return fmt.Sprintf("%s tokens (%s in / %s out), $%s",
		humanize.Comma(u.TotalTokens()),
		humanize.Comma(u.InputTokens),
		humanize.Comma(u.OutputTokens),
		humanize.CommafWithDigits(u.CostUSD, 2))
}

func formatDoctor(passed *bool) string {
	switch {
	case passed == nil:
		return dimmedStyle.Render("-")
	case *passed:
		return okStyle.Render("passed")
	default:
		return errorStyle.Render("failed")
	}
}

func formatCanary(c *domain.CanarySummary) string {
	if c == nil {
		return dimmedStyle.Render("-")
	}
	switch c.Status {
	case domain.CanaryExpectedFail:
		return okStyle.Render(string(c.Status))
	case domain.CanaryUnexpectedPass:
		return errorStyle.Render(string(c.Status))
	}
	return dimmedStyle.Render(string(c.Status))
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	if sha == "" {
		return "-"
	}
	return sha
}

// renderRun renders the status overview of one run
func renderRun(state *domain.RunState, batches []domain.BatchRecord, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Run "+state.RunID), statusStyle(string(state.Status)).Render(string(state.Status)))
	fmt.Fprintf(&b, "project %s, branch %s, updated %s\n", state.Project, state.MainBranch, humanize.RelTime(state.UpdatedAt, now, "ago", "from now"))
	fmt.Fprintf(&b, "usage: %s\n", formatUsage(state.Usage))
	m := state.Metrics
	fmt.Fprintf(&b, "scope violations: %d warn / %d block, rescopes: %d, merge conflicts: %d\n\n",
		m.ScopeViolations.WarnCount, m.ScopeViolations.BlockCount, m.Rescopes, m.MergeConflicts)

	var counts []string
	for _, c := range state.StatusCounts() {
		counts = append(counts, fmt.Sprintf("%s %d", statusStyle(string(c.Status)).Render(string(c.Status)), c.Count))
	}
	if len(counts) == 0 {
		counts = append(counts, dimmedStyle.Render("no tasks"))
	}
	b.WriteString(sectionStyle.Render(headerStyle.Render("Tasks") + "\n" + strings.Join(counts, "  ")))
	b.WriteString("\n")

	if len(batches) == 0 {
		return b.String()
	}
	var rows []string
	rows = append(rows, headerStyle.Render(fmt.Sprintf("%-6s %-9s %-6s %-9s %-8s %-16s %s", "BATCH", "STATUS", "TASKS", "COMMIT", "DOCTOR", "CANARY", "COMPLETED")))
	for _, rec := range batches {
		rows = append(rows, fmt.Sprintf("%-6d %-9s %-6d %-9s %-8s %-16s %s",
			rec.BatchID,
			string(rec.Status),
			len(rec.Tasks),
			shortSHA(rec.MergeCommit),
			formatDoctor(rec.IntegrationDoctorPassed),
			formatCanary(rec.Canary),
			humanize.RelTime(rec.CompletedAt, now, "ago", "from now")))
	}
	b.WriteString(sectionStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")
	return b.String()
}

func renderEvent(e events.Event) string {
	line := fmt.Sprintf("%s %-5s %-26s", e.Timestamp.Local().Format("15:04:05"), e.Severity, e.Type)
	if e.BatchID > 0 {
		line += fmt.Sprintf(" b%d", e.BatchID)
	}
	if e.TaskID != "" {
		line += " " + e.TaskID
	}
	if e.Message != "" {
		line += ": " + e.Message
	}
	return severityStyle(e.Severity).Render(line)
}
