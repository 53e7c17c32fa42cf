// Package report renders pipeline results for terminal output.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"threatlens/internal/pipeline"
	"threatlens/internal/schema"
)

var (
	primary    = lipgloss.Color("#7C3AED")
	secondary  = lipgloss.Color("#10B981")
	warning    = lipgloss.Color("#F59E0B")
	errColor   = lipgloss.Color("#EF4444")
	mutedColor = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primary).
			MarginBottom(1)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primary).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(mutedColor)

	criticalStyle = lipgloss.NewStyle().Foreground(errColor).Bold(true)
	highStyle     = lipgloss.NewStyle().Foreground(warning).Bold(true)
	lowStyle      = lipgloss.NewStyle().Foreground(secondary)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 2)
)

// Render formats a pipeline result as a ranked threat table.
func Render(result *pipeline.Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  Threat Prioritization Report"))
	b.WriteString("\n\n")

	stats := fmt.Sprintf("  %d alerts in, %d filtered as noise, %d clusters, %d correlations, %d threats (%s)",
		result.Stats.InputAlerts,
		result.Stats.FilteredAlerts,
		result.Stats.Clusters,
		result.Stats.Correlations,
		result.Stats.Threats,
		result.Stats.Elapsed.Round(time.Millisecond),
	)
	b.WriteString(mutedStyle.Render(stats))
	b.WriteString("\n\n")

	if len(result.Threats) == 0 {
		b.WriteString(mutedStyle.Render("  No threats above the noise floor."))
		b.WriteString("\n")
		return b.String()
	}

	header := fmt.Sprintf("  %-4s %-10s %-18s %-6s %-5s %s",
		"#", "Priority", "Category", "Score", "Conf", "Summary")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	for i, threat := range result.Threats {
		b.WriteString(renderThreatRow(i+1, threat))
		b.WriteString("\n")
	}

	return b.String()
}

// RenderDetail formats a single threat with its assessment breakdown.
func RenderDetail(threat pipeline.RankedThreat) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s  %s\n", formatPriority(threat.Priority), threat.Summary))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  id=%s kind=%s alerts=%d", threat.ID, threat.Kind, len(threat.AlertIDs))))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Score %.2f, confidence %.2f, category %s\n", threat.Score, threat.Confidence, threat.Category))
	if threat.AutoEscalated {
		b.WriteString(criticalStyle.Render("  AUTO-ESCALATED"))
		b.WriteString("\n")
	}
	if threat.Assessment.Explanation != "" {
		b.WriteString("  " + threat.Assessment.Explanation + "\n")
	}
	for _, factor := range threat.Assessment.RiskFactors {
		b.WriteString(mutedStyle.Render("  - " + factor))
		b.WriteString("\n")
	}
	for _, action := range threat.RecommendedActions {
		b.WriteString("  > " + action + "\n")
	}

	return boxStyle.Render(b.String())
}

func renderThreatRow(rank int, threat pipeline.RankedThreat) string {
	summary := truncate(threat.Summary, 70)
	return fmt.Sprintf("  %-4d %s %-18s %-6.2f %-5.2f %s",
		rank,
		formatPriority(threat.Priority),
		threat.Category,
		threat.Score,
		threat.Confidence,
		summary,
	)
}

func formatPriority(p schema.Priority) string {
	label := fmt.Sprintf("%-10s", p.String())
	switch {
	case p >= schema.PriorityCritical:
		return criticalStyle.Render(label)
	case p >= schema.PriorityHigh:
		return highStyle.Render(label)
	case p <= schema.PriorityLow:
		return mutedStyle.Render(label)
	default:
		return lowStyle.Render(label)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
