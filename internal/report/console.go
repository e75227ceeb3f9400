package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/remediator/internal/objective"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

const (
	barWidth        = 30
	sparklineWidth  = 30
	sparklineHeight = 3
)

// Console renders reports as styled terminal text. Colors follow the
// capabilities of the writer it was created for; plain buffers get no
// escape codes.
type Console struct {
	header   lipgloss.Style
	section  lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	dim      lipgloss.Style
	ok       lipgloss.Style
	warn     lipgloss.Style
	bad      lipgloss.Style
	box      lipgloss.Style
	spark    lipgloss.Style
	scoreBar progress.Model
}

// NewConsole creates a console renderer for w.
func NewConsole(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		header: r.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1),
		section: r.NewStyle().Foreground(lipgloss.Color("51")).Bold(true),
		label:   r.NewStyle().Foreground(lipgloss.Color("45")),
		value:   r.NewStyle().Foreground(lipgloss.Color("231")).Bold(true),
		dim:     r.NewStyle().Foreground(lipgloss.Color("245")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),
		warn:    r.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
		bad:     r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1),
		spark: r.NewStyle().Foreground(lipgloss.Color("51")),
		scoreBar: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(barWidth),
			progress.WithoutPercentage(),
		),
	}
}

func (c *Console) badge(r *orchestrator.PhaseReport) string {
	switch o := outcome(r); o {
	case "OK":
		return c.ok.Render("✓ " + o)
	case "PARTIAL":
		return c.warn.Render("⚠ " + o)
	default:
		return c.bad.Render("✗ " + o)
	}
}

func (c *Console) bar(score, max float64) string {
	ratio := 0.0
	if max > 0 {
		ratio = score / max
	}
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return c.scoreBar.ViewAs(ratio)
}

func (c *Console) sectionTitle(b *strings.Builder, title string) {
	b.WriteString("\n" + c.section.Render("┃ "+title) + "\n")
}

// Phase renders a single phase report.
func (c *Console) Phase(r *orchestrator.PhaseReport) string {
	var b strings.Builder

	b.WriteString(c.header.Render("phase "+r.PhaseName) + "  " + c.badge(r) + "\n")
	b.WriteString(c.label.Render("Run: ") + c.value.Render(r.RunID) +
		"   " + c.label.Render("Duration: ") + c.value.Render(FormatSeconds(r.ExecutionTimeSeconds)) + "\n")

	c.sectionTitle(&b, "Problems")
	fmt.Fprintf(&b, "  %s %s  %s %s  %s %s  %s %s\n",
		c.label.Render("Processed"), c.value.Render(fmt.Sprint(r.ErrorsProcessed)),
		c.label.Render("Fixed"), c.ok.Render(fmt.Sprint(r.ErrorsFixed)),
		c.label.Render("Failed"), c.bad.Render(fmt.Sprint(r.ErrorsFailed)),
		c.label.Render("Deferred"), c.warn.Render(fmt.Sprint(r.ErrorsDeferred)))
	fmt.Fprintf(&b, "  %s %d batches, %d failed, %d waves\n",
		c.label.Render("Plan:"), r.BatchesPlanned, r.BatchesFailed, r.Waves)

	c.sectionTitle(&b, "Validation")
	b.WriteString("  " + c.label.Render("Score: ") + c.value.Render(fmt.Sprintf("%.1f", r.ValidationScore)) +
		" " + c.bar(r.ValidationScore, 100) + "\n")
	for _, s := range r.CategoryScores {
		line := fmt.Sprintf("  %-22s %6.1f  %d/%d", s.Category, s.Value, s.Succeeded, s.Total)
		if s.Provisional {
			line += "  " + c.warn.Render("provisional")
		}
		b.WriteString(c.dim.Render(line) + "\n")
	}

	c.sectionTitle(&b, "Compliance")
	b.WriteString("  " + c.value.Render(fmt.Sprintf("%.2f → %.2f", r.ComplianceBefore, r.ComplianceAfter)) +
		" " + c.dim.Render("("+FormatDelta(r.ComplianceDelta)+")") + "\n")

	if len(r.DeferredByCategory) > 0 {
		c.sectionTitle(&b, "Deferred")
		for _, cat := range sortedCategories(r.DeferredByCategory) {
			fmt.Fprintf(&b, "  %-22s %s\n", cat, c.warn.Render(fmt.Sprint(r.DeferredByCategory[cat])))
		}
	}

	if len(r.ObjectiveAdvances) > 0 {
		c.sectionTitle(&b, "Objectives")
		for _, name := range slices.Sorted(maps.Keys(r.ObjectiveAdvances)) {
			fmt.Fprintf(&b, "  %-24s %s\n", name, c.ok.Render(fmt.Sprintf("+%.3f", r.ObjectiveAdvances[name])))
		}
	}

	if len(r.NextActions) > 0 {
		c.sectionTitle(&b, "Next actions")
		for _, a := range r.NextActions {
			b.WriteString("  - " + a + "\n")
		}
	}

	return c.box.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

// Status renders a run's compliance, objectives and phase history.
func (c *Console) Status(s Status) string {
	var b strings.Builder
	run := s.Run

	b.WriteString(c.header.Render("run "+run.RunID) + "\n")
	b.WriteString(c.label.Render("Updated: ") + c.dim.Render(run.UpdatedAt.Format("2006-01-02 15:04:05")) + "\n")

	c.sectionTitle(&b, "Compliance")
	cs := run.Compliance
	b.WriteString("  " + c.value.Render(fmt.Sprintf("%.2f / %.2f", cs.CurrentScore, cs.TargetScore)) +
		" " + c.bar(cs.CurrentScore, cs.TargetScore) + "\n")
	if hist := ComplianceHistory(s.History); len(hist) > 1 {
		b.WriteString("  " + c.Sparkline(hist) + "\n")
	}
	for _, cat := range sortedCategories(cs.PerCategoryContribution) {
		fmt.Fprintf(&b, "  %s\n", c.dim.Render(fmt.Sprintf("%-22s +%.3f", cat, cs.PerCategoryContribution[cat])))
	}

	if len(run.Objectives) > 0 {
		c.sectionTitle(&b, "Objectives")
		for _, o := range run.Objectives {
			b.WriteString(c.objectiveLine(o) + "\n")
		}
	}

	c.sectionTitle(&b, "History")
	if len(s.History) == 0 {
		b.WriteString("  " + c.dim.Render("no phases yet") + "\n")
	}
	for i, r := range s.History {
		fmt.Fprintf(&b, "  %d. %-20s %s  fixed %d/%d  %s\n",
			i+1, r.PhaseName, c.badge(r), r.ErrorsFixed, r.ErrorsProcessed,
			c.dim.Render(FormatDelta(r.ComplianceDelta)))
	}

	return c.box.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

func (c *Console) objectiveLine(o objective.Objective) string {
	mark := c.dim.Render("○")
	if o.Complete() {
		mark = c.ok.Render("●")
	}
	return fmt.Sprintf("  %s %-24s %s %s", mark, o.Name, c.bar(o.CurrentProgress, o.TargetProgress),
		c.dim.Render(fmt.Sprintf("%.2f/%.2f", o.CurrentProgress, o.TargetProgress)))
}

// Sparkline draws values as a small chart.
func (c *Console) Sparkline(values []float64) string {
	if len(values) == 0 {
		return c.dim.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	spark.PushAll(values)
	spark.Draw()
	return c.spark.Render(spark.View())
}

func sortedCategories[V any](m map[problem.Category]V) []problem.Category {
	return slices.Sorted(maps.Keys(m))
}
