package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"localops/internal/sanitizer"
	"localops/internal/types"
)

var blockSanitizer = sanitizer.NewTerminalSanitizer(sanitizer.DefaultConfig())

type detailTab int

const (
	tabArtifacts detailTab = iota
	tabDiff
	tabReport
	tabCount
)

func (t detailTab) String() string {
	switch t {
	case tabDiff:
		return "Diff"
	case tabReport:
		return "Report"
	default:
		return "Artifacts"
	}
}

func (t detailTab) next() detailTab {
	return (t + 1) % tabCount
}

func (t detailTab) prev() detailTab {
	return (t + tabCount - 1) % tabCount
}

type detailCacheKey struct {
	tab     detailTab
	width   int
	content string
}

func (m *Model) renderHeader(width int) string {
	title := headerStyle.Render(fmt.Sprintf("Run #%d", m.view.RunID))
	parts := []string{title}
	if m.view.Run == nil {
		parts = append(parts, placeholderStyle.Render("loading..."))
	} else {
		run := m.view.Run
		parts = append(parts, runStatusStyle(run.Status).Render(string(run.Status)))
		if run.RiskLevel != "" {
			parts = append(parts, statusStyle.Render("risk "+run.RiskLevel))
		}
		if run.PlanID != nil {
			parts = append(parts, statusStyle.Render(fmt.Sprintf("plan %d", *run.PlanID)))
		}
	}
	parts = append(parts, streamStateStyle(m.view.Stream).Render("stream "+m.view.Stream.String()))
	if phase := m.view.Phase.String(); phase != "live" {
		parts = append(parts, statusStyle.Render(phase))
	}
	return xansi.Truncate(strings.Join(parts, "  "), width, "…")
}

func (m *Model) renderErrorLine(width int) string {
	if m.view.Err == "" {
		return ""
	}
	return errorLineStyle.Render(xansi.Truncate("error: "+m.sanitizer.Sanitize(m.view.Err), width, "…"))
}

func (m *Model) renderSteps(width int) string {
	if m.view.Run == nil || len(m.view.Run.Steps) == 0 {
		return placeholderStyle.Render("No steps.")
	}
	steps := m.view.Run.Steps
	hidden := 0
	if len(steps) > maxStepRows {
		// Keep the rows around the first unfinished step visible.
		start := firstActiveStep(steps) - maxStepRows/2
		start = max(0, min(start, len(steps)-maxStepRows))
		hidden = len(steps) - maxStepRows
		steps = steps[start : start+maxStepRows]
	}
	labels := make([]string, len(steps))
	labelWidth := 0
	for i, step := range steps {
		labels[i] = m.sanitizer.Sanitize(stepLabel(step))
		labelWidth = max(labelWidth, runewidth.StringWidth(labels[i]))
	}
	labelWidth = min(labelWidth, max(10, width/2))
	rows := make([]string, 0, len(steps))
	for i, step := range steps {
		label := runewidth.FillRight(runewidth.Truncate(labels[i], labelWidth, "…"), labelWidth)
		rows = append(rows, label+"  "+stepStatusStyle(step.Status).Render(stepOutcome(step)))
	}
	if hidden > 0 {
		last := len(rows) - 1
		rows[last] = rows[last] + helpStyle.Render(fmt.Sprintf("  (+%d more)", hidden))
	}
	return strings.Join(rows, "\n")
}

func firstActiveStep(steps []types.Step) int {
	for i, step := range steps {
		switch step.Status {
		case types.StepStatusQueued, types.StepStatusRunning:
			return i
		}
	}
	return len(steps) - 1
}

func stepLabel(step types.Step) string {
	return fmt.Sprintf("#%d %s", step.StepNo, strings.Join(strings.Fields(step.Command), " "))
}

func stepOutcome(step types.Step) string {
	exit := "-"
	if step.ExitCode != nil {
		exit = fmt.Sprintf("%d", *step.ExitCode)
	}
	return fmt.Sprintf("%s / exit=%s", step.Status, exit)
}

func (m *Model) renderTabBar() string {
	tabs := make([]string, 0, tabCount)
	for t := detailTab(0); t < tabCount; t++ {
		style := tabStyle
		if t == m.tab {
			style = tabActiveStyle
		}
		tabs = append(tabs, style.Render(t.String()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m *Model) renderDetail() {
	width := max(1, m.detail.Width)
	content := m.detailSource()
	key := detailCacheKey{tab: m.tab, width: width, content: content}
	if key == m.detailKey {
		return
	}
	m.detailKey = key
	var rendered string
	switch m.tab {
	case tabDiff:
		rendered = renderDiff(content, width, m.dark)
		if rendered == "" {
			rendered = placeholderStyle.Render("No diff yet.")
		}
	case tabReport:
		rendered = renderMarkdown(content, width, m.dark)
		if rendered == "" {
			rendered = placeholderStyle.Render("No report yet.")
		}
	default:
		rendered = content
	}
	m.detail.SetContent(rendered)
	m.detail.GotoTop()
}

func (m *Model) detailSource() string {
	run := m.view.Run
	switch m.tab {
	case tabDiff:
		if run == nil || run.DiffContent == nil {
			return ""
		}
		return *run.DiffContent
	case tabReport:
		if run == nil || run.ReportContent == nil {
			return ""
		}
		return *run.ReportContent
	default:
		return m.artifactsText(run)
	}
}

func (m *Model) artifactsText(run *types.RunDetail) string {
	if run == nil {
		return placeholderStyle.Render("Loading...")
	}
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Artifacts"))
	b.WriteString("\n")
	if len(run.Artifacts) == 0 {
		b.WriteString(placeholderStyle.Render("No artifacts yet."))
		b.WriteString("\n")
	}
	for _, artifact := range run.Artifacts {
		fmt.Fprintf(&b, "%s: %s", artifact.Kind, m.sanitizer.Sanitize(artifact.Path))
		if artifact.Size > 0 {
			fmt.Fprintf(&b, " (%s)", humanSize(artifact.Size))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Audits"))
	b.WriteString("\n")
	if len(run.Audits) == 0 {
		b.WriteString(placeholderStyle.Render("No audit entries."))
		b.WriteString("\n")
	}
	for _, audit := range run.Audits {
		fmt.Fprintf(&b, "%s / %s", audit.Actor, audit.Action)
		if !audit.CreatedAt.IsZero() {
			b.WriteString(helpStyle.Render("  " + audit.CreatedAt.Local().Format("15:04:05")))
		}
		if len(audit.Payload) > 0 {
			b.WriteString(helpStyle.Render("  " + payloadSummary(audit.Payload)))
		}
		b.WriteString("\n")
	}

	if run.AuditContent != nil && strings.TrimSpace(*run.AuditContent) != "" {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("Audit log"))
		b.WriteString("\n")
		b.WriteString(blockSanitizer.Sanitize(strings.TrimRight(*run.AuditContent, "\n")))
	}
	return strings.TrimRight(b.String(), "\n")
}

func payloadSummary(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, payload[key]))
	}
	return strings.Join(parts, " ")
}

func humanSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
