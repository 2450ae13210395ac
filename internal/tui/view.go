package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kylemclaren/slowstock/internal/scheduler"
	"github.com/kylemclaren/slowstock/internal/task"
)

func (m Model) View() string {
	var content string

	switch m.currentView {
	case ViewBoard:
		content = m.renderBoard()
	case ViewDetail:
		content = m.renderDetail()
	case ViewHistory:
		content = m.renderHistory()
	}

	return appStyle.Render(content)
}

func (m Model) renderHeader(title string) string {
	logo := logoStyle.Render(title)
	if m.scheduler == nil || m.width == 0 {
		return logo
	}
	next := m.scheduler.NextRun(scheduler.JobSweep)
	if next == nil {
		return logo
	}
	right := subtitleStyle.Render("next sweep " + formatTime(*next))
	padding := max(m.width-lipgloss.Width(logo)-lipgloss.Width(right)-4, 2)
	return logo + strings.Repeat(" ", padding) + right
}

func (m Model) renderStats() string {
	s := m.stats
	stat := func(label string, n int, alert bool) string {
		style := statValueStyle
		if alert && n > 0 {
			style = statAlertStyle
		}
		return statLabelStyle.Render(label+" ") + style.Render(fmt.Sprintf("%d", n))
	}
	return strings.Join([]string{
		stat("no plan", s.NoPlan, false),
		stat("in progress", s.InProgress, false),
		stat("check", s.CompletionCheck, false),
		stat("review", s.UnderReview, false),
		stat("overdue", s.Timeout, true),
		stat("aging", s.Aging, false),
	}, statLabelStyle.Render("  •  "))
}

func (m Model) renderBoard() string {
	var b strings.Builder

	b.WriteString(m.renderHeader("Slow Stock Tasks"))
	b.WriteString("\n")
	b.WriteString(m.renderStats())
	b.WriteString("\n\n")

	if m.searchMode {
		b.WriteString(promptStyle.Render("/ " + m.searchInput.View()))
		b.WriteString("\n\n")
	}

	tasks := m.getDisplayTasks()
	switch {
	case len(m.tasks) == 0:
		b.WriteString(emptyBoxStyle.Render("No slow-moving stock\n\nImport a snapshot to promote tasks"))
	case m.searchMode && len(tasks) == 0 && m.searchInput.Value() != "":
		b.WriteString(emptyBoxStyle.Render("No tasks match your search\n\nPress 'esc' to clear"))
	default:
		b.WriteString(m.table.View())
	}
	b.WriteString("\n")

	if m.rejectMode {
		b.WriteString(m.renderRejectPrompt())
		b.WriteString("\n")
	}

	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(m.help.FullHelpView(keys.FullHelp()))
	} else {
		b.WriteString(m.help.ShortHelpView(keys.ShortHelp()))
	}
	return b.String()
}

func (m Model) renderRejectPrompt() string {
	label := statusFail.Render("Reject " + m.rejectSKU)
	hint := subtitleStyle.Render("enter to confirm • esc to cancel")
	return rejectPromptStyle.Render(label + "\n" + m.reasonInput.View() + "\n" + hint)
}

func (m Model) renderStatus() string {
	if m.statusMsg == "" {
		return ""
	}
	if m.statusErr {
		return errorMsgStyle.Render("✗ "+m.statusMsg) + "\n"
	}
	return successMsgStyle.Render("✓ "+m.statusMsg) + "\n"
}

func (m Model) renderDetail() string {
	if m.selected == nil {
		return ""
	}
	v := m.selected
	var b strings.Builder

	b.WriteString(m.renderHeader(v.SKU))
	b.WriteString("\n")
	b.WriteString(stageBadge(*v))
	b.WriteString("  ")
	b.WriteString(subtitleStyle.Render(formatCountdown(v.CountDown) + " left on the SLA"))
	b.WriteString("\n\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.rejectMode {
		b.WriteString(m.renderRejectPrompt())
		b.WriteString("\n")
	}
	b.WriteString(m.renderStatus())

	helpText := helpKeyStyle.Render("↑/↓") + helpDescStyle.Render(" scroll • ") +
		helpKeyStyle.Render("1/2/3") + helpDescStyle.Render(" plan • ") +
		helpKeyStyle.Render("c/v/a/x") + helpDescStyle.Render(" advance • ") +
		helpKeyStyle.Render("r") + helpDescStyle.Render(" refresh • ") +
		helpKeyStyle.Render("esc") + helpDescStyle.Render(" back")
	b.WriteString(helpText)
	return b.String()
}

func stageBadge(v task.View) string {
	label := stageTitle(v.State.Stage())
	switch {
	case v.CountDown < 0:
		return statusFail.Render("● " + label)
	case v.State.Stage() == task.StageDormant:
		return statusPending.Render("○ " + label)
	case v.State.Frozen():
		return statusRunning.Render("● " + label)
	default:
		return statusOK.Render("● " + label)
	}
}

func (m Model) renderDetailContent() string {
	if m.selected == nil {
		return ""
	}
	doc := taskMarkdown(*m.selected)
	if m.mdRenderer != nil {
		if rendered, err := m.mdRenderer.Render(doc); err == nil {
			return rendered
		}
	}
	return doc
}

// taskMarkdown describes a task for the detail pane.
func taskMarkdown(v task.View) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", v.SKU)
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Owner | %s |\n", orDash(v.Charge))
	fmt.Fprintf(&b, "| Stage | %s |\n", stageTitle(v.State.Stage()))
	fmt.Fprintf(&b, "| Plan | %s |\n", planTitle(v))
	fmt.Fprintf(&b, "| Inventory | %d |\n", v.InventoryNum)
	fmt.Fprintf(&b, "| 7-day sales | %d |\n", v.SalesNum)
	if v.SaleDay != nil {
		fmt.Fprintf(&b, "| Sale days | %d |\n", *v.SaleDay)
	} else {
		b.WriteString("| Sale days | - |\n")
	}
	fmt.Fprintf(&b, "| Labels | %s |\n", formatLabels(v))
	fmt.Fprintf(&b, "| Countdown | %s |\n", formatCountdown(v.CountDown))
	fmt.Fprintf(&b, "| Created | %s |\n", v.CreatedAt.Local().Format("2006-01-02 15:04"))
	if v.State.Plan() == task.PriceCutClearance {
		fmt.Fprintf(&b, "| Suggested discount | %d%% |\n", v.DiscountHint)
	}
	if v.PriceReductionFailures > 0 {
		fmt.Fprintf(&b, "| Failed price cuts | %d |\n", v.PriceReductionFailures)
	}

	if v.RejectReason != nil && *v.RejectReason != "" {
		fmt.Fprintf(&b, "\n## Rejected\n\n> %s\n", *v.RejectReason)
	}
	if v.Notes != nil && *v.Notes != "" {
		fmt.Fprintf(&b, "\n## Notes\n\n%s\n", *v.Notes)
	}
	if len(v.ImageURLs) > 0 {
		b.WriteString("\n## Evidence\n\n")
		for _, url := range v.ImageURLs {
			fmt.Fprintf(&b, "- %s\n", url)
		}
	}
	return b.String()
}

func (m Model) renderHistory() string {
	var b strings.Builder

	b.WriteString(m.renderHeader("History"))
	b.WriteString("\n")
	s := m.historyStats
	b.WriteString(strings.Join([]string{
		statLabelStyle.Render("total ") + statValueStyle.Render(fmt.Sprintf("%d", s.Total)),
		statLabelStyle.Render("this week ") + statValueStyle.Render(fmt.Sprintf("%d", s.ThisWeek)),
		statLabelStyle.Render("approved ") + statValueStyle.Render(fmt.Sprintf("%d", s.Approved)),
		statLabelStyle.Render("timeout ") + statAlertStyle.Render(fmt.Sprintf("%d", s.Timeout)),
	}, statLabelStyle.Render("  •  ")))
	b.WriteString("\n\n")

	if len(m.history) == 0 {
		b.WriteString(emptyBoxStyle.Render("Nothing archived yet"))
	} else {
		b.WriteString(m.historyTable.View())
	}
	b.WriteString("\n")
	b.WriteString(dividerStyle.Render(strings.Repeat("─", 40)))
	b.WriteString("\n")

	helpText := helpKeyStyle.Render("↑/↓") + helpDescStyle.Render(" scroll • ") +
		helpKeyStyle.Render("r") + helpDescStyle.Render(" refresh • ") +
		helpKeyStyle.Render("esc") + helpDescStyle.Render(" back")
	b.WriteString(helpText)
	return b.String()
}

func formatTime(t time.Time) string {
	now := time.Now()
	if t.Before(now) {
		return t.Format("Jan 02 15:04")
	}

	diff := t.Sub(now)
	if diff < time.Minute {
		return fmt.Sprintf("in %ds", int(diff.Seconds()))
	}
	if diff < time.Hour {
		return fmt.Sprintf("in %dm", int(diff.Minutes()))
	}
	if diff < 24*time.Hour {
		return fmt.Sprintf("in %dh %dm", int(diff.Hours()), int(diff.Minutes())%60)
	}
	return t.Format("Jan 02 15:04")
}
