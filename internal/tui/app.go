package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/kylemclaren/slowstock/internal/engine"
	"github.com/kylemclaren/slowstock/internal/scheduler"
	"github.com/kylemclaren/slowstock/internal/task"
)

// View represents the current view
type View int

const (
	ViewBoard View = iota
	ViewDetail
	ViewHistory
)

// KeyMap defines keybindings
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Plan     key.Binding
	Withdraw key.Binding
	Check    key.Binding
	Review   key.Binding
	Approve  key.Binding
	Reject   key.Binding
	Search   key.Binding
	Enter    key.Binding
	History  key.Binding
	Back     key.Binding
	Refresh  key.Binding
	Help     key.Binding
	Quit     key.Binding
}

var keys = KeyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Plan:     key.NewBinding(key.WithKeys("1", "2", "3"), key.WithHelp("1/2/3", "plan")),
	Withdraw: key.NewBinding(key.WithKeys("0"), key.WithHelp("0", "withdraw")),
	Check:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "complete")),
	Review:   key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "to review")),
	Approve:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
	Reject:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reject")),
	Search:   key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	Enter:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "detail")),
	History:  key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "history")),
	Back:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Plan, k.Check, k.Review, k.Approve, k.Reject, k.Search, k.History, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter, k.Search},
		{k.Plan, k.Withdraw, k.Check, k.Review},
		{k.Approve, k.Reject, k.History, k.Refresh},
		{k.Help, k.Quit},
	}
}

// Model is the main TUI model
type Model struct {
	engine    *engine.Engine
	scheduler *scheduler.Scheduler

	currentView View
	width       int
	height      int

	// Board
	tasks         []task.View
	stats         task.Statistics
	table         table.Model
	searchMode    bool
	searchInput   textinput.Model
	filteredTasks []task.View

	// Reject prompt
	rejectMode  bool
	rejectSKU   string
	rejectVer   int64
	reasonInput textinput.Model

	help     help.Model
	showHelp bool

	// Detail
	selected   *task.View
	viewport   viewport.Model
	mdRenderer *glamour.TermRenderer

	// History
	history      []*task.Entry
	historyStats task.HistoryStatistics
	historyTable table.Model

	statusMsg   string
	statusErr   bool
	statusTimer int
	ticks       int
}

// Layout constants
const (
	minWidth           = 60
	maxTableWidth      = 160
	headerHeight       = 5
	footerHeight       = 4
	minTableHeight     = 5
	detailHeaderHeight = 4
	detailFooterHeight = 3
	reloadEvery        = 30
)

// calculateTableColumns returns board column definitions sized for width
func calculateTableColumns(width int) []table.Column {
	availableWidth := width - 4
	if availableWidth < minWidth {
		availableWidth = minWidth
	}
	if availableWidth > maxTableWidth {
		availableWidth = maxTableWidth
	}

	countdownWidth := 10
	stageWidth := 16
	remaining := availableWidth - countdownWidth - stageWidth - 12

	skuWidth := max(remaining*30/100, 12)
	labelsWidth := max(remaining*25/100, 10)
	ownerWidth := max(remaining*20/100, 8)
	planWidth := max(remaining*25/100, 12)

	return []table.Column{
		{Title: "SKU", Width: skuWidth},
		{Title: "Labels", Width: labelsWidth},
		{Title: "Owner", Width: ownerWidth},
		{Title: "Plan", Width: planWidth},
		{Title: "Stage", Width: stageWidth},
		{Title: "Countdown", Width: countdownWidth},
	}
}

func historyColumns(width int) []table.Column {
	availableWidth := min(max(width-4, minWidth), maxTableWidth)
	remaining := availableWidth - 10 - 16 - 10
	return []table.Column{
		{Title: "SKU", Width: max(remaining*40/100, 12)},
		{Title: "Plan", Width: max(remaining*35/100, 12)},
		{Title: "Owner", Width: max(remaining*25/100, 8)},
		{Title: "Outcome", Width: 10},
		{Title: "Completed", Width: 16},
	}
}

func newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dimTextColor).
		BorderBottom(true).
		Bold(true).
		Foreground(accentColor)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor).
		Bold(true)
	t.SetStyles(ts)
	return t
}

// NewModel creates a new TUI model. sched may be nil.
func NewModel(eng *engine.Engine, sched *scheduler.Scheduler) Model {
	h := help.New()
	h.Styles.ShortKey = helpKeyStyle
	h.Styles.ShortDesc = helpDescStyle

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	searchInput := textinput.New()
	searchInput.Placeholder = "Search SKU or owner..."
	searchInput.CharLimit = 100
	searchInput.Width = 30

	reasonInput := textinput.New()
	reasonInput.Placeholder = "Why is this task rejected?"
	reasonInput.CharLimit = 500
	reasonInput.Width = 60

	return Model{
		engine:       eng,
		scheduler:    sched,
		help:         h,
		table:        newTable(calculateTableColumns(100)),
		historyTable: newTable(historyColumns(100)),
		searchInput:  searchInput,
		reasonInput:  reasonInput,
		viewport:     viewport.New(80, 20),
		mdRenderer:   renderer,
	}
}

func (m *Model) updateTable() {
	tasks := m.getDisplayTasks()
	if len(tasks) == 0 {
		m.table.SetRows([]table.Row{})
		return
	}

	columns := m.table.Columns()
	skuWidth, labelsWidth := 18, 14
	if len(columns) >= 2 {
		skuWidth = columns[0].Width - 2
		labelsWidth = columns[1].Width - 2
	}

	rows := make([]table.Row, len(tasks))
	for i, v := range tasks {
		rows[i] = table.Row{
			truncate(v.SKU, skuWidth),
			truncate(formatLabels(v), labelsWidth),
			orDash(v.Charge),
			planTitle(v),
			stageTitle(v.State.Stage()),
			formatCountdown(v.CountDown),
		}
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m *Model) updateHistoryTable() {
	rows := make([]table.Row, len(m.history))
	for i, e := range m.history {
		rows[i] = table.Row{
			e.SKU,
			e.Plan.Title(),
			orDash(e.Charge),
			string(e.ReviewStatus),
			e.CompletedAt.Local().Format("Jan 02 15:04"),
		}
	}
	m.historyTable.SetRows(rows)
}

func planTitle(v task.View) string {
	plan := v.State.Plan()
	if plan == task.Unselected {
		return "-"
	}
	if v.State.Frozen() {
		return plan.Title() + " (locked)"
	}
	return plan.Title()
}

func stageTitle(s task.Stage) string {
	switch s {
	case task.StageDormant:
		return "No plan"
	case task.StageInProgress:
		return "In progress"
	case task.StageCompletionCheck:
		return "Completion check"
	case task.StageUnderReview:
		return "Under review"
	default:
		return s.String()
	}
}

func formatLabels(v task.View) string {
	labels := v.Labels.Labels()
	if len(labels) == 0 {
		return "-"
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = strings.ReplaceAll(l.String(), "_", " ")
	}
	return strings.Join(parts, ", ")
}

func formatCountdown(hours int) string {
	if hours < 0 {
		return fmt.Sprintf("%dh over", -hours)
	}
	if hours >= 48 {
		return fmt.Sprintf("%dd %dh", hours/24, hours%24)
	}
	return fmt.Sprintf("%dh", hours)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max < 4 || len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// Messages
type tasksLoadedMsg struct {
	tasks []task.View
	stats task.Statistics
}
type historyLoadedMsg struct {
	entries []*task.Entry
	stats   task.HistoryStatistics
}
type actionDoneMsg struct{ status string }
type errMsg struct{ err error }
type tickMsg time.Time

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadTasks(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) loadTasks() tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		ctx := context.Background()
		tasks, err := eng.ListTasks(ctx, task.Filter{})
		if err != nil {
			return errMsg{err}
		}
		stats, err := eng.TaskStatistics(ctx, "")
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks: tasks, stats: stats}
	}
}

func (m *Model) loadHistory() tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		ctx := context.Background()
		entries, err := eng.ListHistory(ctx, task.HistoryFilter{})
		if err != nil {
			return errMsg{err}
		}
		stats, err := eng.HistoryStatistics(ctx)
		if err != nil {
			return errMsg{err}
		}
		return historyLoadedMsg{entries: entries, stats: stats}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.currentView {
		case ViewBoard:
			return m.updateBoard(msg)
		case ViewDetail:
			return m.updateDetail(msg)
		case ViewHistory:
			return m.updateHistory(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		tableWidth := min(msg.Width-4, maxTableWidth)
		m.table.SetColumns(calculateTableColumns(msg.Width))
		m.table.SetWidth(tableWidth)
		m.historyTable.SetColumns(historyColumns(msg.Width))
		m.historyTable.SetWidth(tableWidth)

		availableHeight := max(msg.Height-headerHeight-footerHeight-2, minTableHeight)
		m.table.SetHeight(availableHeight)
		m.historyTable.SetHeight(availableHeight)

		m.viewport.Width = msg.Width - 6
		m.viewport.Height = max(msg.Height-detailHeaderHeight-detailFooterHeight-2, 5)
		m.help.Width = msg.Width

		if renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width-10),
		); err == nil {
			m.mdRenderer = renderer
		}
		if m.selected != nil {
			m.viewport.SetContent(m.renderDetailContent())
		}
		m.updateTable()

	case tickMsg:
		if m.statusTimer > 0 {
			m.statusTimer--
			if m.statusTimer == 0 {
				m.statusMsg = ""
			}
		}
		m.ticks++
		cmds = append(cmds, tickCmd())
		if m.ticks%reloadEvery == 0 && !m.rejectMode {
			cmds = append(cmds, m.loadTasks())
		}

	case tasksLoadedMsg:
		m.tasks = msg.tasks
		m.stats = msg.stats
		m.filterTasks()
		m.updateTable()
		m.refreshSelected()

	case historyLoadedMsg:
		m.history = msg.entries
		m.historyStats = msg.stats
		m.updateHistoryTable()

	case actionDoneMsg:
		m.setStatus(msg.status, false)
		cmds = append(cmds, m.loadTasks())

	case errMsg:
		m.setStatus("Error: "+msg.err.Error(), true)
		cmds = append(cmds, m.loadTasks())
	}

	return m, tea.Batch(cmds...)
}

// refreshSelected keeps the detail view in step with the latest load and
// drops back to the board when the task is gone.
func (m *Model) refreshSelected() {
	if m.selected == nil {
		return
	}
	for i := range m.tasks {
		if m.tasks[i].SKU == m.selected.SKU {
			v := m.tasks[i]
			m.selected = &v
			m.viewport.SetContent(m.renderDetailContent())
			return
		}
	}
	m.selected = nil
	if m.currentView == ViewDetail {
		m.currentView = ViewBoard
	}
}

func (m *Model) updateBoard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.rejectMode {
		switch msg.String() {
		case "esc":
			m.closeReject()
			return m, nil
		case "enter":
			reason := strings.TrimSpace(m.reasonInput.Value())
			if reason == "" {
				m.setStatus("A rejection reason is required", true)
				return m, nil
			}
			sku, version := m.rejectSKU, m.rejectVer
			m.closeReject()
			return m, m.reject(sku, version, reason)
		default:
			m.reasonInput, cmd = m.reasonInput.Update(msg)
			return m, cmd
		}
	}

	if m.searchMode && m.searchInput.Focused() {
		switch msg.String() {
		case "esc":
			m.searchMode = false
			m.searchInput.SetValue("")
			m.searchInput.Blur()
			m.filteredTasks = nil
			m.updateTable()
			return m, nil
		case "enter":
			m.searchInput.Blur()
			return m, nil
		default:
			m.searchInput, cmd = m.searchInput.Update(msg)
			m.filterTasks()
			m.updateTable()
			return m, cmd
		}
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "/":
		m.searchMode = true
		m.searchInput.Focus()
		return m, textinput.Blink
	case "esc":
		if m.searchMode {
			m.searchMode = false
			m.searchInput.SetValue("")
			m.filteredTasks = nil
			m.updateTable()
		}
		return m, nil
	case "r":
		m.setStatus("Refreshed", false)
		return m, m.loadTasks()
	case "h":
		m.currentView = ViewHistory
		return m, m.loadHistory()
	case "enter":
		if v, ok := m.current(); ok {
			m.selected = &v
			m.currentView = ViewDetail
			m.viewport.SetContent(m.renderDetailContent())
			m.viewport.GotoTop()
		}
		return m, nil
	}

	if v, ok := m.current(); ok {
		if cmd, handled := m.action(msg.String(), v); handled {
			return m, cmd
		}
	}

	if len(m.getDisplayTasks()) > 0 {
		m.table, cmd = m.table.Update(msg)
	}
	return m, cmd
}

// action maps a lifecycle key to an engine command for v.
func (m *Model) action(k string, v task.View) (tea.Cmd, bool) {
	switch k {
	case "1", "2", "3":
		plan := task.Plan(int(k[0] - '0'))
		return m.selectPlan(v.SKU, v.Version, plan), true
	case "0":
		return m.selectPlan(v.SKU, v.Version, task.Unselected), true
	case "c":
		return m.confirmCheck(v.SKU, v.Version), true
	case "v":
		return m.confirmReview(v.SKU, v.Version), true
	case "a":
		return m.approve(v.SKU, v.Version), true
	case "x":
		m.rejectMode = true
		m.rejectSKU = v.SKU
		m.rejectVer = v.Version
		m.reasonInput.SetValue("")
		m.reasonInput.Focus()
		return textinput.Blink, true
	}
	return nil, false
}

func (m *Model) closeReject() {
	m.rejectMode = false
	m.rejectSKU = ""
	m.rejectVer = 0
	m.reasonInput.Blur()
	m.reasonInput.SetValue("")
}

func (m *Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.rejectMode {
		return m.updateBoard(msg)
	}
	switch msg.String() {
	case "esc", "q":
		m.currentView = ViewBoard
		m.selected = nil
		return m, nil
	case "r":
		return m, m.loadTasks()
	}
	if m.selected != nil {
		if cmd, handled := m.action(msg.String(), *m.selected); handled {
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) updateHistory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "h":
		m.currentView = ViewBoard
		return m, nil
	case "r":
		return m, m.loadHistory()
	}
	var cmd tea.Cmd
	m.historyTable, cmd = m.historyTable.Update(msg)
	return m, cmd
}

// current returns the task under the cursor
func (m *Model) current() (task.View, bool) {
	tasks := m.getDisplayTasks()
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(tasks) {
		return task.View{}, false
	}
	return tasks[idx], true
}

// getDisplayTasks returns the tasks currently being displayed (filtered or all)
func (m *Model) getDisplayTasks() []task.View {
	if m.searchMode && m.searchInput.Value() != "" {
		return m.filteredTasks
	}
	return m.tasks
}

// filterTasks filters tasks on SKU or owner
func (m *Model) filterTasks() {
	query := strings.ToLower(strings.TrimSpace(m.searchInput.Value()))
	if query == "" {
		m.filteredTasks = m.tasks
		return
	}

	m.filteredTasks = nil
	for _, v := range m.tasks {
		if strings.Contains(strings.ToLower(v.SKU), query) ||
			(v.Charge != nil && strings.Contains(strings.ToLower(*v.Charge), query)) {
			m.filteredTasks = append(m.filteredTasks, v)
		}
	}
}

func (m *Model) selectPlan(sku string, version int64, plan task.Plan) tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		if _, err := eng.SelectPlan(context.Background(), sku, version, plan); err != nil {
			return errMsg{err}
		}
		if plan == task.Unselected {
			return actionDoneMsg{"Plan withdrawn: " + sku}
		}
		return actionDoneMsg{fmt.Sprintf("%s: %s", plan.Title(), sku)}
	}
}

func (m *Model) confirmCheck(sku string, version int64) tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		if _, err := eng.ConfirmCompletionCheck(context.Background(), sku, version); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{"Completion check: " + sku}
	}
}

func (m *Model) confirmReview(sku string, version int64) tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		if _, err := eng.ConfirmReview(context.Background(), sku, version); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{"Sent to review: " + sku}
	}
}

func (m *Model) approve(sku string, version int64) tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		if _, err := eng.Approve(context.Background(), sku, version); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{"Approved and archived: " + sku}
	}
}

func (m *Model) reject(sku string, version int64, reason string) tea.Cmd {
	eng := m.engine
	return func() tea.Msg {
		if _, err := eng.Reject(context.Background(), sku, version, reason); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{"Rejected: " + sku}
	}
}

func (m *Model) setStatus(msg string, isErr bool) {
	m.statusMsg = msg
	m.statusErr = isErr
	m.statusTimer = 5
}

// Run starts the TUI application
func Run(eng *engine.Engine, sched *scheduler.Scheduler) error {
	m := NewModel(eng, sched)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
