package tui

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/slowstock/internal/clock"
	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/engine"
	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/logging"
	"github.com/kylemclaren/slowstock/internal/task"
)

func newTestModel(t *testing.T, rows ...inventory.Row) (Model, *engine.Engine) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "slowstock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	clk := clock.NewFake(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))
	eng := engine.New(database, engine.WithClock(clk), engine.WithLogger(logging.Discard()))
	_, err = eng.SubmitSnapshot(context.Background(), rows)
	require.NoError(t, err)

	m := NewModel(eng, nil)
	m = send(t, m, m.loadTasks()())
	return m, eng
}

func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return asModel(t, next)
}

// asModel unwraps Update's result; key handlers return *Model.
func asModel(t *testing.T, next tea.Model) Model {
	t.Helper()
	switch v := next.(type) {
	case Model:
		return v
	case *Model:
		return *v
	default:
		t.Fatalf("unexpected model type %T", next)
		return Model{}
	}
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, cmd := m.Update(msg)
	return asModel(t, next), cmd
}

// act presses k, runs the resulting engine command and reloads the board.
func act(t *testing.T, m Model, k string) (Model, tea.Msg) {
	t.Helper()
	m, cmd := press(t, m, k)
	require.NotNil(t, cmd)
	msg := cmd()
	m = send(t, m, msg)
	m = send(t, m, m.loadTasks()())
	return m, msg
}

func stage(t *testing.T, eng *engine.Engine, sku string) task.Stage {
	t.Helper()
	v, err := eng.GetTask(context.Background(), sku)
	require.NoError(t, err)
	return v.State.Stage()
}

func TestBoardLoadsTasks(t *testing.T) {
	m, _ := newTestModel(t,
		inventory.Row{SKU: "A-1", InventoryNum: 100},
		inventory.Row{SKU: "B-2", InventoryNum: 2000, SalesNum: 400},
		inventory.Row{SKU: "C-3", InventoryNum: 0},
	)
	assert.Len(t, m.tasks, 2)
	assert.Len(t, m.table.Rows(), 2)
	assert.Equal(t, 2, m.stats.NoPlan)
	assert.Contains(t, m.View(), "Slow Stock Tasks")
}

func TestLifecycleKeys(t *testing.T) {
	m, eng := newTestModel(t, inventory.Row{SKU: "A-1", InventoryNum: 100})

	m, msg := act(t, m, "2")
	assert.IsType(t, actionDoneMsg{}, msg)
	assert.Equal(t, task.StageInProgress, stage(t, eng, "A-1"))
	assert.Equal(t, "Price-cut clearance", m.table.Rows()[0][3])

	m, _ = act(t, m, "c")
	assert.Equal(t, task.StageCompletionCheck, stage(t, eng, "A-1"))

	m, _ = act(t, m, "v")
	assert.Equal(t, task.StageUnderReview, stage(t, eng, "A-1"))

	m, cmd := press(t, m, "x")
	require.NotNil(t, cmd)
	assert.True(t, m.rejectMode)
	for _, r := range "still listed" {
		m, _ = press(t, m, string(r))
	}
	m, cmd = press(t, m, "enter")
	require.NotNil(t, cmd)
	assert.False(t, m.rejectMode)
	m = send(t, m, cmd())
	m = send(t, m, m.loadTasks()())

	v, err := eng.GetTask(context.Background(), "A-1")
	require.NoError(t, err)
	assert.Equal(t, task.StageCompletionCheck, v.State.Stage())
	require.NotNil(t, v.RejectReason)
	assert.Equal(t, "still listed", *v.RejectReason)
	assert.Equal(t, 1, v.PriceReductionFailures)

	m, _ = act(t, m, "v")
	m, _ = act(t, m, "a")
	assert.Empty(t, m.tasks)
	assert.Contains(t, m.statusMsg, "Approved")

	m, cmd = press(t, m, "h")
	require.NotNil(t, cmd)
	m = send(t, m, cmd())
	assert.Equal(t, ViewHistory, m.currentView)
	require.Len(t, m.history, 1)
	assert.Equal(t, task.ReviewApproved, m.history[0].ReviewStatus)
	assert.Contains(t, m.View(), "History")
}

func TestRejectNeedsReason(t *testing.T) {
	m, _ := newTestModel(t, inventory.Row{SKU: "A-1", InventoryNum: 100})
	m, _ = press(t, m, "x")
	m, cmd := press(t, m, "enter")
	assert.Nil(t, cmd)
	assert.True(t, m.rejectMode)
	assert.True(t, m.statusErr)

	m, _ = press(t, m, "esc")
	assert.False(t, m.rejectMode)
}

func TestInvalidTransitionShowsError(t *testing.T) {
	m, eng := newTestModel(t, inventory.Row{SKU: "A-1", InventoryNum: 100})
	m, msg := act(t, m, "a")
	assert.IsType(t, errMsg{}, msg)
	assert.True(t, m.statusErr)
	assert.Equal(t, task.StageDormant, stage(t, eng, "A-1"))
}

func TestWithdrawPlan(t *testing.T) {
	m, eng := newTestModel(t, inventory.Row{SKU: "A-1", InventoryNum: 100})
	m, _ = act(t, m, "1")
	assert.Equal(t, task.StageInProgress, stage(t, eng, "A-1"))
	_, _ = act(t, m, "0")
	assert.Equal(t, task.StageDormant, stage(t, eng, "A-1"))
}

func TestSearchFilters(t *testing.T) {
	m, _ := newTestModel(t,
		inventory.Row{SKU: "A-1", InventoryNum: 100},
		inventory.Row{SKU: "B-2", InventoryNum: 100},
	)
	m, _ = press(t, m, "/")
	m, _ = press(t, m, "b")
	require.Len(t, m.getDisplayTasks(), 1)
	assert.Equal(t, "B-2", m.getDisplayTasks()[0].SKU)

	m, _ = press(t, m, "esc")
	assert.Len(t, m.getDisplayTasks(), 2)
}

func TestDetailView(t *testing.T) {
	m, _ := newTestModel(t, inventory.Row{SKU: "A-1", InventoryNum: 100})
	m, _ = press(t, m, "enter")
	require.Equal(t, ViewDetail, m.currentView)
	require.NotNil(t, m.selected)
	assert.Equal(t, "A-1", m.selected.SKU)

	m, _ = act(t, m, "3")
	require.NotNil(t, m.selected)
	assert.Equal(t, task.Disposal, m.selected.State.Plan())

	m, _ = press(t, m, "esc")
	assert.Equal(t, ViewBoard, m.currentView)
	assert.Nil(t, m.selected)
}

func TestTaskMarkdown(t *testing.T) {
	saleDay := 35
	owner := "alice"
	reason := "photos missing"
	tk := &task.Task{
		SKU:                    "X3",
		InventoryNum:           2000,
		SalesNum:               400,
		SaleDay:                &saleDay,
		Labels:                 inventory.NewLabelSet(inventory.AgingWarning),
		Charge:                 &owner,
		State:                  task.Selected(task.PriceCutClearance),
		PriceReductionFailures: 1,
		RejectReason:           &reason,
		ImageURLs:              []string{"/evidence/a.png"},
	}
	doc := taskMarkdown(task.NewView(tk, tk.CreatedAt))

	assert.Contains(t, doc, "# X3")
	assert.Contains(t, doc, "| Owner | alice |")
	assert.Contains(t, doc, "| Sale days | 35 |")
	assert.Contains(t, doc, "| Labels | aging warning |")
	assert.Contains(t, doc, "| Suggested discount | 30% |")
	assert.Contains(t, doc, "> photos missing")
	assert.Contains(t, doc, "- /evidence/a.png")
}

func TestFormatCountdown(t *testing.T) {
	assert.Equal(t, "23h", formatCountdown(23))
	assert.Equal(t, "7d 0h", formatCountdown(168))
	assert.Equal(t, "0h", formatCountdown(0))
	assert.Equal(t, "5h over", formatCountdown(-5))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "朱梦...", truncate("朱梦婷朱梦婷", 5))
}
