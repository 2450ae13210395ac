package importer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"

	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/engine"
	"github.com/kylemclaren/slowstock/internal/inventory"
	"github.com/kylemclaren/slowstock/internal/logging"
	"github.com/kylemclaren/slowstock/internal/task"
)

const csvHeader = "马帮SKU,仓库,库存数量,待发货量,在途量,最近7天销量\n"

func newTestImporter(t *testing.T) (*Importer, *db.DB) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "slowstock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	eng := engine.New(database, engine.WithLogger(logging.Discard()))
	return New(eng, WithLogger(logging.Discard())), database
}

func xlsxBytes(t *testing.T, rows [][]string) []byte {
	t.Helper()
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, file.Write(&buf))
	return buf.Bytes()
}

func TestRowsGroupsWarehouses(t *testing.T) {
	data := csvHeader +
		" A-1 ,US,100,10,5,3\n" +
		"A-1,UK,20.6,0,0,1.4\n" +
		",US,999,0,0,0\n" +
		"B-2,US,,,,\n" +
		"C-3,US,abc,1,0,2\n"

	rows, err := ParseSnapshot("snap.csv", []byte(data), DefaultColumns())
	require.NoError(t, err)
	assert.Equal(t, []inventory.Row{
		{SKU: "A-1", InventoryNum: 116, SalesNum: 4},
		{SKU: "B-2", InventoryNum: 0, SalesNum: 0},
		{SKU: "C-3", InventoryNum: -1, SalesNum: 2},
	}, rows)
}

func TestParseSnapshotErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		want error
	}{
		{"missing columns", "a.csv", []byte("马帮SKU,库存数量\nA,1\n"), ErrMissingColumns},
		{"header only", "a.csv", []byte(csvHeader), ErrNoData},
		{"only blank skus", "a.csv", []byte(csvHeader + ",US,1,0,0,0\n"), ErrNoData},
		{"unsupported", "a.xls", []byte("x"), ErrUnsupportedFormat},
		{"too large", "a.csv", make([]byte, MaxFileSize+1), ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot(tt.file, tt.data, DefaultColumns())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMissingColumnsNamed(t *testing.T) {
	_, err := ParseSnapshot("a.csv", []byte("马帮SKU,仓库,库存数量\nA,US,1\n"), DefaultColumns())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "待发货量")
	assert.Contains(t, err.Error(), "最近7天销量")
}

func TestOptionalWarehouseColumn(t *testing.T) {
	cols := DefaultColumns()
	cols.Warehouse = ""
	rows, err := ParseSnapshot("a.csv", []byte("马帮SKU,库存数量,待发货量,在途量,最近7天销量\nA,5,0,0,0\n"), cols)
	require.NoError(t, err)
	assert.Equal(t, []inventory.Row{{SKU: "A", InventoryNum: 5}}, rows)
}

func TestParseXLSX(t *testing.T) {
	data := xlsxBytes(t, [][]string{
		strings.Split(strings.TrimSpace(csvHeader), ","),
		{"X2", "US", "100", "0", "0", "0"},
		{"X3", "US", "2000", "0", "0", "400"},
	})
	rows, err := ParseSnapshot("snap.xlsx", data, DefaultColumns())
	require.NoError(t, err)
	assert.Equal(t, []inventory.Row{
		{SKU: "X2", InventoryNum: 100},
		{SKU: "X3", InventoryNum: 2000, SalesNum: 400},
	}, rows)
}

func TestCSVWithBOM(t *testing.T) {
	rows, err := ParseSnapshot("a.csv", []byte("\xef\xbb\xbf"+csvHeader+"A,US,3,0,0,0\n"), DefaultColumns())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestParseOwnerPatterns(t *testing.T) {
	data := "pattern,owner\nAB,alice\n,\nCD,bob\n"
	patterns, err := ParseOwnerPatterns("owners.csv", []byte(data))
	require.NoError(t, err)
	assert.Equal(t, []inventory.OwnerPattern{{Pattern: "AB", Owner: "alice"}, {Pattern: "CD", Owner: "bob"}}, patterns)

	_, err = ParseOwnerPatterns("owners.csv", []byte("sku,owner\n"))
	assert.ErrorIs(t, err, ErrMissingColumns)
}

func TestImportRecordsRun(t *testing.T) {
	ctx := context.Background()
	imp, database := newTestImporter(t)

	res := imp.Import(ctx, "snap.csv", []byte(csvHeader+"A,US,100,0,0,0\nB,US,10,0,0,10\n"))
	require.NoError(t, res.Error)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, db.RunStatusCompleted, res.Run.Status)
	assert.Equal(t, 2, res.Run.Inserted)
	assert.Equal(t, 1, res.Run.Promoted)

	stored, err := database.GetImportRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusCompleted, stored.Status)
	assert.NotNil(t, stored.EndedAt)

	tk, err := database.GetTask(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, task.StageDormant, tk.State.Stage())
}

func TestImportFailureRecorded(t *testing.T) {
	ctx := context.Background()
	imp, _ := newTestImporter(t)

	res := imp.Import(ctx, "bad.csv", []byte("nope\n"))
	require.Error(t, res.Error)
	assert.Equal(t, db.RunStatusFailed, res.Run.Status)
	require.NotNil(t, res.Run.Error)

	runs, err := imp.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.RunStatusFailed, runs[0].Status)
}

func TestImportAsync(t *testing.T) {
	ctx := context.Background()
	imp, database := newTestImporter(t)

	run, done, err := imp.ImportAsync(ctx, "snap.csv", []byte(csvHeader+"A,US,100,0,0,0\n"))
	require.NoError(t, err)
	require.NotZero(t, run.ID)
	assert.Equal(t, db.RunStatusRunning, run.Status)

	select {
	case res := <-done:
		require.NoError(t, res.Error)
		assert.Equal(t, run.ID, res.Run.ID)
		assert.Equal(t, 1, res.Run.Promoted)
	case <-time.After(5 * time.Second):
		t.Fatal("async import did not finish")
	}

	stored, err := database.GetImportRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusCompleted, stored.Status)

	_, done, err = imp.ImportAsync(ctx, "bad.csv", []byte("nope\n"))
	require.NoError(t, err)
	res := <-done
	require.Error(t, res.Error)
	assert.Equal(t, db.RunStatusFailed, res.Run.Status)
}

func TestProcessDropDir(t *testing.T) {
	ctx := context.Background()
	imp, database := newTestImporter(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.csv"), []byte(csvHeader+"A,US,100,0,0,0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.csv"), []byte("junk\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	results, err := imp.ProcessDropDir(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "good.csv"))
	assert.FileExists(t, filepath.Join(dir, FailedDir, "bad.csv"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "good.csv"))

	_, err = database.GetTask(ctx, "A")
	require.NoError(t, err)

	results, err = imp.ProcessDropDir(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMarkStaleRuns(t *testing.T) {
	ctx := context.Background()
	imp, database := newTestImporter(t)

	run := &db.ImportRun{Source: "x.csv", StartedAt: imp.now(), Status: db.RunStatusRunning}
	require.NoError(t, database.CreateImportRun(ctx, run))

	n, err := imp.MarkStaleRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := database.GetImportRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, stored.Status)
}
