package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tealeg/xlsx"

	"github.com/kylemclaren/slowstock/internal/inventory"
)

// MaxFileSize is the largest snapshot file accepted.
const MaxFileSize = 10 << 20

var (
	ErrTooLarge          = errors.New("file exceeds 10 MiB")
	ErrUnsupportedFormat = errors.New("unsupported file format, expected .xlsx or .csv")
	ErrNoData            = errors.New("file has no data rows")
	ErrMissingColumns    = errors.New("missing required columns")
)

// Columns names the snapshot sheet headers. An empty Warehouse is not
// required to be present.
type Columns struct {
	SKU       string `mapstructure:"sku"`
	Warehouse string `mapstructure:"warehouse"`
	Stock     string `mapstructure:"stock"`
	Pending   string `mapstructure:"pending"`
	InTransit string `mapstructure:"in_transit"`
	Sales     string `mapstructure:"sales"`
}

// DefaultColumns returns the headers of the warehouse system export.
func DefaultColumns() Columns {
	return Columns{
		SKU:       "马帮SKU",
		Warehouse: "仓库",
		Stock:     "库存数量",
		Pending:   "待发货量",
		InTransit: "在途量",
		Sales:     "最近7天销量",
	}
}

func (c Columns) required() []string {
	cols := []string{c.SKU, c.Warehouse, c.Stock, c.Pending, c.InTransit, c.Sales}
	out := cols[:0]
	for _, col := range cols {
		if col != "" {
			out = append(out, col)
		}
	}
	return out
}

// Supported reports whether name has an importable extension.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".csv":
		return true
	}
	return false
}

// ReadTable returns the first sheet of an xlsx file, or a CSV file, as
// rows of cell text. The format is chosen by the extension of name.
func ReadTable(name string, data []byte) ([][]string, error) {
	if len(data) > MaxFileSize {
		return nil, ErrTooLarge
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return readXLSX(data)
	case ".csv":
		return readCSV(data)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func readXLSX(data []byte) ([][]string, error) {
	file, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	if len(file.Sheets) == 0 {
		return nil, ErrNoData
	}
	var table [][]string
	for _, row := range file.Sheets[0].Rows {
		if row == nil {
			table = append(table, nil)
			continue
		}
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			if cell != nil {
				cells[i] = cell.String()
			}
		}
		table = append(table, cells)
	}
	return table, nil
}

func readCSV(data []byte) ([][]string, error) {
	// Excel writes a UTF-8 BOM in front of CSV exports
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	var table [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		table = append(table, rec)
	}
	return table, nil
}

// header maps column names to their index in the first row.
type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		name = strings.TrimSpace(name)
		if _, seen := h[name]; !seen && name != "" {
			h[name] = i
		}
	}
	return h
}

func (h header) missing(cols []string) []string {
	var out []string
	for _, c := range cols {
		if _, ok := h[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func (h header) cell(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// number parses a cell as a rounded integer; blank or malformed cells are 0.
func number(s string) int {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Round(f))
}

type totals struct {
	stock, pending, inTransit, sales int
}

// Rows groups a snapshot table by trimmed SKU across warehouses. The
// result keeps first-seen SKU order.
func Rows(table [][]string, cols Columns) ([]inventory.Row, error) {
	if len(table) < 2 {
		return nil, ErrNoData
	}
	h := newHeader(table[0])
	if missing := h.missing(cols.required()); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var order []string
	bySKU := make(map[string]*totals)
	for _, row := range table[1:] {
		sku := h.cell(row, cols.SKU)
		if sku == "" {
			continue
		}
		t, ok := bySKU[sku]
		if !ok {
			t = &totals{}
			bySKU[sku] = t
			order = append(order, sku)
		}
		t.stock += number(h.cell(row, cols.Stock))
		t.pending += number(h.cell(row, cols.Pending))
		t.inTransit += number(h.cell(row, cols.InTransit))
		t.sales += number(h.cell(row, cols.Sales))
	}
	if len(order) == 0 {
		return nil, ErrNoData
	}

	rows := make([]inventory.Row, len(order))
	for i, sku := range order {
		t := bySKU[sku]
		rows[i] = inventory.Row{
			SKU:          sku,
			InventoryNum: t.stock - t.pending + t.inTransit,
			SalesNum:     t.sales,
		}
	}
	return rows, nil
}

// ParseSnapshot reads a snapshot file into per-SKU rows.
func ParseSnapshot(name string, data []byte, cols Columns) ([]inventory.Row, error) {
	table, err := ReadTable(name, data)
	if err != nil {
		return nil, err
	}
	return Rows(table, cols)
}

// ParseOwnerPatterns reads an owner mapping file with pattern and owner
// columns, in file order.
func ParseOwnerPatterns(name string, data []byte) ([]inventory.OwnerPattern, error) {
	table, err := ReadTable(name, data)
	if err != nil {
		return nil, err
	}
	if len(table) < 1 {
		return nil, ErrNoData
	}
	h := newHeader(table[0])
	if missing := h.missing([]string{"pattern", "owner"}); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	patterns := []inventory.OwnerPattern{}
	for _, row := range table[1:] {
		p := inventory.OwnerPattern{Pattern: h.cell(row, "pattern"), Owner: h.cell(row, "owner")}
		if p.Pattern == "" && p.Owner == "" {
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}
