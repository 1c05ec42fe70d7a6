package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// parseFile dispatches on the file extension: spreadsheets go through
// excelize, everything else is read as delimited text.
func parseFile(path string) (*Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls", ".xlsm":
		return parseSpreadsheet(path)
	default:
		return parseDelimited(path)
	}
}

func parseDelimited(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return fromRows(rows)
}

func parseSpreadsheet(path string) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets in %s", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return fromRows(rows)
}

// fromRows builds a typed Dataset from a header row plus data rows.
func fromRows(rows [][]string) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty table: no header row")
	}
	header := rows[0]
	columns := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i)
		}
		// A repeated header would shadow the earlier column, so later
		// occurrences get a numeric suffix.
		if used[name] {
			base := name
			for k := 1; ; k++ {
				name = fmt.Sprintf("%s_%d", base, k)
				if !used[name] {
					break
				}
			}
		}
		used[name] = true
		columns[i] = name
	}

	raw := make([][]string, len(columns))
	for i := range raw {
		raw[i] = make([]string, 0, len(rows)-1)
	}
	for _, row := range rows[1:] {
		for i := range columns {
			cell := ""
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
			}
			raw[i] = append(raw[i], cell)
		}
	}

	types := make(map[string]Type, len(columns))
	values := make(map[string][]any, len(columns))
	for i, name := range columns {
		t, col := inferColumn(raw[i])
		types[name] = t
		values[name] = col
	}
	return New(columns, types, values)
}

// inferColumn picks the narrowest type that fits every non-empty cell, in
// order int64, float64, bool, string. Empty cells become nil and do not
// affect inference.
func inferColumn(cells []string) (Type, []any) {
	isInt, isFloat, isBool := true, true, true
	nonEmpty := 0
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		nonEmpty++
		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			switch strings.ToLower(cell) {
			case "true", "false":
			default:
				isBool = false
			}
		}
	}

	t := TypeString
	switch {
	case nonEmpty == 0:
		t = TypeString
	case isInt:
		t = TypeInt
	case isFloat:
		t = TypeFloat
	case isBool:
		t = TypeBool
	}

	out := make([]any, len(cells))
	for i, cell := range cells {
		if cell == "" {
			out[i] = nil
			continue
		}
		switch t {
		case TypeInt:
			n, _ := strconv.ParseInt(cell, 10, 64)
			out[i] = n
		case TypeFloat:
			f, _ := strconv.ParseFloat(cell, 64)
			out[i] = f
		case TypeBool:
			out[i] = strings.EqualFold(cell, "true")
		default:
			out[i] = cell
		}
	}
	return t, out
}
