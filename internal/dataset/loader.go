package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/hdbinsight/internal/logger"
)

// ErrDataUnavailable is returned when the dataset file does not exist.
var ErrDataUnavailable = errors.New("dataset unavailable")

const (
	colMonth       = "month"
	colTown        = "town"
	colFlatType    = "flat_type"
	colResalePrice = "resale_price"
)

var requiredColumns = []string{colMonth, colTown, colFlatType, colResalePrice}

// Values treated as missing, compared case-insensitively after trimming.
var missingValues = map[string]bool{
	"":     true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
	"null": true,
	"none": true,
	"#n/a": true,
}

// LoadStats summarizes what the loader kept and dropped.
type LoadStats struct {
	RowsRead          int
	MissingDropped    int
	DuplicatesDropped int
	BadPriceDropped   int
	BadMonthDropped   int
	Loaded            int
}

// Load reads a .csv or .xlsx resale file into a Table.
func Load(path string) (*Table, error) {
	t, stats, err := LoadWithStats(path)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded %d resale records from %s (read %d, dropped: %d missing, %d duplicate, %d bad price, %d bad month)",
		stats.Loaded, path, stats.RowsRead, stats.MissingDropped, stats.DuplicatesDropped,
		stats.BadPriceDropped, stats.BadMonthDropped)
	return t, nil
}

// LoadWithStats is Load that also reports load statistics.
func LoadWithStats(path string) (*Table, LoadStats, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, LoadStats{}, fmt.Errorf("%w: %s", ErrDataUnavailable, path)
		}
		return nil, LoadStats{}, fmt.Errorf("failed to stat dataset: %w", err)
	}

	var (
		header []string
		rows   [][]string
		err    error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		header, rows, err = readXLSX(path)
	default:
		header, rows, err = readCSV(path)
	}
	if err != nil {
		return nil, LoadStats{}, err
	}

	return build(header, rows)
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, fmt.Errorf("dataset is empty: %s", path)
		}
		return nil, nil, fmt.Errorf("failed to read dataset header: %w", err)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read dataset rows: %w", err)
	}
	return header, rows, nil
}

func readXLSX(path string) ([]string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook has no sheets: %s", path)
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("dataset is empty: %s", path)
	}
	return all[0], all[1:], nil
}

// build applies the load pipeline in order: drop missing, drop duplicates,
// coerce price, parse month, derive year, uppercase town and flat type.
func build(header []string, rows [][]string) (*Table, LoadStats, error) {
	stats := LoadStats{RowsRead: len(rows)}

	cols := make([]string, len(header))
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		cols[i] = h
		index[h] = i
	}
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			return nil, stats, fmt.Errorf("dataset missing required column %q", c)
		}
	}

	var extraIdx []int
	var extraCols []string
	for i, c := range cols {
		switch c {
		case colMonth, colTown, colFlatType, colResalePrice, "year":
			continue
		}
		extraIdx = append(extraIdx, i)
		extraCols = append(extraCols, c)
	}

	t := &Table{extraCols: extraCols}
	seen := make(map[string]struct{}, len(rows))

	for _, row := range rows {
		if hasMissing(row, len(cols)) {
			stats.MissingDropped++
			continue
		}
		row = row[:len(cols)]

		key := strings.Join(row, "\x1f")
		if _, dup := seen[key]; dup {
			stats.DuplicatesDropped++
			continue
		}
		seen[key] = struct{}{}

		price, err := strconv.ParseFloat(strings.TrimSpace(row[index[colResalePrice]]), 64)
		if err != nil || price < 0 {
			stats.BadPriceDropped++
			continue
		}

		month, err := parseMonth(row[index[colMonth]])
		if err != nil {
			stats.BadMonthDropped++
			continue
		}

		extras := make([]string, len(extraIdx))
		for j, idx := range extraIdx {
			extras[j] = row[idx]
		}

		t.months = append(t.months, month)
		t.years = append(t.years, month.Year())
		t.towns = append(t.towns, strings.ToUpper(row[index[colTown]]))
		t.flatTypes = append(t.flatTypes, strings.ToUpper(row[index[colFlatType]]))
		t.prices = append(t.prices, price)
		t.extras = append(t.extras, extras)
	}

	t.extraKinds = inferKinds(t.extras, len(extraCols))
	stats.Loaded = t.Len()
	return t, stats, nil
}

func hasMissing(row []string, width int) bool {
	if len(row) < width {
		return true
	}
	for _, v := range row[:width] {
		if missingValues[strings.ToLower(strings.TrimSpace(v))] {
			return true
		}
	}
	return false
}

// parseMonth accepts YYYY-MM or YYYY-MM-DD and truncates to the first of the month.
func parseMonth(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{MonthLayout, "2006-01-02"} {
		if m, err := time.Parse(layout, s); err == nil {
			return time.Date(m.Year(), m.Month(), 1, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid month %q", s)
}

// inferKinds marks a column numeric only when every value in it parses.
func inferKinds(extras [][]string, n int) []columnKind {
	kinds := make([]columnKind, n)
	for j := 0; j < n; j++ {
		isInt, isFloat := len(extras) > 0, len(extras) > 0
		for _, row := range extras {
			v := row[j]
			if isInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					isInt = false
				}
			}
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isFloat = false
				break
			}
		}
		switch {
		case isInt:
			kinds[j] = kindInt
		case isFloat:
			kinds[j] = kindFloat
		default:
			kinds[j] = kindString
		}
	}
	return kinds
}
