// Package dataset loads the resale price file into an immutable in-memory table.
package dataset

import (
	"strconv"
	"time"

	"github.com/rewired-gh/hdbinsight/internal/models"
)

// MonthLayout is the wire format for calendar months.
const MonthLayout = "2006-01"

type columnKind int

const (
	kindString columnKind = iota
	kindInt
	kindFloat
)

// Table is a columnar, read-only view of the resale dataset.
// It is never mutated after construction and is safe for concurrent readers.
type Table struct {
	months    []time.Time
	years     []int
	towns     []string
	flatTypes []string
	prices    []float64

	// Source columns other than the core ones, kept for raw record retrieval.
	extraCols  []string
	extraKinds []columnKind
	extras     [][]string
}

// NewTable builds a table from already-normalized records.
func NewTable(records []models.ResaleRecord) *Table {
	t := &Table{
		months:    make([]time.Time, 0, len(records)),
		years:     make([]int, 0, len(records)),
		towns:     make([]string, 0, len(records)),
		flatTypes: make([]string, 0, len(records)),
		prices:    make([]float64, 0, len(records)),
	}
	for _, r := range records {
		t.months = append(t.months, r.Month)
		t.years = append(t.years, r.Year)
		t.towns = append(t.towns, r.Town)
		t.flatTypes = append(t.flatTypes, r.FlatType)
		t.prices = append(t.prices, r.ResalePrice)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.prices) }

func (t *Table) Month(i int) time.Time { return t.months[i] }
func (t *Table) Year(i int) int        { return t.years[i] }
func (t *Table) Town(i int) string     { return t.towns[i] }
func (t *Table) FlatType(i int) string { return t.flatTypes[i] }
func (t *Table) Price(i int) float64   { return t.prices[i] }

// Record returns row i as a ResaleRecord.
func (t *Table) Record(i int) models.ResaleRecord {
	return models.ResaleRecord{
		Month:       t.months[i],
		Year:        t.years[i],
		Town:        t.towns[i],
		FlatType:    t.flatTypes[i],
		ResalePrice: t.prices[i],
	}
}

// Row returns row i with every source column, month formatted as YYYY-MM.
// Extra columns are typed by the kind inferred for the whole column at load.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, 5+len(t.extraCols))
	row["month"] = t.months[i].Format(MonthLayout)
	row["year"] = t.years[i]
	row["town"] = t.towns[i]
	row["flat_type"] = t.flatTypes[i]
	row["resale_price"] = t.prices[i]
	for j, col := range t.extraCols {
		raw := t.extras[i][j]
		switch t.extraKinds[j] {
		case kindInt:
			n, _ := strconv.ParseInt(raw, 10, 64)
			row[col] = n
		case kindFloat:
			f, _ := strconv.ParseFloat(raw, 64)
			row[col] = f
		default:
			row[col] = raw
		}
	}
	return row
}

// Columns returns the extra (non-core) column names in source order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.extraCols))
	copy(out, t.extraCols)
	return out
}
