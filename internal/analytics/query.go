// Package analytics implements read-only queries over the resale table.
package analytics

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/hdbinsight/internal/dataset"
	"github.com/rewired-gh/hdbinsight/internal/models"
)

// Analysis types accepted by Analysis.
const (
	PriceTrends = "price_trends"
	Volatility  = "volatility"
)

// Comparison graph intervals.
const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

// Raw data is served for this fixed historical window, inclusive.
var (
	rawWindowStart = time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)
	rawWindowEnd   = time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC)
)

// Service answers queries against one immutable table. It holds no mutable
// state and is safe for concurrent use.
type Service struct {
	table *dataset.Table
}

// New creates a query service over t.
func New(t *dataset.Table) *Service {
	return &Service{table: t}
}

// AnalysisQuery selects rows for Analysis. The year range applies only when
// both bounds are set.
type AnalysisQuery struct {
	Towns     []string
	Type      string
	StartYear *int
	EndYear   *int
	RoomType  string
}

type nameYear struct {
	name string
	year int
}

func compareNameYear(a, b nameYear) int {
	return cmp.Or(strings.Compare(a.name, b.name), cmp.Compare(a.year, b.year))
}

type yearName struct {
	year int
	name string
}

func compareYearName(a, b yearName) int {
	return cmp.Or(cmp.Compare(a.year, b.year), strings.Compare(a.name, b.name))
}

type periodTown struct {
	period string
	town   string
}

func comparePeriodTown(a, b periodTown) int {
	return cmp.Or(strings.Compare(a.period, b.period), strings.Compare(a.town, b.town))
}

func normalizeTown(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeFlatType uppercases s and treats hyphens as spaces ("4-room" -> "4 ROOM").
func NormalizeFlatType(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", " ")
}

func townSet(towns []string) map[string]bool {
	set := make(map[string]bool, len(towns))
	for _, t := range towns {
		if n := normalizeTown(t); n != "" {
			set[n] = true
		}
	}
	return set
}

func inYearRange(year int, start, end *int) bool {
	if start == nil || end == nil {
		return true
	}
	return year >= *start && year <= *end
}

// Towns returns the distinct towns in first-appearance order.
func (s *Service) Towns() []string {
	seen := make(map[string]bool)
	towns := []string{}
	for i := 0; i < s.table.Len(); i++ {
		t := s.table.Town(i)
		if !seen[t] {
			seen[t] = true
			towns = append(towns, t)
		}
	}
	return towns
}

// Years returns the distinct years in ascending order.
func (s *Service) Years() []int {
	seen := make(map[int]bool)
	years := []int{}
	for i := 0; i < s.table.Len(); i++ {
		y := s.table.Year(i)
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	slices.Sort(years)
	return years
}

// Analysis computes per-year price trends or volatility for a set of towns.
//
// price_trends groups by (town, year) when a room type is given and by
// (flat_type, year) otherwise; volatility always groups by (town, year).
func (s *Service) Analysis(q AnalysisQuery) ([]models.TrendRow, error) {
	towns := townSet(q.Towns)
	if len(towns) == 0 {
		return nil, invalidArgument("No towns selected")
	}
	kind := q.Type
	if kind == "" {
		kind = PriceTrends
	}
	if kind != PriceTrends && kind != Volatility {
		return nil, invalidArgument("Invalid analysis type.")
	}

	roomType := ""
	if strings.TrimSpace(q.RoomType) != "" {
		roomType = NormalizeFlatType(q.RoomType)
	}
	byTown := kind == Volatility || roomType != ""

	g := newGrouper[nameYear]()
	for i := 0; i < s.table.Len(); i++ {
		if !towns[s.table.Town(i)] {
			continue
		}
		if roomType != "" && s.table.FlatType(i) != roomType {
			continue
		}
		year := s.table.Year(i)
		if !inYearRange(year, q.StartYear, q.EndYear) {
			continue
		}
		name := s.table.FlatType(i)
		if byTown {
			name = s.table.Town(i)
		}
		g.add(nameYear{name: name, year: year}, s.table.Price(i))
	}

	rows := make([]models.TrendRow, 0, g.len())
	g.each(compareNameYear, func(k nameYear, acc *accumulator) {
		row := models.TrendRow{Year: k.year}
		if byTown {
			row.Town = k.name
		} else {
			row.FlatType = k.name
		}
		if kind == Volatility {
			row.PriceVolatility = models.PricePtr(acc.StdDev())
		} else {
			row.AvgPrice = models.PricePtr(acc.Mean())
		}
		rows = append(rows, row)
	})
	return rows, nil
}

// RoomTypeTrends returns the mean price per (year, flat type) for one town.
func (s *Service) RoomTypeTrends(town string, startYear, endYear *int) ([]models.RoomTypeRow, error) {
	target := normalizeTown(town)
	if target == "" {
		return nil, invalidArgument("Missing town parameter.")
	}

	g := newGrouper[yearName]()
	for i := 0; i < s.table.Len(); i++ {
		if s.table.Town(i) != target {
			continue
		}
		year := s.table.Year(i)
		if !inYearRange(year, startYear, endYear) {
			continue
		}
		g.add(yearName{year: year, name: s.table.FlatType(i)}, s.table.Price(i))
	}

	rows := make([]models.RoomTypeRow, 0, g.len())
	g.each(compareYearName, func(k yearName, acc *accumulator) {
		rows = append(rows, models.RoomTypeRow{Year: k.year, FlatType: k.name, AvgPrice: models.Price(acc.Mean())})
	})
	return rows, nil
}

// monthRange validates comparison inputs and parses the inclusive month bounds.
func monthRange(towns []string, startMonth, endMonth string) (map[string]bool, time.Time, time.Time, error) {
	set := townSet(towns)
	startMonth, endMonth = strings.TrimSpace(startMonth), strings.TrimSpace(endMonth)
	if len(set) == 0 || startMonth == "" || endMonth == "" {
		return nil, time.Time{}, time.Time{}, invalidArgument("Missing required parameters.")
	}
	start, err := time.Parse(dataset.MonthLayout, startMonth)
	if err != nil {
		return nil, time.Time{}, time.Time{}, invalidFormat("Invalid date format. Use YYYY-MM.")
	}
	end, err := time.Parse(dataset.MonthLayout, endMonth)
	if err != nil {
		return nil, time.Time{}, time.Time{}, invalidFormat("Invalid date format. Use YYYY-MM.")
	}
	return set, start, end, nil
}

func inMonthRange(m, start, end time.Time) bool {
	return !m.Before(start) && !m.After(end)
}

// ComparisonTable returns the mean price per town over an inclusive month range.
func (s *Service) ComparisonTable(towns []string, startMonth, endMonth string) ([]models.ComparisonRow, error) {
	set, start, end, err := monthRange(towns, startMonth, endMonth)
	if err != nil {
		return nil, err
	}

	g := newGrouper[string]()
	for i := 0; i < s.table.Len(); i++ {
		if !set[s.table.Town(i)] || !inMonthRange(s.table.Month(i), start, end) {
			continue
		}
		g.add(s.table.Town(i), s.table.Price(i))
	}

	rows := make([]models.ComparisonRow, 0, g.len())
	g.each(strings.Compare, func(town string, acc *accumulator) {
		rows = append(rows, models.ComparisonRow{Town: town, AvgPrice: models.Price(acc.Mean())})
	})
	return rows, nil
}

// ComparisonGraph returns the mean price per (period, town) over an inclusive
// month range. Periods are "YYYY-MM" for IntervalMonth and "YYYY" for IntervalYear.
func (s *Service) ComparisonGraph(towns []string, startMonth, endMonth, interval string) ([]models.ComparisonPoint, error) {
	set, start, end, err := monthRange(towns, startMonth, endMonth)
	if err != nil {
		return nil, err
	}
	if interval == "" {
		interval = IntervalMonth
	}
	if interval != IntervalMonth && interval != IntervalYear {
		return nil, invalidArgument("Invalid interval. Use month or year.")
	}

	g := newGrouper[periodTown]()
	for i := 0; i < s.table.Len(); i++ {
		m := s.table.Month(i)
		if !set[s.table.Town(i)] || !inMonthRange(m, start, end) {
			continue
		}
		period := m.Format(dataset.MonthLayout)
		if interval == IntervalYear {
			period = strconv.Itoa(m.Year())
		}
		g.add(periodTown{period: period, town: s.table.Town(i)}, s.table.Price(i))
	}

	points := make([]models.ComparisonPoint, 0, g.len())
	g.each(comparePeriodTown, func(k periodTown, acc *accumulator) {
		points = append(points, models.ComparisonPoint{Date: k.period, Town: k.town, AvgPrice: models.Price(acc.Mean())})
	})
	return points, nil
}

// RawData returns every record for one town within 2017-01..2025-12,
// optionally restricted to a flat type (case-insensitive).
func (s *Service) RawData(town, roomType string) ([]map[string]any, error) {
	target := normalizeTown(town)
	if target == "" {
		return nil, invalidArgument("Missing required parameter (town).")
	}
	flatType := strings.ToUpper(strings.TrimSpace(roomType))

	rows := []map[string]any{}
	for i := 0; i < s.table.Len(); i++ {
		if s.table.Town(i) != target || !inMonthRange(s.table.Month(i), rawWindowStart, rawWindowEnd) {
			continue
		}
		if flatType != "" && s.table.FlatType(i) != flatType {
			continue
		}
		rows = append(rows, s.table.Row(i))
	}
	return rows, nil
}
