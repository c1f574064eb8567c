// Package forecast fits a linear price trend per town and extrapolates it.
package forecast

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/hdbinsight/internal/analytics"
	"github.com/rewired-gh/hdbinsight/internal/dataset"
	"github.com/rewired-gh/hdbinsight/internal/models"
)

const (
	DefaultYears    = 5
	DefaultBaseYear = 2025

	// minYears is the fewest distinct years a fit is attempted on.
	minYears = 3
)

// Options controls a forecast. Zero values fall back to the defaults.
type Options struct {
	Years    int
	BaseYear int
	FlatType string
}

// Result is either a list of predictions or an error message, never both.
type Result struct {
	Town        string              `json:"town,omitempty"`
	Predictions []models.Prediction `json:"predictions,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Failed reports whether the forecast could not be produced.
func (r Result) Failed() bool { return r.Error != "" }

// Predict fits ordinary least squares of yearly mean price against year for
// the matching slice of t and predicts opts.Years consecutive years starting
// at opts.BaseYear. The model is refit on every call.
func Predict(t *dataset.Table, town string, opts Options) Result {
	if opts.Years <= 0 {
		opts.Years = DefaultYears
	}
	if opts.BaseYear == 0 {
		opts.BaseYear = DefaultBaseYear
	}

	target := strings.ToUpper(strings.TrimSpace(town))
	flatType := ""
	if strings.TrimSpace(opts.FlatType) != "" {
		flatType = analytics.NormalizeFlatType(opts.FlatType)
	}

	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i := 0; i < t.Len(); i++ {
		if t.Town(i) != target {
			continue
		}
		if flatType != "" && t.FlatType(i) != flatType {
			continue
		}
		y := t.Year(i)
		sums[y] += t.Price(i)
		counts[y]++
	}

	if len(counts) == 0 {
		return Result{Error: fmt.Sprintf("No data found for %s", town)}
	}
	if len(counts) < minYears {
		return Result{Error: fmt.Sprintf("Not enough data to make prediction for %s", town)}
	}

	years := make([]int, 0, len(counts))
	for y := range counts {
		years = append(years, y)
	}
	slices.Sort(years)
	xs := make([]float64, len(years))
	ys := make([]float64, len(years))
	for i, y := range years {
		xs[i] = float64(y)
		ys[i] = sums[y] / float64(counts[y])
	}

	slope, intercept := fitLine(xs, ys)

	preds := make([]models.Prediction, 0, opts.Years)
	for i := 0; i < opts.Years; i++ {
		year := opts.BaseYear + i
		p := intercept + slope*float64(year)
		preds = append(preds, models.Prediction{
			Year:           year,
			PredictedPrice: roundPrice(p),
		})
	}
	return Result{Town: town, Predictions: preds}
}

// roundPrice rounds to cents, sending exact halves to the even neighbour.
func roundPrice(p float64) float64 {
	return decimal.NewFromFloat(p).RoundBank(2).InexactFloat64()
}

// fitLine returns the least-squares slope and intercept of ys on xs.
// xs are centred first so large year values do not cost precision.
func fitLine(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= n
	meanY /= n

	var sxy, sxx float64
	for i := range xs {
		dx := xs[i] - meanX
		sxy += dx * (ys[i] - meanY)
		sxx += dx * dx
	}
	if sxx == 0 {
		return 0, meanY
	}
	slope = sxy / sxx
	return slope, meanY - slope*meanX
}
