// Package models defines the core domain entities: resale records, aggregation rows, and accounts.
package models

import (
	"errors"
	"math"
	"strconv"
	"time"
)

// ResaleRecord is one row of the resale table.
// Month is the first day of the transaction month in UTC; Year is derived from it.
type ResaleRecord struct {
	Month       time.Time `json:"month"`
	Year        int       `json:"year"`
	Town        string    `json:"town"`
	FlatType    string    `json:"flat_type"`
	ResalePrice float64   `json:"resale_price"`
}

// Validate checks record field constraints.
func (r *ResaleRecord) Validate() error {
	if r.Month.IsZero() {
		return errors.New("month must be set")
	}
	if r.Year != r.Month.Year() {
		return errors.New("year must match month")
	}
	if r.Town == "" {
		return errors.New("town must not be empty")
	}
	if r.FlatType == "" {
		return errors.New("flat type must not be empty")
	}
	if math.IsNaN(r.ResalePrice) || r.ResalePrice < 0 {
		return errors.New("resale price must be a non-negative number")
	}
	return nil
}

// Price is an aggregated price measure. NaN and Inf marshal as JSON null,
// which is what a single-member sample standard deviation produces.
type Price float64

func (p Price) MarshalJSON() ([]byte, error) {
	f := float64(p)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

// PricePtr returns a pointer to p for optional measure fields.
func PricePtr(p float64) *Price {
	v := Price(p)
	return &v
}

// TrendRow is one group of a price trend or volatility analysis.
// Exactly one of Town/FlatType and one of AvgPrice/PriceVolatility is set.
type TrendRow struct {
	Town            string `json:"town,omitempty"`
	FlatType        string `json:"flat_type,omitempty"`
	Year            int    `json:"year"`
	AvgPrice        *Price `json:"avg_price,omitempty"`
	PriceVolatility *Price `json:"price_volatility,omitempty"`
}

// RoomTypeRow is the mean price of one flat type in one year.
type RoomTypeRow struct {
	Year     int    `json:"year"`
	FlatType string `json:"flat_type"`
	AvgPrice Price  `json:"avg_price"`
}

// ComparisonRow is the mean price of one town over a month range.
type ComparisonRow struct {
	Town     string `json:"town"`
	AvgPrice Price  `json:"avg_price"`
}

// ComparisonPoint is the mean price of one town in one period ("YYYY-MM" or "YYYY").
type ComparisonPoint struct {
	Date     string `json:"date"`
	Town     string `json:"town"`
	AvgPrice Price  `json:"avg_price"`
}

// Prediction is a forecast price for one year.
type Prediction struct {
	Year           int     `json:"year"`
	PredictedPrice float64 `json:"predicted_price"`
}
