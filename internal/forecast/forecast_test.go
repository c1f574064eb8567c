package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/hdbinsight/internal/dataset"
	"github.com/rewired-gh/hdbinsight/internal/models"
)

func rec(town, flatType string, year int, price float64) models.ResaleRecord {
	return models.ResaleRecord{
		Month:       time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC),
		Year:        year,
		Town:        town,
		FlatType:    flatType,
		ResalePrice: price,
	}
}

func TestPredict_LinearScenario(t *testing.T) {
	table := dataset.NewTable([]models.ResaleRecord{
		rec("BEDOK", "4 ROOM", 2019, 300000),
		rec("BEDOK", "4 ROOM", 2020, 305000),
		rec("BEDOK", "4 ROOM", 2020, 315000),
		rec("BEDOK", "4 ROOM", 2021, 320000),
	})

	res := Predict(table, "bedok", Options{Years: 2, BaseYear: 2022})
	if res.Failed() {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.Town != "bedok" {
		t.Errorf("Town = %q, want the caller's input", res.Town)
	}

	want := []models.Prediction{
		{Year: 2022, PredictedPrice: 330000},
		{Year: 2023, PredictedPrice: 340000},
	}
	if len(res.Predictions) != len(want) {
		t.Fatalf("got %d predictions, want %d", len(res.Predictions), len(want))
	}
	for i, w := range want {
		got := res.Predictions[i]
		if got.Year != w.Year || math.Abs(got.PredictedPrice-w.PredictedPrice) > 0.005 {
			t.Errorf("prediction %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestPredict_Defaults(t *testing.T) {
	table := dataset.NewTable([]models.ResaleRecord{
		rec("YISHUN", "3 ROOM", 2018, 250000),
		rec("YISHUN", "3 ROOM", 2019, 260000),
		rec("YISHUN", "3 ROOM", 2020, 270000),
	})

	res := Predict(table, "YISHUN", Options{})
	if res.Failed() {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if len(res.Predictions) != DefaultYears {
		t.Fatalf("got %d predictions, want %d", len(res.Predictions), DefaultYears)
	}
	if res.Predictions[0].Year != DefaultBaseYear {
		t.Errorf("first year = %d, want %d", res.Predictions[0].Year, DefaultBaseYear)
	}
	// 2025 is five steps of 10000 past 2020
	if math.Abs(res.Predictions[0].PredictedPrice-320000) > 0.005 {
		t.Errorf("2025 prediction = %f", res.Predictions[0].PredictedPrice)
	}
}

func TestPredict_FlatTypeFilter(t *testing.T) {
	table := dataset.NewTable([]models.ResaleRecord{
		rec("BEDOK", "4 ROOM", 2019, 400000),
		rec("BEDOK", "4 ROOM", 2020, 400000),
		rec("BEDOK", "4 ROOM", 2021, 400000),
		rec("BEDOK", "3 ROOM", 2019, 300000),
		rec("BEDOK", "3 ROOM", 2020, 300000),
	})

	res := Predict(table, "BEDOK", Options{FlatType: "4-room", Years: 1, BaseYear: 2022})
	if res.Failed() {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.Predictions[0].PredictedPrice != 400000 {
		t.Errorf("flat trend predicted %f", res.Predictions[0].PredictedPrice)
	}

	res = Predict(table, "BEDOK", Options{FlatType: "3 room"})
	if res.Error != "Not enough data to make prediction for BEDOK" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestPredict_Errors(t *testing.T) {
	table := dataset.NewTable([]models.ResaleRecord{
		rec("BEDOK", "4 ROOM", 2019, 400000),
		rec("BEDOK", "4 ROOM", 2019, 410000),
		rec("BEDOK", "4 ROOM", 2020, 420000),
	})

	tests := []struct {
		name string
		town string
		opts Options
		want string
	}{
		{"unknown town", "Punggol", Options{}, "No data found for Punggol"},
		{"unknown flat type", "BEDOK", Options{FlatType: "EXECUTIVE"}, "No data found for BEDOK"},
		{"two years only", "bedok", Options{}, "Not enough data to make prediction for bedok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Predict(table, tt.town, tt.opts)
			if res.Error != tt.want {
				t.Errorf("Error = %q, want %q", res.Error, tt.want)
			}
			if len(res.Predictions) != 0 {
				t.Errorf("unexpected predictions: %+v", res.Predictions)
			}
		})
	}
}

func TestFitLine(t *testing.T) {
	slope, intercept := fitLine([]float64{1, 2, 3}, []float64{2, 4, 6})
	if math.Abs(slope-2) > 1e-9 || math.Abs(intercept) > 1e-9 {
		t.Errorf("fitLine = %f, %f", slope, intercept)
	}
	slope, intercept = fitLine([]float64{5, 5}, []float64{1, 3})
	if slope != 0 || intercept != 2 {
		t.Errorf("degenerate fitLine = %f, %f", slope, intercept)
	}
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{330000, 330000},
		{300000.125, 300000.12},
		{300000.375, 300000.38},
		{12.344999, 12.34},
		{12.345678, 12.35},
		{-0.125, -0.12},
	}
	for _, tt := range tests {
		if got := roundPrice(tt.in); got != tt.want {
			t.Errorf("roundPrice(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
