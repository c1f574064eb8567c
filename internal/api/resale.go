package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"

	"github.com/rewired-gh/hdbinsight/internal/analytics"
	"github.com/rewired-gh/hdbinsight/internal/forecast"
	"github.com/rewired-gh/hdbinsight/internal/logger"
)

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// respondQueryError maps query-layer failures onto 400s; anything else is a 500.
func respondQueryError(w http.ResponseWriter, r *http.Request, err error) {
	var qe *analytics.QueryError
	if errors.As(err, &qe) {
		respondError(w, r, http.StatusBadRequest, qe.Msg)
		return
	}
	logger.Error("Query failed on %s: %v", r.URL.Path, err)
	respondError(w, r, http.StatusInternalServerError, "Internal server error.")
}

// yearParam parses an optional integer year. Absent or blank is nil.
func yearParam(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	y, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &y, nil
}

func yearRange(w http.ResponseWriter, r *http.Request) (start, end *int, ok bool) {
	start, err := yearParam(r, "start_year")
	if err == nil {
		end, err = yearParam(r, "end_year")
	}
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid year format. Use YYYY.")
		return nil, nil, false
	}
	return start, end, true
}

func (s *Server) handleTowns(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string][]string{"towns": s.queries.Towns()})
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string][]int{"years": s.queries.Years()})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	start, end, ok := yearRange(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	rows, err := s.queries.Analysis(analytics.AnalysisQuery{
		Towns:     q["towns"],
		Type:      q.Get("type"),
		StartYear: start,
		EndYear:   end,
		RoomType:  q.Get("room_type"),
	})
	if err != nil {
		respondQueryError(w, r, err)
		return
	}
	render.JSON(w, r, rows)
}

func (s *Server) handleRoomTypeTrends(w http.ResponseWriter, r *http.Request) {
	start, end, ok := yearRange(w, r)
	if !ok {
		return
	}
	rows, err := s.queries.RoomTypeTrends(r.URL.Query().Get("town"), start, end)
	if err != nil {
		respondQueryError(w, r, err)
		return
	}
	render.JSON(w, r, rows)
}

// The comparison routes take months in start_year/end_year.
func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.queries.ComparisonTable(q["towns"], q.Get("start_year"), q.Get("end_year"))
	if err != nil {
		respondQueryError(w, r, err)
		return
	}
	render.JSON(w, r, rows)
}

func (s *Server) handleComparisonGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	points, err := s.queries.ComparisonGraph(q["towns"], q.Get("start_year"), q.Get("end_year"), q.Get("interval"))
	if err != nil {
		respondQueryError(w, r, err)
		return
	}
	render.JSON(w, r, points)
}

func (s *Server) handleRawData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.queries.RawData(q.Get("town"), q.Get("room_type"))
	if err != nil {
		respondQueryError(w, r, err)
		return
	}
	render.JSON(w, r, rows)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	town := q.Get("town")
	if strings.TrimSpace(town) == "" {
		respondError(w, r, http.StatusBadRequest, "Missing required parameter: town")
		return
	}

	res := forecast.Predict(s.table, town, forecast.Options{FlatType: q.Get("flat_type")})
	if res.Failed() {
		s.metrics.forecastErrors.Inc()
		render.Status(r, http.StatusBadRequest)
	}
	render.JSON(w, r, res)
}
