package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rewired-gh/hdbinsight/internal/auth"
	"github.com/rewired-gh/hdbinsight/internal/logger"
	"github.com/rewired-gh/hdbinsight/internal/models"
)

type ctxKey int

const userKey ctxKey = iota

// requestLogger writes one structured access log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ev := logger.Get().Info()
		if status >= http.StatusInternalServerError {
			ev = logger.Get().Error()
		}
		ev.Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}

// requireAuth resolves the Bearer access token to a user and stores it in
// the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			detail(w, r, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			detail(w, r, http.StatusUnauthorized, "Authorization header must contain two space-delimited values.")
			return
		}

		u, err := s.accounts.Authenticate(r.Context(), strings.TrimSpace(token))
		if errors.Is(err, auth.ErrInvalidToken) {
			detail(w, r, http.StatusUnauthorized, "Given token not valid for any token type.")
			return
		}
		if err != nil {
			logger.Error("Failed to authenticate request: %v", err)
			detail(w, r, http.StatusInternalServerError, "Internal server error.")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

func userFrom(r *http.Request) *models.User {
	u, _ := r.Context().Value(userKey).(*models.User)
	return u
}

func detail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"detail": msg})
}
