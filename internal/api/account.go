package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/render"
	"github.com/goccy/go-json"

	"github.com/rewired-gh/hdbinsight/internal/auth"
	"github.com/rewired-gh/hdbinsight/internal/logger"
)

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON request body into dst. An empty body leaves dst
// zero-valued so field validation reports what is missing.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		detail(w, r, http.StatusBadRequest, "JSON parse error - "+err.Error())
		return false
	}
	return true
}

// respondAccountError maps account-service failures onto responses.
func respondAccountError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, verr.Fields)
	case errors.Is(err, auth.ErrInvalidCredentials):
		detail(w, r, http.StatusUnauthorized, "Invalid credentials.")
	case errors.Is(err, auth.ErrInactiveAccount):
		detail(w, r, http.StatusUnauthorized, "User account is inactive.")
	case errors.Is(err, auth.ErrInvalidToken):
		detail(w, r, http.StatusUnauthorized, "Invalid refresh token.")
	default:
		logger.Error("Account request %s failed: %v", r.URL.Path, err)
		detail(w, r, http.StatusInternalServerError, "Internal server error.")
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.accounts.Signup(r.Context(), req); err != nil {
		respondAccountError(w, r, err)
		return
	}
	s.metrics.signups.Inc()
	detail(w, r, http.StatusCreated, "Signup successful!")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pair, err := s.accounts.Login(r.Context(), req)
	if err != nil {
		respondAccountError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{
		"access":  pair.Access,
		"refresh": pair.Refresh,
		"detail":  "Login successful!",
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req auth.RefreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	access, err := s.accounts.Refresh(req)
	if err != nil {
		respondAccountError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"access": access})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ForgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.accounts.ForgotPassword(r.Context(), req); err != nil {
		respondAccountError(w, r, err)
		return
	}
	detail(w, r, http.StatusOK, "Password reset instructions sent to your email.")
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ResetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.accounts.ResetPassword(r.Context(), req); err != nil {
		respondAccountError(w, r, err)
		return
	}
	detail(w, r, http.StatusOK, "Password has been reset successfully.")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.accounts.Profile(userFrom(r)))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req auth.UpdateProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := s.accounts.UpdateProfile(r.Context(), userFrom(r), req)
	if err != nil {
		respondAccountError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"username": u.Username, "email": u.Email})
}
