package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vsavkov/sitesmith/internal/diff"
	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/orchestrator"
	"github.com/vsavkov/sitesmith/internal/store"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

// writeDomainError translates an error from the orchestrator, store, or
// ledger into the API envelope. Anything unrecognized becomes an opaque 500
// with the detail kept in the server log.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientCreditsError
	var verify *diff.LocalVerifyError
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, orchestrator.ErrNoVersion):
		s.writeError(w, http.StatusNotFound, "NO_VERSION", err.Error())
	case errors.As(err, &insufficient):
		s.writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{
			Code:    "INSUFFICIENT_CREDITS",
			Message: insufficient.Error(),
			Details: map[string]string{
				"required":  insufficient.Required.StringFixed(2),
				"available": insufficient.Available.StringFixed(2),
			},
		}})
	case errors.Is(err, orchestrator.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", err.Error())
	case errors.Is(err, orchestrator.ErrPromptTooLong):
		s.writeError(w, http.StatusBadRequest, "PROMPT_TOO_LONG", err.Error())
	case errors.Is(err, orchestrator.ErrEmptyPrompt),
		errors.Is(err, orchestrator.ErrEmptyName),
		errors.Is(err, diff.ErrUnsupportedPrompt),
		errors.Is(err, diff.ErrOutsideProject),
		errors.Is(err, diff.ErrForbiddenType),
		errors.Is(err, diff.ErrForbiddenDir),
		errors.As(err, &verify):
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, store.ErrLockBusy):
		s.writeError(w, http.StatusConflict, "PROJECT_BUSY", err.Error())
	case errors.Is(err, store.ErrDuplicateEmail):
		s.writeError(w, http.StatusConflict, "USER_EXISTS", err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount):
		s.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	default:
		s.log.Error().Err(err).Msg("internal error")
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
