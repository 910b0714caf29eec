package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vsavkov/sitesmith/internal/auth"
	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/store"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	user, err := s.store.CreateUser(r.Context(), email, hash, strings.TrimSpace(req.Name))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	entry, err := s.ledger.Grant(r.Context(), user.ID, ledger.InitialCredits, store.TxnGrant, "Welcome bonus", "")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	user.Credits = entry.BalanceAfter

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.log.Info().Str("user_id", user.ID).Msg("user signed up")
	s.writeJSON(w, http.StatusCreated, authResponse{Token: token, User: toUserResponse(user)})
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.store.UserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Same answer as a bad password so probes learn nothing.
			s.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password is incorrect")
			return
		}
		s.writeDomainError(w, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password is incorrect")
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, authResponse{Token: token, User: toUserResponse(user)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.UserByID(r.Context(), principalID(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toUserResponse(user))
}
