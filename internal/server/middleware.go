package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKeyPrincipal struct{}

// principal carries the authenticated user id. The request logger installs
// an empty one up front so the auth middleware can fill it in without
// re-wrapping the context, which keeps the caller visible in access logs.
type principal struct {
	userID string
}

func principalID(ctx context.Context) string {
	p, _ := ctx.Value(ctxKeyPrincipal{}).(*principal)
	if p == nil {
		return ""
	}
	return p.userID
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal{}, &principal{})
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		evt := s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start))
		if id := principalID(ctx); id != "" {
			evt = evt.Str("principal", id)
		}
		evt.Msg("request")
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization format")
			return
		}
		userID, err := s.tokens.Verify(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}

		if p, ok := r.Context().Value(ctxKeyPrincipal{}).(*principal); ok {
			p.userID = userID
		} else {
			// Handlers invoked outside the logger chain still need a principal.
			r = r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, &principal{userID: userID}))
		}
		next.ServeHTTP(w, r)
	})
}
