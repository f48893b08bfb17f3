package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 24 * time.Hour

type loginRequest struct {
	Secret string `json:"secret"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin exchanges the shared secret for a short-lived bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken == "" {
		s.writeError(w, http.StatusServiceUnavailable, "authentication not configured")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Secret != s.cfg.AuthToken {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	expires := s.clock().Add(tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"iat": s.clock().Unix(),
		"exp": expires.Unix(),
	})
	signed, err := token.SignedString([]byte(s.cfg.AuthToken))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "signing token")
		return
	}
	s.writeJSON(w, http.StatusOK, loginResponse{Token: signed, ExpiresAt: expires})
}

// requireAuth guards manual-override endpoints with a bearer token check.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			s.writeError(w, http.StatusServiceUnavailable, "authentication not configured")
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(s.cfg.AuthToken), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next(w, r)
	}
}
