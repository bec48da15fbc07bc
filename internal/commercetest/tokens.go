package commercetest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var errInvalidToken = errors.New("invalid token")

type tokenClaims struct {
	jwt.RegisteredClaims
	Type       string `json:"token_type"`
	Generation int    `json:"gen"`
}

type ctxKey struct{}

// IssueTokens returns a fresh access and refresh token for a known user.
func (s *Server) IssueTokens(email string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(email)
}

func (s *Server) issueLocked(email string) (string, string) {
	access, _ := s.signLocked(email, tokenAccess, s.accessTTL, s.accessGen)
	refresh, _ := s.signLocked(email, tokenRefresh, s.refreshTTL, s.refreshGen)
	return access, refresh
}

func (s *Server) signLocked(email, typ string, ttl time.Duration, gen int) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:       typ,
		Generation: gen,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// parseLocked validates a token of the given type and returns its claims.
func (s *Server) parseLocked(tokenString, typ string) (*tokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, errInvalidToken
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid || claims.Type != typ {
		return nil, errInvalidToken
	}

	current := s.accessGen
	if typ == tokenRefresh {
		current = s.refreshGen
		if s.revoked[claims.ID] {
			return nil, errInvalidToken
		}
	}
	if claims.Generation != current {
		return nil, errInvalidToken
	}
	if _, ok := s.accounts[claims.Subject]; !ok {
		return nil, errInvalidToken
	}
	return claims, nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}

		s.mu.Lock()
		claims, err := s.parseLocked(raw, tokenAccess)
		s.mu.Unlock()
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func emailFrom(r *http.Request) string {
	email, _ := r.Context().Value(ctxKey{}).(string)
	return email
}
