// Package tokens persists the bearer credentials and cached profile of the
// signed-in user.
package tokens

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/storage"
)

// Storage keys
const (
	KeyAccess  = "accessToken"
	KeyRefresh = "refreshToken"
	KeyUser    = "user"
)

// Store is a thin accessor over the three credential keys. It performs no
// validation; the session controller decides what the values mean.
type Store struct {
	kv storage.KV
}

// NewStore creates a token store
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// Access returns the access token, or "" when none is stored
func (s *Store) Access() string {
	return s.get(KeyAccess)
}

// Refresh returns the refresh token, or "" when none is stored
func (s *Store) Refresh() string {
	return s.get(KeyRefresh)
}

// User returns the cached profile, or nil
func (s *Store) User() *domain.UserProfile {
	var user domain.UserProfile
	if err := storage.GetJSON(s.kv, KeyUser, &user); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("ignoring unreadable cached user", "error", err)
		}
		return nil
	}
	return &user
}

// SetSession stores a complete credential set
func (s *Store) SetSession(user *domain.UserProfile, access, refresh string) error {
	if err := s.SetUser(user); err != nil {
		return err
	}
	if err := s.SetAccess(access); err != nil {
		return err
	}
	return s.SetRefresh(refresh)
}

// SetRefresh replaces the refresh token
func (s *Store) SetRefresh(refresh string) error {
	if err := s.kv.Put(KeyRefresh, []byte(refresh)); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// SetAccess replaces the access token
func (s *Store) SetAccess(access string) error {
	if err := s.kv.Put(KeyAccess, []byte(access)); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	return nil
}

// SetUser replaces the cached profile
func (s *Store) SetUser(user *domain.UserProfile) error {
	if user == nil {
		return storage.DeleteIfExists(s.kv, KeyUser)
	}
	if err := storage.PutJSON(s.kv, KeyUser, user); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

// Clear removes all three keys. Every key is attempted even if one fails.
func (s *Store) Clear() error {
	var errs []error
	for _, key := range []string{KeyAccess, KeyRefresh, KeyUser} {
		if err := storage.DeleteIfExists(s.kv, key); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// AccessExpiry reads the exp claim of the access token without verifying
// its signature. For display only.
func (s *Store) AccessExpiry() (time.Time, bool) {
	return Expiry(s.Access())
}

// Expiry extracts the exp claim from an unverified JWT.
func Expiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (s *Store) get(key string) string {
	data, err := s.kv.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("token read failed", "key", key, "error", err)
		}
		return ""
	}
	return string(data)
}
