// Package session owns the identity of the storefront user: the startup
// token check, login, registration, logout and forced sign-out when a token
// refresh fails. It is the only writer of the token store.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/techshelf/internal/apiclient"
	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/metrics"
	"github.com/felixgeelhaar/techshelf/internal/tokens"
)

// User-visible fallback messages
const (
	msgLoginFailed    = "Failed to login"
	msgRegisterFailed = "Registration failed"
	msgUpgradeFailed  = "Failed to upgrade account"
	msgProfileFailed  = "Failed to update profile"
	msgFetchFailed    = "Failed to load profile"
)

const defaultLogoutTimeout = 10 * time.Second

// Service is the session controller
type Service struct {
	api     API
	tokens  *tokens.Store
	events  *domain.EventDispatcher
	metrics *metrics.Metrics

	logoutTimeout time.Duration
	background    sync.WaitGroup

	mu        sync.RWMutex
	state     State
	user      *domain.UserProfile
	checked   bool
	lastError string
}

// Option configures a Service
type Option func(*Service)

// WithMetrics records forced logouts
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEvents publishes session events on an existing dispatcher
func WithEvents(d *domain.EventDispatcher) Option {
	return func(s *Service) { s.events = d }
}

// WithLogoutTimeout bounds the background server logout
func WithLogoutTimeout(d time.Duration) Option {
	return func(s *Service) { s.logoutTimeout = d }
}

// NewService creates a session controller in the Checking state. Call
// Start to resolve it.
func NewService(api API, store *tokens.Store, opts ...Option) *Service {
	s := &Service{
		api:           api,
		tokens:        store,
		events:        domain.NewEventDispatcher(),
		logoutTimeout: defaultLogoutTimeout,
		state:         StateChecking,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a listener for session events. Listeners run
// synchronously, in subscription order, after the state change is visible.
func (s *Service) Subscribe(handler domain.EventHandler) (unsubscribe func()) {
	return s.events.Subscribe(handler)
}

// Start validates persisted credentials. It always ends in Anonymous or
// Authenticated and publishes exactly one SessionReadyEvent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.state = StateChecking
	s.checked = false
	s.lastError = ""
	s.mu.Unlock()

	cached := s.tokens.User()
	access := s.tokens.Access()
	if cached == nil || access == "" {
		if cached != nil || access != "" || s.tokens.Refresh() != "" {
			slog.Debug("discarding partial credentials")
			s.clearTokens()
		}
		s.finishStart(nil)
		return
	}

	profile, err := s.api.Profile(ctx)
	if err != nil {
		slog.Info("stored session rejected", "error", err)
		s.clearTokens()
		s.finishStart(nil)
		return
	}

	if err := s.tokens.SetUser(profile); err != nil {
		slog.Warn("failed to cache profile", "error", err)
	}
	s.finishStart(profile)
}

func (s *Service) finishStart(user *domain.UserProfile) {
	s.mu.Lock()
	s.checked = true
	s.user = user.Clone()
	if user != nil {
		s.state = StateAuthenticated
	} else {
		s.state = StateAnonymous
	}
	s.mu.Unlock()

	slog.Info("session ready", "authenticated", user != nil)
	s.events.Publish(domain.NewSessionReadyEvent(user))
}

// Login signs a user in with email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.UserProfile, error) {
	s.setLastError("")

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, s.fail(domain.NewValidationError("Email and password are required"))
	}

	prev := s.beginAuthenticating()
	user, err := s.authenticate(ctx, email, password)
	if err != nil {
		s.revert(prev)
		return nil, s.fail(domain.WithFallback(err, msgLoginFailed))
	}
	return user, nil
}

// Register creates an account and then signs in with the same credentials.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*domain.UserProfile, error) {
	s.setLastError("")

	if err := validateRegistration(in); err != nil {
		return nil, s.fail(err)
	}

	prev := s.beginAuthenticating()
	_, err := s.api.Register(ctx, apiclient.RegisterRequest{
		Username:  strings.TrimSpace(in.Username),
		Email:     strings.TrimSpace(in.Email),
		Password:  in.Password,
		Password2: in.ConfirmPassword,
	})
	if err != nil {
		s.revert(prev)
		return nil, s.fail(domain.WithFallback(err, msgRegisterFailed))
	}

	user, err := s.authenticate(ctx, strings.TrimSpace(in.Email), in.Password)
	if err != nil {
		s.revert(prev)
		return nil, s.fail(domain.WithFallback(err, msgLoginFailed))
	}
	return user, nil
}

func validateRegistration(in RegisterInput) error {
	var missing []string
	if strings.TrimSpace(in.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(in.Email) == "" {
		missing = append(missing, "email")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return domain.NewValidationError("Missing required fields: " + strings.Join(missing, ", "))
	}
	if in.Password != in.ConfirmPassword {
		return domain.NewValidationError("Passwords do not match")
	}
	return nil
}

// authenticate performs the login call, persists the credentials and
// publishes SessionEstablishedEvent.
func (s *Service) authenticate(ctx context.Context, email, password string) (*domain.UserProfile, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.SetSession(res.User, res.Access, res.Refresh); err != nil {
		s.clearTokens()
		return nil, err
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.checked = true
	s.user = res.User.Clone()
	s.mu.Unlock()

	slog.Info("user signed in", "user_id", res.User.ID)
	s.events.Publish(domain.NewSessionEstablishedEvent(res.User))
	return res.User.Clone(), nil
}

func (s *Service) beginAuthenticating() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = StateAuthenticating
	return prev
}

// revert restores the state held before a failed login. A signed-in user
// stays signed in; anything else falls back to Anonymous.
func (s *Service) revert(prev State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev == StateAuthenticated && s.user != nil {
		s.state = StateAuthenticated
		return
	}
	s.state = StateAnonymous
}

// Logout ends the session locally right away. The server is told to revoke
// the refresh token in the background; that call may fail silently.
func (s *Service) Logout(ctx context.Context) {
	s.setLastError("")

	refresh := s.tokens.Refresh()
	s.clearTokens()

	s.mu.Lock()
	s.state = StateAnonymous
	s.user = nil
	s.checked = true
	s.mu.Unlock()

	slog.Info("user signed out")
	s.events.Publish(domain.NewSessionEndedEvent(domain.EndReasonLogout))

	if refresh == "" {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
		defer cancel()
		if err := s.api.Logout(bg, refresh); err != nil {
			slog.Debug("server logout failed", "error", err)
		}
	}()
}

// Wait blocks until background work started by Logout has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// UpgradeRole asks the server to make the user a seller and patches the
// cached profile on success.
func (s *Service) UpgradeRole(ctx context.Context) (*domain.UserProfile, error) {
	s.setLastError("")
	if !s.IsAuthenticated() {
		return nil, s.fail(domain.LoginRequired("Please log in to upgrade your account"))
	}

	if err := s.api.UpgradeToSeller(ctx); err != nil {
		return nil, s.fail(domain.WithFallback(err, msgUpgradeFailed))
	}

	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return nil, s.fail(domain.LoginRequired(domain.MsgSessionExpired))
	}
	s.user.Role = domain.RoleSeller
	user := s.user.Clone()
	s.mu.Unlock()

	if err := s.tokens.SetUser(user); err != nil {
		slog.Warn("failed to cache profile", "error", err)
	}
	return user, nil
}

// UpdateProfile saves profile changes and caches the stored result.
func (s *Service) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	s.setLastError("")
	if !s.IsAuthenticated() {
		return nil, s.fail(domain.LoginRequired("Please log in to update your profile"))
	}
	if update.IsEmpty() {
		return nil, s.fail(domain.NewValidationError("Nothing to update"))
	}

	profile, err := s.api.UpdateProfile(ctx, update)
	if err != nil {
		return nil, s.fail(domain.WithFallback(err, msgProfileFailed))
	}
	s.cacheUser(profile)
	return profile.Clone(), nil
}

// FetchProfile reloads the profile from the server.
func (s *Service) FetchProfile(ctx context.Context) (*domain.UserProfile, error) {
	s.setLastError("")
	if !s.IsAuthenticated() {
		return nil, s.fail(domain.LoginRequired("Please log in to view your profile"))
	}

	profile, err := s.api.Profile(ctx)
	if err != nil {
		return nil, s.fail(domain.WithFallback(err, msgFetchFailed))
	}
	s.cacheUser(profile)
	return profile.Clone(), nil
}

func (s *Service) cacheUser(profile *domain.UserProfile) {
	s.mu.Lock()
	if s.state == StateAuthenticated {
		s.user = profile.Clone()
	}
	s.mu.Unlock()

	if err := s.tokens.SetUser(profile); err != nil {
		slog.Warn("failed to cache profile", "error", err)
	}
}

// AccessToken implements apiclient.Credentials
func (s *Service) AccessToken() string {
	return s.tokens.Access()
}

// RefreshToken implements apiclient.Credentials
func (s *Service) RefreshToken() string {
	return s.tokens.Refresh()
}

// TokensRefreshed persists tokens obtained by a silent refresh.
func (s *Service) TokensRefreshed(access, refresh string) {
	if err := s.tokens.SetAccess(access); err != nil {
		slog.Warn("failed to persist refreshed access token", "error", err)
	}
	if refresh != "" {
		if err := s.tokens.SetRefresh(refresh); err != nil {
			slog.Warn("failed to persist rotated refresh token", "error", err)
		}
	}
}

// RefreshFailed forces the session to Anonymous. SessionEndedEvent is only
// published when a user was actually signed in.
func (s *Service) RefreshFailed(err error) {
	s.clearTokens()

	s.mu.Lock()
	wasAuthenticated := s.state == StateAuthenticated
	if s.state != StateChecking {
		s.state = StateAnonymous
	}
	s.user = nil
	if wasAuthenticated {
		s.lastError = domain.MsgSessionExpired
	}
	s.mu.Unlock()

	if !wasAuthenticated {
		return
	}
	slog.Warn("session expired, signing out", "error", err)
	s.metrics.RecordForcedLogout()
	s.events.Publish(domain.NewSessionEndedEvent(domain.EndReasonExpired))
}

func (s *Service) clearTokens() {
	if err := s.tokens.Clear(); err != nil {
		slog.Warn("failed to clear credentials", "error", err)
	}
}

// fail records err as the last error and returns it
func (s *Service) fail(err error) error {
	s.setLastError(domain.UserMessage(err, err.Error()))
	return err
}

func (s *Service) setLastError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

// State returns the current state
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsAuthenticated reports whether a user is signed in
func (s *Service) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// Checked reports whether the startup check has completed
func (s *Service) Checked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checked
}

// User returns a copy of the signed-in user, or nil
func (s *Service) User() *domain.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone()
}

// LastError returns the message of the last failed operation
func (s *Service) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Status returns a snapshot of the session
func (s *Service) Status() Status {
	s.mu.RLock()
	st := Status{
		State:     s.state,
		Checked:   s.checked,
		User:      s.user.Clone(),
		LastError: s.lastError,
	}
	s.mu.RUnlock()

	if st.State == StateAuthenticated {
		if exp, ok := s.tokens.AccessExpiry(); ok {
			st.AccessExpires = &exp
		}
	}
	return st
}
