package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/techshelf/internal/apiclient"
	"github.com/felixgeelhaar/techshelf/internal/commercetest"
	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/storage/local"
	"github.com/felixgeelhaar/techshelf/internal/tokens"
)

// eventLog collects published events
type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) handle(e domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.EventType()
	}
	return out
}

func (l *eventLog) last() domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return nil
	}
	return l.events[len(l.events)-1]
}

type testEnv struct {
	api    *commercetest.Server
	tokens *tokens.Store
	svc    *Service
	events *eventLog
}

func setupTestService(t *testing.T) *testEnv {
	t.Helper()

	api := commercetest.New(t)
	api.AddUser("ada@example.com", "secret", "ada")

	kv, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	store := tokens.NewStore(kv)

	client := apiclient.New(apiclient.Config{BaseURL: api.URL, Timeout: 5 * time.Second})
	svc := NewService(client, store, WithLogoutTimeout(2*time.Second))
	client.SetCredentials(svc)

	events := &eventLog{}
	svc.Subscribe(events.handle)

	return &testEnv{api: api, tokens: store, svc: svc, events: events}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewService_StartsChecking(t *testing.T) {
	env := setupTestService(t)

	if env.svc.State() != StateChecking {
		t.Errorf("State() = %s, want checking", env.svc.State())
	}
	if env.svc.Checked() {
		t.Error("Checked() = true before Start")
	}
}

func TestStart_NoCredentials(t *testing.T) {
	env := setupTestService(t)

	env.svc.Start(context.Background())

	if env.svc.State() != StateAnonymous {
		t.Errorf("State() = %s, want anonymous", env.svc.State())
	}
	if !env.svc.Checked() {
		t.Error("Checked() = false after Start")
	}
	if got := env.events.types(); !equalStrings(got, []string{domain.EventSessionReady}) {
		t.Fatalf("events = %v", got)
	}
	ready := env.events.last().(domain.SessionReadyEvent)
	if ready.Authenticated {
		t.Error("Ready.Authenticated = true")
	}
	if env.api.Count(http.MethodGet, "/users/profile/") != 0 {
		t.Error("profile fetched without credentials")
	}
}

func TestStart_RestoresValidSession(t *testing.T) {
	env := setupTestService(t)
	access, refresh := env.api.IssueTokens("ada@example.com")
	stale := &domain.UserProfile{ID: 1, Email: "ada@example.com", Username: "old-name"}
	if err := env.tokens.SetSession(stale, access, refresh); err != nil {
		t.Fatalf("SetSession() error = %v", err)
	}

	env.svc.Start(context.Background())

	if env.svc.State() != StateAuthenticated {
		t.Fatalf("State() = %s, want authenticated", env.svc.State())
	}
	if got := env.svc.User().Username; got != "ada" {
		t.Errorf("User().Username = %q, want refreshed profile", got)
	}
	if got := env.tokens.User().Username; got != "ada" {
		t.Errorf("cached Username = %q, want ada", got)
	}
	// Restoring a session is not a login
	if got := env.events.types(); !equalStrings(got, []string{domain.EventSessionReady}) {
		t.Errorf("events = %v, want only ready", got)
	}
	if !env.events.last().(domain.SessionReadyEvent).Authenticated {
		t.Error("Ready.Authenticated = false")
	}
}

func TestStart_RefreshesExpiredAccessToken(t *testing.T) {
	env := setupTestService(t)
	access, refresh := env.api.IssueTokens("ada@example.com")
	env.tokens.SetSession(&domain.UserProfile{ID: 1}, access, refresh)
	env.api.ExpireAccessTokens()

	env.svc.Start(context.Background())

	if env.svc.State() != StateAuthenticated {
		t.Fatalf("State() = %s, want authenticated", env.svc.State())
	}
	if env.tokens.Access() == access {
		t.Error("access token was not replaced by the refreshed one")
	}
	if env.api.Count(http.MethodPost, "/users/token/refresh/") != 1 {
		t.Errorf("refresh calls = %d, want 1", env.api.Count(http.MethodPost, "/users/token/refresh/"))
	}
}

func TestStart_InvalidSessionClearsTokens(t *testing.T) {
	env := setupTestService(t)
	access, refresh := env.api.IssueTokens("ada@example.com")
	env.tokens.SetSession(&domain.UserProfile{ID: 1}, access, refresh)
	env.api.ExpireAccessTokens()
	env.api.RevokeRefreshTokens()

	env.svc.Start(context.Background())

	if env.svc.State() != StateAnonymous {
		t.Errorf("State() = %s, want anonymous", env.svc.State())
	}
	if env.tokens.Access() != "" || env.tokens.Refresh() != "" || env.tokens.User() != nil {
		t.Error("token store not cleared")
	}
	// No session existed, so nothing ended
	if got := env.events.types(); !equalStrings(got, []string{domain.EventSessionReady}) {
		t.Errorf("events = %v, want only ready", got)
	}
}

func TestStart_PartialCredentialsDiscarded(t *testing.T) {
	env := setupTestService(t)
	env.tokens.SetAccess("orphan")

	env.svc.Start(context.Background())

	if env.tokens.Access() != "" {
		t.Error("orphan access token kept")
	}
	if env.svc.State() != StateAnonymous {
		t.Errorf("State() = %s, want anonymous", env.svc.State())
	}
}

func TestLogin(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())

	user, err := env.svc.Login(context.Background(), "ada@example.com", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Errorf("Email = %q", user.Email)
	}
	if env.svc.State() != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", env.svc.State())
	}
	if env.tokens.Access() == "" || env.tokens.Refresh() == "" || env.tokens.User() == nil {
		t.Error("credentials not persisted")
	}

	want := []string{domain.EventSessionReady, domain.EventSessionEstablished}
	if got := env.events.types(); !equalStrings(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestLogin_ListenerSeesCommittedState(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())

	var seen State
	env.svc.Subscribe(func(e domain.Event) {
		if e.EventType() == domain.EventSessionEstablished {
			seen = env.svc.State()
		}
	})

	if _, err := env.svc.Login(context.Background(), "ada@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if seen != StateAuthenticated {
		t.Errorf("state seen by listener = %s, want authenticated", seen)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())

	_, err := env.svc.Login(context.Background(), "ada@example.com", "wrong")
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("Login() error = %v, want ErrAuth", err)
	}
	if env.svc.LastError() != "Invalid credentials" {
		t.Errorf("LastError() = %q", env.svc.LastError())
	}
	if env.svc.State() != StateAnonymous {
		t.Errorf("State() = %s, want anonymous", env.svc.State())
	}
	if env.api.Count(http.MethodPost, "/users/token/refresh/") != 0 {
		t.Error("login failure triggered a refresh")
	}
}

func TestLogin_ValidationSkipsNetwork(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.Login(context.Background(), "  ", "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Login() error = %v, want ErrValidation", err)
	}
	if len(env.api.Requests()) != 0 {
		t.Error("validation failure reached the network")
	}
	if env.svc.LastError() == "" {
		t.Error("LastError() empty")
	}
}

func TestLogin_FallbackMessage(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())
	env.api.Fail(http.MethodPost, "/users/login/", http.StatusBadRequest, 1)

	_, err := env.svc.Login(context.Background(), "ada@example.com", "secret")
	if !errors.Is(err, domain.ErrBusiness) {
		t.Fatalf("Login() error = %v, want ErrBusiness", err)
	}
	if env.svc.LastError() != "injected failure" {
		t.Errorf("LastError() = %q", env.svc.LastError())
	}

	// The next attempt clears the previous error
	if _, err := env.svc.Login(context.Background(), "ada@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if env.svc.LastError() != "" {
		t.Errorf("LastError() = %q, want cleared", env.svc.LastError())
	}
}

func TestRegister(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())

	user, err := env.svc.Register(context.Background(), RegisterInput{
		Username:        "grace",
		Email:           "grace@example.com",
		Password:        "hopper",
		ConfirmPassword: "hopper",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Username != "grace" {
		t.Errorf("Username = %q", user.Username)
	}
	if env.svc.State() != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", env.svc.State())
	}
	if env.api.Count(http.MethodPost, "/users/login/") != 1 {
		t.Error("registration did not log in")
	}
	want := []string{domain.EventSessionReady, domain.EventSessionEstablished}
	if got := env.events.types(); !equalStrings(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   RegisterInput
		want string
	}{
		{"missing fields", RegisterInput{Email: "a@b.c"}, "Missing required fields: username, password"},
		{"mismatch", RegisterInput{Username: "a", Email: "a@b.c", Password: "x", ConfirmPassword: "y"}, "Passwords do not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestService(t)
			_, err := env.svc.Register(context.Background(), tt.in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Register() error = %v, want ErrValidation", err)
			}
			if env.svc.LastError() != tt.want {
				t.Errorf("LastError() = %q, want %q", env.svc.LastError(), tt.want)
			}
			if len(env.api.Requests()) != 0 {
				t.Error("validation failure reached the network")
			}
		})
	}
}

func TestRegister_ServerFieldErrors(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())

	_, err := env.svc.Register(context.Background(), RegisterInput{
		Username:        "ada2",
		Email:           "ada@example.com",
		Password:        "pw",
		ConfirmPassword: "pw",
	})
	if !errors.Is(err, domain.ErrBusiness) {
		t.Fatalf("Register() error = %v, want ErrBusiness", err)
	}
	if got := env.svc.LastError(); got != "Email: user with this email already exists." {
		t.Errorf("LastError() = %q", got)
	}
	if env.svc.State() != StateAnonymous {
		t.Errorf("State() = %s, want anonymous", env.svc.State())
	}
}

func TestLogout(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())
	if _, err := env.svc.Login(context.Background(), "ada@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	env.svc.Logout(context.Background())

	if env.svc.State() != StateAnonymous || env.svc.User() != nil {
		t.Error("session not reset")
	}
	if env.tokens.Access() != "" || env.tokens.Refresh() != "" {
		t.Error("token store not cleared")
	}
	ended, ok := env.events.last().(domain.SessionEndedEvent)
	if !ok || ended.Reason != domain.EndReasonLogout {
		t.Errorf("last event = %#v, want ended(logout)", env.events.last())
	}

	env.svc.Wait()
	if env.api.Count(http.MethodPost, "/users/logout/") != 1 {
		t.Error("server logout not attempted")
	}
}

func TestLogout_ServerFailureIgnored(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())
	env.svc.Login(context.Background(), "ada@example.com", "secret")
	env.api.Fail(http.MethodPost, "/users/logout/", http.StatusInternalServerError, 1)

	env.svc.Logout(context.Background())
	env.svc.Wait()

	if env.svc.State() != StateAnonymous {
		t.Errorf("State() = %s, want anonymous", env.svc.State())
	}
	if env.svc.LastError() != "" {
		t.Errorf("LastError() = %q, want empty", env.svc.LastError())
	}
}

func TestRefreshFailure_ForcesAnonymous(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())
	env.svc.Login(context.Background(), "ada@example.com", "secret")

	env.api.ExpireAccessTokens()
	env.api.RevokeRefreshTokens()

	_, err := env.svc.FetchProfile(context.Background())
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("FetchProfile() error = %v, want ErrSessionExpired", err)
	}
	if env.svc.State() != StateAnonymous {
		t.Errorf("State() = %s, want anonymous", env.svc.State())
	}
	if env.tokens.Access() != "" || env.tokens.Refresh() != "" || env.tokens.User() != nil {
		t.Error("token store not cleared")
	}
	ended, ok := env.events.last().(domain.SessionEndedEvent)
	if !ok || ended.Reason != domain.EndReasonExpired {
		t.Errorf("last event = %#v, want ended(expired)", env.events.last())
	}
}

func TestRefreshSuccess_PersistsToken(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())
	env.svc.Login(context.Background(), "ada@example.com", "secret")
	before := env.tokens.Access()

	env.api.ExpireAccessTokens()

	if _, err := env.svc.FetchProfile(context.Background()); err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if env.tokens.Access() == before || env.tokens.Access() == "" {
		t.Error("refreshed token not persisted")
	}
	if env.svc.State() != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", env.svc.State())
	}
}

func TestRefreshFailed_WhileAnonymousIsSilent(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())

	env.svc.RefreshFailed(apiclient.ErrNoRefreshToken)

	if got := env.events.types(); !equalStrings(got, []string{domain.EventSessionReady}) {
		t.Errorf("events = %v, want only ready", got)
	}
	if env.svc.LastError() != "" {
		t.Errorf("LastError() = %q", env.svc.LastError())
	}
}

func TestUpgradeRole(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())

	if _, err := env.svc.UpgradeRole(context.Background()); !errors.Is(err, domain.ErrLoginRequired) {
		t.Fatalf("UpgradeRole() anonymous error = %v, want ErrLoginRequired", err)
	}

	env.svc.Login(context.Background(), "ada@example.com", "secret")
	profileCalls := env.api.Count(http.MethodGet, "/users/profile/")

	user, err := env.svc.UpgradeRole(context.Background())
	if err != nil {
		t.Fatalf("UpgradeRole() error = %v", err)
	}
	if !user.IsSeller() || !env.svc.User().IsSeller() || !env.tokens.User().IsSeller() {
		t.Error("role not patched to seller")
	}
	if env.api.Count(http.MethodGet, "/users/profile/") != profileCalls {
		t.Error("upgrade reloaded the profile")
	}

	// Second upgrade is rejected by the server
	if _, err := env.svc.UpgradeRole(context.Background()); !errors.Is(err, domain.ErrBusiness) {
		t.Errorf("UpgradeRole() second error = %v, want ErrBusiness", err)
	}
	if env.svc.LastError() != "User is already a seller" {
		t.Errorf("LastError() = %q", env.svc.LastError())
	}
}

func TestUpdateProfile(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())
	env.svc.Login(context.Background(), "ada@example.com", "secret")

	if _, err := env.svc.UpdateProfile(context.Background(), domain.ProfileUpdate{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty update error = %v, want ErrValidation", err)
	}

	user, err := env.svc.UpdateProfile(context.Background(), domain.ProfileUpdate{FirstName: "Ada", LastName: "Lovelace"})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if user.LastName != "Lovelace" || env.svc.User().LastName != "Lovelace" || env.tokens.User().LastName != "Lovelace" {
		t.Error("profile change not cached")
	}
	if got := env.api.Profile("ada@example.com").FirstName; got != "Ada" {
		t.Errorf("server FirstName = %q", got)
	}

	_, err = env.svc.UpdateProfile(context.Background(), domain.ProfileUpdate{Email: "other@example.com"})
	if err == nil {
		t.Fatal("UpdateProfile() email change error = nil")
	}
	if got := env.svc.LastError(); got != "Email: Email changes are not supported." {
		t.Errorf("LastError() = %q", got)
	}
}

func TestStatus(t *testing.T) {
	env := setupTestService(t)
	env.svc.Start(context.Background())
	env.svc.Login(context.Background(), "ada@example.com", "secret")

	st := env.svc.Status()
	if !st.IsAuthenticated() || !st.Checked {
		t.Errorf("Status() = %+v", st)
	}
	if st.AccessExpires == nil || !st.AccessExpires.After(time.Now()) {
		t.Errorf("AccessExpires = %v, want a future time", st.AccessExpires)
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	env := setupTestService(t)

	var calls int
	unsubscribe := env.svc.Subscribe(func(domain.Event) { calls++ })
	env.svc.Start(context.Background())
	unsubscribe()
	env.svc.Logout(context.Background())

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
