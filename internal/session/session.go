package session

import (
	"time"

	"github.com/felixgeelhaar/techshelf/internal/domain"
)

// State is the authentication state of the storefront session
type State string

const (
	// StateChecking means the startup token check has not finished
	StateChecking State = "checking"
	// StateAnonymous means no user is signed in
	StateAnonymous State = "anonymous"
	// StateAuthenticating means a login or registration is in flight
	StateAuthenticating State = "authenticating"
	// StateAuthenticated means a user is signed in
	StateAuthenticated State = "authenticated"
)

func (s State) String() string {
	return string(s)
}

// Status is a point-in-time view of the session
type Status struct {
	State         State               `json:"state"`
	Checked       bool                `json:"checked"`
	User          *domain.UserProfile `json:"user,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	AccessExpires *time.Time          `json:"access_expires_at,omitempty"`
}

// IsAuthenticated reports whether a user is signed in
func (s Status) IsAuthenticated() bool {
	return s.State == StateAuthenticated
}

// RegisterInput is the sign-up form
type RegisterInput struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}
