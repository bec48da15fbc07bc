package session

import (
	"context"

	"github.com/felixgeelhaar/techshelf/internal/apiclient"
	"github.com/felixgeelhaar/techshelf/internal/domain"
)

// API is the subset of the commerce API the session needs
type API interface {
	Login(ctx context.Context, email, password string) (*apiclient.LoginResult, error)
	Register(ctx context.Context, req apiclient.RegisterRequest) (*domain.UserProfile, error)
	Logout(ctx context.Context, refreshToken string) error
	Profile(ctx context.Context) (*domain.UserProfile, error)
	UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.UserProfile, error)
	UpgradeToSeller(ctx context.Context) error
}

// Ensure the HTTP client satisfies API
var _ API = (*apiclient.Client)(nil)

// Ensure Service can own the client's credentials
var _ apiclient.Credentials = (*Service)(nil)
