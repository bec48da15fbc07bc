package domain

import "strings"

// Roles assigned by the commerce API
const (
	RoleCustomer = "CUSTOMER"
	RoleSeller   = "SELLER"
)

// UserProfile is the signed-in user as reported by the commerce API
type UserProfile struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role,omitempty"`
}

// IsSeller reports whether the user may manage a store.
func (u *UserProfile) IsSeller() bool {
	return u != nil && strings.EqualFold(u.Role, RoleSeller)
}

// Clone returns a copy of the profile, or nil.
func (u *UserProfile) Clone() *UserProfile {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// ProfileUpdate holds the editable profile fields. Empty fields are left
// unchanged by the server.
type ProfileUpdate struct {
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (p ProfileUpdate) IsEmpty() bool {
	return p == ProfileUpdate{}
}
