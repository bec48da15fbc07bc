package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/storage/local"
)

func newTestStore(t *testing.T) (*Store, *local.Store) {
	t.Helper()
	kv, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return NewStore(kv), kv
}

func TestStore_EmptyDefaults(t *testing.T) {
	store, _ := newTestStore(t)

	if got := store.Access(); got != "" {
		t.Errorf("Access() = %q, want empty", got)
	}
	if got := store.Refresh(); got != "" {
		t.Errorf("Refresh() = %q, want empty", got)
	}
	if got := store.User(); got != nil {
		t.Errorf("User() = %+v, want nil", got)
	}
}

func TestStore_SetSessionAndClear(t *testing.T) {
	store, kv := newTestStore(t)
	user := &domain.UserProfile{ID: 7, Username: "ada", Email: "ada@example.com", Role: domain.RoleCustomer}

	if err := store.SetSession(user, "access-1", "refresh-1"); err != nil {
		t.Fatalf("SetSession() error = %v", err)
	}
	if store.Access() != "access-1" || store.Refresh() != "refresh-1" {
		t.Errorf("tokens = %q/%q", store.Access(), store.Refresh())
	}
	if got := store.User(); got == nil || got.Email != "ada@example.com" {
		t.Errorf("User() = %+v", got)
	}

	if err := store.SetAccess("access-2"); err != nil {
		t.Fatalf("SetAccess() error = %v", err)
	}
	if store.Access() != "access-2" {
		t.Errorf("Access() = %q, want access-2", store.Access())
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	for _, key := range []string{KeyAccess, KeyRefresh, KeyUser} {
		if kv.Exists(key) {
			t.Errorf("key %s still present after Clear()", key)
		}
	}
}

func TestStore_CorruptUser(t *testing.T) {
	store, kv := newTestStore(t)
	kv.Put(KeyUser, []byte("not-json"))

	if got := store.User(); got != nil {
		t.Errorf("User() = %+v, want nil", got)
	}
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, ok := Expiry(token)
	if !ok {
		t.Fatal("Expiry() ok = false")
	}
	if !got.Equal(exp) {
		t.Errorf("Expiry() = %v, want %v", got, exp)
	}

	if _, ok := Expiry("opaque-token"); ok {
		t.Error("Expiry(opaque) ok = true")
	}
	if _, ok := Expiry(""); ok {
		t.Error("Expiry(\"\") ok = true")
	}
}

func TestStore_AccessExpiry(t *testing.T) {
	store, _ := newTestStore(t)
	if _, ok := store.AccessExpiry(); ok {
		t.Error("AccessExpiry() ok = true with no token")
	}
}
