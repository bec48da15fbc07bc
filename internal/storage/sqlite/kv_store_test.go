package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/techshelf/internal/storage"
)

func newTestKVStore(t *testing.T) *KVStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewKVStore(db)
}

func TestKVStore_PutGetDelete(t *testing.T) {
	store := newTestKVStore(t)

	if _, err := store.Get("techshelf_guest_cart"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get() error = %v; want ErrNotFound", err)
	}

	if err := store.Put("techshelf_guest_cart", []byte(`{"items":[]}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put("techshelf_guest_cart", []byte(`{"items":[{}]}`)); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}

	got, err := store.Get("techshelf_guest_cart")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"items":[{}]}` {
		t.Errorf("Get() = %s", got)
	}

	if err := store.Delete("techshelf_guest_cart"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete("techshelf_guest_cart"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete() twice error = %v; want ErrNotFound", err)
	}
}

func TestKVStore_Keys(t *testing.T) {
	store := newTestKVStore(t)
	store.Put("refreshToken", []byte("r"))
	store.Put("accessToken", []byte("a"))

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "accessToken" || keys[1] != "refreshToken" {
		t.Errorf("Keys() = %v", keys)
	}
}
