package guestcart

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/storage/local"
)

func newTestStore(t *testing.T) (*Store, *local.Store) {
	t.Helper()
	kv, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return NewStore(kv, ""), kv
}

func TestLoad_MissingReturnsEmptyCart(t *testing.T) {
	store, _ := newTestStore(t)

	cart := store.Load()
	if cart.Items == nil || len(cart.Items) != 0 {
		t.Errorf("Items = %v, want empty non-nil slice", cart.Items)
	}
	if !cart.Total.IsZero() || !cart.Subtotal.IsZero() {
		t.Errorf("totals = %s/%s, want 0", cart.Subtotal, cart.Total)
	}
}

func TestLoad_CorruptReturnsEmptyCart(t *testing.T) {
	store, kv := newTestStore(t)
	kv.Put(DefaultKey, []byte("{not json"))

	if cart := store.Load(); !cart.IsEmpty() {
		t.Errorf("Load() = %+v, want empty cart", cart)
	}
}

func TestSaveLoadRoundTripRecomputesTotals(t *testing.T) {
	store, _ := newTestStore(t)

	cart := domain.EmptyCart()
	cart.Upsert(domain.CartItem{ProductID: "prod_1", Quantity: 2, Price: decimal.RequireFromString("10.00")})
	// Stale totals must not survive a reload.
	cart.Total = decimal.NewFromInt(999)

	if err := store.Save(cart); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got := store.Load()
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Fatalf("Items = %+v", got.Items)
	}
	want := decimal.RequireFromString("20.00")
	if !got.Subtotal.Equal(want) || !got.Total.Equal(want) {
		t.Errorf("totals = %s/%s, want 20.00", got.Subtotal, got.Total)
	}
}

func TestLoad_DropsInvalidLines(t *testing.T) {
	store, kv := newTestStore(t)
	kv.Put(DefaultKey, []byte(`{"items":[{"product_id":"a","quantity":0,"price":"1"},{"product_id":"","quantity":1,"price":"1"},{"product_id":"b","quantity":1,"price":"2.5"}]}`))

	cart := store.Load()
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "b" {
		t.Errorf("Items = %+v, want only b", cart.Items)
	}
	if !cart.Total.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("Total = %s, want 2.5", cart.Total)
	}
}

func TestClear(t *testing.T) {
	store, kv := newTestStore(t)
	store.Save(domain.EmptyCart())

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if kv.Exists(DefaultKey) {
		t.Error("guest cart key still present after Clear()")
	}
	if err := store.Clear(); err != nil {
		t.Errorf("Clear() on empty store error = %v", err)
	}
}

func TestNewStore_CustomKey(t *testing.T) {
	kv, _ := local.NewStore(t.TempDir())
	store := NewStore(kv, "my_cart")
	store.Save(domain.EmptyCart())

	if !kv.Exists("my_cart") {
		t.Error("custom key not used")
	}
	if store.Key() != "my_cart" {
		t.Errorf("Key() = %q", store.Key())
	}
}
