// Package guestcart persists the cart of a visitor who has not signed in.
package guestcart

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/storage"
)

// DefaultKey is the storage key holding the guest cart
const DefaultKey = "techshelf_guest_cart"

// Store reads and writes the guest cart under a single fixed key
type Store struct {
	kv  storage.KV
	key string
}

// NewStore creates a guest cart store. An empty key selects DefaultKey.
func NewStore(kv storage.KV, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{kv: kv, key: key}
}

// Key returns the storage key in use
func (s *Store) Key() string {
	return s.key
}

// Load returns the persisted guest cart. Missing or unreadable data yields
// an empty cart.
func (s *Store) Load() domain.Cart {
	var cart domain.Cart
	if err := storage.GetJSON(s.kv, s.key, &cart); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("discarding unreadable guest cart", "key", s.key, "error", err)
		}
		return domain.EmptyCart()
	}

	items := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ProductID == "" || item.Quantity < 1 {
			slog.Warn("dropping invalid guest cart line", "product_id", item.ProductID, "quantity", item.Quantity)
			continue
		}
		items = append(items, item)
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	cart.Items = items
	cart.Recalculate()

	return cart
}

// Save persists cart
func (s *Store) Save(cart domain.Cart) error {
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	if err := storage.PutJSON(s.kv, s.key, cart); err != nil {
		return fmt.Errorf("save guest cart: %w", err)
	}
	return nil
}

// Clear removes the persisted guest cart
func (s *Store) Clear() error {
	if err := storage.DeleteIfExists(s.kv, s.key); err != nil {
		return fmt.Errorf("clear guest cart: %w", err)
	}
	return nil
}
