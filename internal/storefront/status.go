package storefront

import (
	"github.com/felixgeelhaar/techshelf/internal/cart"
	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/session"
)

// CartStatus is the cart as hosts present it
type CartStatus struct {
	Mode           cart.Mode   `json:"mode"`
	Cart           domain.Cart `json:"cart"`
	ItemCount      int         `json:"item_count"`
	PendingUpdates int         `json:"pending_updates"`
	LastError      string      `json:"last_error,omitempty"`
}

// Status combines session and cart state
type Status struct {
	Session session.Status `json:"session"`
	Cart    CartStatus     `json:"cart"`
}

// CartStatus returns a snapshot of the cart
func (e *Engine) CartStatus() CartStatus {
	c := e.Cart.Snapshot()
	return CartStatus{
		Mode:           e.Cart.Mode(),
		Cart:           c,
		ItemCount:      c.ItemCount(),
		PendingUpdates: e.Cart.PendingUpdates(),
		LastError:      e.Cart.LastError(),
	}
}

// Status returns a snapshot of the session and the cart
func (e *Engine) Status() Status {
	return Status{
		Session: e.Session.Status(),
		Cart:    e.CartStatus(),
	}
}
