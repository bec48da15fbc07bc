package cart

import (
	"context"

	"github.com/felixgeelhaar/techshelf/internal/apiclient"
	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/session"
)

// API is the subset of the commerce API the cart needs
type API interface {
	Cart(ctx context.Context) (*domain.Cart, error)
	AddToCart(ctx context.Context, productID string, quantity int) (*domain.Cart, error)
	RemoveFromCart(ctx context.Context, productID string) (*domain.Cart, error)
	UpdateCartItem(ctx context.Context, productID string, quantity int) (*domain.Cart, error)
	MergeCart(ctx context.Context, guest domain.Cart) error
	ApplyPromotion(ctx context.Context, code string) (*domain.Cart, error)
	Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Order, error)
	Product(ctx context.Context, productID string) (*domain.ProductSummary, error)
}

// Session is what the cart needs to know about identity
type Session interface {
	IsAuthenticated() bool
	Subscribe(handler domain.EventHandler) (unsubscribe func())
}

var (
	_ API     = (*apiclient.Client)(nil)
	_ Session = (*session.Service)(nil)
)
