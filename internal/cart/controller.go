// Package cart keeps the single in-memory cart consistent across guest and
// signed-in modes. Guest carts live in the guest cart store; signed-in carts
// are owned by the server and mirrored here, with debounced optimistic
// quantity changes.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/guestcart"
	"github.com/felixgeelhaar/techshelf/internal/metrics"
)

// Mode says who owns the cart
type Mode string

const (
	ModeGuest         Mode = "guest"
	ModeAuthenticated Mode = "authenticated"
)

// Defaults
const (
	DefaultDebounce       = 500 * time.Millisecond
	DefaultRequestTimeout = 30 * time.Second
	defaultFetchWorkers   = 4
)

// User-visible fallback messages
const (
	msgLoadFailed     = "Failed to load cart"
	msgAddFailed      = "Failed to add item to cart"
	msgRemoveFailed   = "Failed to remove item from cart"
	msgUpdateFailed   = "Failed to update cart"
	msgPromoFailed    = "Invalid discount code"
	msgCheckoutFailed = "Checkout failed"
	msgMergeFailed    = "Failed to merge cart items"
	msgSaveFailed     = "Failed to save cart"
)

// Controller is the cart controller
type Controller struct {
	api     API
	guest   *guestcart.Store
	session Session
	events  *domain.EventDispatcher
	metrics *metrics.Metrics

	clock          clockwork.Clock
	debounce       time.Duration
	requestTimeout time.Duration
	fetchWorkers   int

	mu        sync.Mutex
	cart      domain.Cart
	lastError string
	pending   map[string]*quantityUpdate
	// settling holds updates that left pending and are reloading the
	// server cart. Flush still waits for them.
	settling map[*quantityUpdate]struct{}
	// epoch changes whenever the signed-in identity changes. Results of
	// requests started under an older epoch are dropped.
	epoch uint64

	unsubscribe func()
}

// Option configures a Controller
type Option func(*Controller)

// WithClock sets the clock driving the quantity debounce
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithDebounce sets the quantity debounce window
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithRequestTimeout bounds requests the controller starts on its own
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithMetrics records merge and quantity outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEvents publishes cart events on an existing dispatcher
func WithEvents(d *domain.EventDispatcher) Option {
	return func(c *Controller) { c.events = d }
}

// NewController creates a cart controller and subscribes it to session
// events: Ready loads the cart, Established merges the guest cart and Ended
// drops pending work and reloads the guest cart.
func NewController(api API, guest *guestcart.Store, sess Session, opts ...Option) *Controller {
	c := &Controller{
		api:            api,
		guest:          guest,
		session:        sess,
		events:         domain.NewEventDispatcher(),
		clock:          clockwork.NewRealClock(),
		debounce:       DefaultDebounce,
		requestTimeout: DefaultRequestTimeout,
		fetchWorkers:   defaultFetchWorkers,
		cart:           domain.EmptyCart(),
		pending:        make(map[string]*quantityUpdate),
		settling:       make(map[*quantityUpdate]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.unsubscribe = sess.Subscribe(c.handleSessionEvent)
	return c
}

// Close detaches from the session and cancels pending quantity updates.
func (c *Controller) Close() {
	c.unsubscribe()
	c.mu.Lock()
	c.dropPendingLocked()
	c.mu.Unlock()
}

// Subscribe registers a listener for cart events
func (c *Controller) Subscribe(handler domain.EventHandler) (unsubscribe func()) {
	return c.events.Subscribe(handler)
}

func (c *Controller) handleSessionEvent(e domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	var err error
	switch e.EventType() {
	case domain.EventSessionReady:
		err = c.Load(ctx)
	case domain.EventSessionEstablished:
		c.resetForNewIdentity()
		err = c.MergeGuestCart(ctx)
	case domain.EventSessionEnded:
		c.resetForNewIdentity()
		err = c.Load(ctx)
	default:
		return
	}
	if err != nil {
		slog.Debug("cart update after session event failed", "event", e.EventType(), "error", err)
	}
}

// resetForNewIdentity drops quantity updates made for the previous user and
// invalidates requests still in flight for them.
func (c *Controller) resetForNewIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropPendingLocked()
	c.epoch++
}

// Mode reports who owns the cart right now
func (c *Controller) Mode() Mode {
	if c.session.IsAuthenticated() {
		return ModeAuthenticated
	}
	return ModeGuest
}

// IsGuestCart reports whether the cart is the local guest cart
func (c *Controller) IsGuestCart() bool {
	return c.Mode() == ModeGuest
}

// Snapshot returns a copy of the cart
func (c *Controller) Snapshot() domain.Cart {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cart.Clone()
}

// ItemCount returns the number of units in the cart
func (c *Controller) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cart.ItemCount()
}

// LastError returns the message of the last failed operation
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Load replaces the in-memory cart with the guest cart or the server cart.
func (c *Controller) Load(ctx context.Context) error {
	c.setLastError("")
	if c.Mode() == ModeGuest {
		cart := c.guest.Load()
		c.mu.Lock()
		c.cart = cart
		c.mu.Unlock()
		return nil
	}
	return c.loadServer(ctx, c.currentEpoch())
}

// loadServer fetches the server cart and fills in missing product
// snapshots. A failed fetch leaves an empty cart.
func (c *Controller) loadServer(ctx context.Context, epoch uint64) error {
	server, err := c.api.Cart(ctx)
	if err != nil {
		err = domain.WithFallback(err, msgLoadFailed)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch == epoch {
			c.cart = domain.EmptyCart()
			c.lastError = domain.UserMessage(err, msgLoadFailed)
		}
		return err
	}

	c.fillSnapshots(ctx, server)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return nil
	}
	c.applyPendingLocked(server)
	c.cart = *server
	return nil
}

// AddItem adds quantity units of a product.
func (c *Controller) AddItem(ctx context.Context, productID string, quantity int) error {
	c.setLastError("")
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return c.fail(domain.NewValidationError("Product is required"))
	}
	if quantity < 1 {
		return c.fail(domain.NewValidationError("Quantity must be at least 1"))
	}

	if c.Mode() == ModeGuest {
		product, err := c.api.Product(ctx, productID)
		if err != nil {
			return c.fail(domain.WithFallback(err, msgAddFailed))
		}
		return c.updateGuest(func(cart *domain.Cart) error {
			cart.Upsert(domain.CartItem{
				ProductID: productID,
				Quantity:  quantity,
				Price:     product.Price,
				Product:   product,
			})
			return nil
		})
	}

	epoch := c.currentEpoch()
	if _, err := c.api.AddToCart(ctx, productID, quantity); err != nil {
		return c.fail(domain.WithFallback(err, msgAddFailed))
	}
	return c.loadServer(ctx, epoch)
}

// RemoveItem drops a product line.
func (c *Controller) RemoveItem(ctx context.Context, productID string) error {
	c.setLastError("")

	if c.Mode() == ModeGuest {
		return c.updateGuest(func(cart *domain.Cart) error {
			cart.Remove(productID)
			return nil
		})
	}

	c.mu.Lock()
	if m, ok := c.pending[productID]; ok {
		c.finishLocked(m)
	}
	epoch := c.epoch
	c.mu.Unlock()

	resp, err := c.api.RemoveFromCart(ctx, productID)
	if err != nil {
		return c.fail(domain.WithFallback(err, msgRemoveFailed))
	}
	if resp == nil {
		return c.loadServer(ctx, epoch)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch {
		c.replaceWithResponseLocked(resp)
	}
	return nil
}

// UpdateQuantity sets the quantity of a line. A quantity below 1 removes
// it. For signed-in users the change is shown immediately and sent after
// the debounce window; failures roll back to the server cart and are
// reported through LastError.
func (c *Controller) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity < 1 {
		return c.RemoveItem(ctx, productID)
	}
	c.setLastError("")

	if c.Mode() == ModeGuest {
		// an unknown product leaves the guest cart as it is
		return c.updateGuest(func(cart *domain.Cart) error {
			cart.SetQuantity(productID, quantity)
			return nil
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cart.Item(productID); !ok {
		err := domain.NewBusinessError("Item is not in the cart", 0)
		c.lastError = err.Message
		return err
	}
	setQuantity(&c.cart, productID, quantity)
	c.scheduleLocked(productID, quantity)
	return nil
}

// ApplyPromotion applies a discount code. Guests must sign in first.
func (c *Controller) ApplyPromotion(ctx context.Context, code string) error {
	c.setLastError("")
	if c.Mode() == ModeGuest {
		return c.fail(domain.LoginRequired(domain.MsgLoginForPromo))
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return c.fail(domain.NewValidationError("Please enter a discount code"))
	}

	if err := c.Flush(ctx); err != nil {
		return err
	}
	epoch := c.currentEpoch()
	if _, err := c.api.ApplyPromotion(ctx, code); err != nil {
		return c.fail(domain.WithFallback(err, msgPromoFailed))
	}
	return c.loadServer(ctx, epoch)
}

// Checkout places an order for the current cart and empties it.
func (c *Controller) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Order, error) {
	c.setLastError("")
	if c.Mode() == ModeGuest {
		return nil, c.fail(domain.LoginRequired(domain.MsgLoginForCheckout))
	}
	if err := req.Validate(); err != nil {
		return nil, c.fail(err)
	}
	if err := c.Flush(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.cart.IsEmpty() {
		c.mu.Unlock()
		return nil, c.fail(domain.NewBusinessError("Your cart is empty", 0))
	}
	snapshot := c.cart.Clone()
	epoch := c.epoch
	c.mu.Unlock()

	req.Items = snapshot.Items
	req.Total = snapshot.Total

	order, err := c.api.Checkout(ctx, req)
	if err != nil {
		return nil, c.fail(domain.WithFallback(err, msgCheckoutFailed))
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.cart = domain.EmptyCart()
	}
	c.mu.Unlock()

	slog.Info("order placed", "order_id", order.OrderID, "items", snapshot.ItemCount())
	c.events.Publish(domain.NewOrderPlacedEvent(order.OrderID, snapshot.ItemCount(), snapshot.Total))
	return order, nil
}

// MergeGuestCart folds the guest cart into the server cart after sign-in.
// The guest cart is only cleared once the server accepted it, so a failed
// merge is retried on the next sign-in.
func (c *Controller) MergeGuestCart(ctx context.Context) error {
	c.setLastError("")
	if c.Mode() == ModeGuest {
		return c.fail(domain.LoginRequired("Please log in to merge your cart"))
	}

	epoch := c.currentEpoch()
	guest := c.guest.Load()
	if guest.IsEmpty() {
		return c.loadServer(ctx, epoch)
	}

	if err := c.api.MergeCart(ctx, guest); err != nil {
		slog.Warn("guest cart merge failed", "items", len(guest.Items), "error", err)
		c.metrics.RecordMerge(false)
		c.events.Publish(domain.NewCartMergedEvent(len(guest.Items), err))

		if loadErr := c.loadServer(ctx, epoch); loadErr != nil {
			slog.Debug("server cart load after failed merge failed", "error", loadErr)
		}
		c.setLastError(msgMergeFailed)
		return fmt.Errorf("merge guest cart: %w", err)
	}

	if err := c.guest.Clear(); err != nil {
		slog.Warn("failed to clear merged guest cart", "error", err)
	}
	c.metrics.RecordMerge(true)
	slog.Info("guest cart merged", "items", len(guest.Items))
	c.events.Publish(domain.NewCartMergedEvent(len(guest.Items), nil))

	return c.loadServer(ctx, epoch)
}

// ClearGuestCart deletes the persisted guest cart. In guest mode the
// in-memory cart is emptied too.
func (c *Controller) ClearGuestCart() error {
	if err := c.guest.Clear(); err != nil {
		return c.fail(domain.WithFallback(fmt.Errorf("clear guest cart: %w", err), msgSaveFailed))
	}
	if c.Mode() == ModeGuest {
		c.mu.Lock()
		c.cart = domain.EmptyCart()
		c.mu.Unlock()
	}
	return nil
}

// updateGuest applies fn to the persisted guest cart and mirrors the result
// in memory. Nothing changes if fn or the save fails.
func (c *Controller) updateGuest(fn func(cart *domain.Cart) error) error {
	cart := c.guest.Load()
	if err := fn(&cart); err != nil {
		return c.fail(err)
	}
	cart.Recalculate()

	if err := c.guest.Save(cart); err != nil {
		return c.fail(domain.WithFallback(fmt.Errorf("save guest cart: %w", err), msgSaveFailed))
	}

	c.mu.Lock()
	c.cart = cart
	c.mu.Unlock()
	return nil
}

func (c *Controller) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// fail records err as the last error and returns it
func (c *Controller) fail(err error) error {
	c.setLastError(domain.UserMessage(err, err.Error()))
	return err
}

func (c *Controller) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}
