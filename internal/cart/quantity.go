package cart

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/metrics"
)

// updateState is the phase of a per-product quantity update
type updateState int

const (
	statePendingDebounce updateState = iota + 1
	stateInFlight
	stateCommitted
	stateRolledBack
)

func (s updateState) String() string {
	switch s {
	case statePendingDebounce:
		return "pending_debounce"
	case stateInFlight:
		return "in_flight"
	case stateCommitted:
		return "committed"
	case stateRolledBack:
		return "rolled_back"
	}
	return "idle"
}

// quantityUpdate tracks the debounced quantity of one product. A product
// with no entry in Controller.pending is idle.
type quantityUpdate struct {
	productID string
	state     updateState
	desired   int  // latest quantity the user asked for
	queued    bool // desired changed while a request was in flight
	timer     clockwork.Timer
	// gen identifies the current timer arming; stale callbacks compare it
	gen  uint64
	done chan struct{}
}

// optimistic reports whether desired still has to be shown over the
// server's view of the cart.
func (m *quantityUpdate) optimistic() bool {
	return m.state == statePendingDebounce || m.state == stateInFlight
}

// scheduleLocked records a new desired quantity and arms, re-arms or queues
// the network update.
func (c *Controller) scheduleLocked(productID string, quantity int) {
	m, ok := c.pending[productID]
	if !ok {
		m = &quantityUpdate{productID: productID, done: make(chan struct{})}
		c.pending[productID] = m
	}
	m.desired = quantity

	switch m.state {
	case statePendingDebounce:
		c.metrics.RecordQuantityUpdate(metrics.QuantityCoalesced)
		c.armLocked(m)
	case stateInFlight:
		c.metrics.RecordQuantityUpdate(metrics.QuantityCoalesced)
		m.queued = true
	default:
		m.state = statePendingDebounce
		c.armLocked(m)
	}
}

// armLocked (re)starts the debounce window of m. Callbacks of earlier
// timers see a stale generation and do nothing.
func (c *Controller) armLocked(m *quantityUpdate) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = c.clock.AfterFunc(c.debounce, func() { c.fire(m, gen) })
}

// fire runs when the debounce window of m closes.
func (c *Controller) fire(m *quantityUpdate, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[m.productID] != m || m.gen != gen || m.state != statePendingDebounce {
		return
	}
	c.startSendLocked(m)
}

func (c *Controller) startSendLocked(m *quantityUpdate) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	m.state = stateInFlight
	m.queued = false
	go c.send(m, m.desired, c.epoch)
}

// send pushes one quantity to the server and settles the update. A change
// queued meanwhile is sent next instead of settling.
func (c *Controller) send(m *quantityUpdate, quantity int, epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	resp, err := c.api.UpdateCartItem(ctx, m.productID, quantity)

	c.mu.Lock()
	if c.pending[m.productID] != m {
		// removed or dropped while in flight
		c.mu.Unlock()
		return
	}
	if c.epoch != epoch {
		c.finishLocked(m)
		c.mu.Unlock()
		return
	}
	if m.queued {
		if err != nil {
			slog.Debug("superseded quantity update failed", "product_id", m.productID, "error", err)
		}
		c.startSendLocked(m)
		c.mu.Unlock()
		return
	}

	if err != nil {
		m.state = stateRolledBack
		err = domain.WithFallback(err, msgUpdateFailed)
		c.lastError = domain.UserMessage(err, msgUpdateFailed)
		c.retireLocked(m)
		c.mu.Unlock()

		c.metrics.RecordQuantityUpdate(metrics.QuantityRolledBack)
		slog.Warn("quantity update failed, restoring server cart",
			"product_id", m.productID,
			"quantity", quantity,
			"error", err)
		c.settleWithReload(ctx, m, epoch)
		return
	}

	m.state = stateCommitted
	c.metrics.RecordQuantityUpdate(metrics.QuantityCommitted)
	if resp == nil {
		c.retireLocked(m)
		c.mu.Unlock()
		c.settleWithReload(ctx, m, epoch)
		return
	}
	c.replaceWithResponseLocked(resp)
	c.finishLocked(m)
	c.mu.Unlock()
}

// retireLocked takes m out of pending before its result is reconciled
// with the server. A change arriving meanwhile starts a fresh update.
func (c *Controller) retireLocked(m *quantityUpdate) {
	if m.timer != nil {
		m.timer.Stop()
	}
	if c.pending[m.productID] == m {
		delete(c.pending, m.productID)
	}
	c.settling[m] = struct{}{}
}

// settleWithReload reloads the authoritative cart, then wakes Flush
// callers waiting on the retired update m.
func (c *Controller) settleWithReload(ctx context.Context, m *quantityUpdate, epoch uint64) {
	if err := c.loadServer(ctx, epoch); err != nil {
		slog.Debug("cart reload failed", "error", err)
	}
	c.mu.Lock()
	c.finishLocked(m)
	c.mu.Unlock()
}

// finishLocked retires m and wakes Flush callers waiting on it.
func (c *Controller) finishLocked(m *quantityUpdate) {
	if m.timer != nil {
		m.timer.Stop()
	}
	if c.pending[m.productID] == m {
		delete(c.pending, m.productID)
	}
	delete(c.settling, m)
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// dropPendingLocked abandons every quantity update. Requests already in
// flight complete but their results are ignored.
func (c *Controller) dropPendingLocked() {
	for _, m := range c.pending {
		c.finishLocked(m)
	}
	for m := range c.settling {
		c.finishLocked(m)
	}
}

// applyPendingLocked overlays quantities that are still optimistic onto a
// cart freshly read from the server.
func (c *Controller) applyPendingLocked(cart *domain.Cart) {
	for id, m := range c.pending {
		if m.optimistic() {
			setQuantity(cart, id, m.desired)
		}
	}
}

// Flush sends every debounced quantity update now and waits until all
// updates, including ones already in flight, have settled.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	waits := make([]chan struct{}, 0, len(c.pending)+len(c.settling))
	for _, m := range c.pending {
		if m.state == statePendingDebounce {
			c.startSendLocked(m)
		}
		waits = append(waits, m.done)
	}
	for m := range c.settling {
		waits = append(waits, m.done)
	}
	c.mu.Unlock()

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// PendingUpdates returns the number of quantity updates not yet settled
func (c *Controller) PendingUpdates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) + len(c.settling)
}

// setQuantity changes a line quantity and moves the cart totals by the
// same amount, keeping server-computed discount, shipping and tax.
func setQuantity(cart *domain.Cart, productID string, quantity int) {
	before := cart.ComputeSubtotal()
	if !cart.SetQuantity(productID, quantity) {
		return
	}
	delta := cart.ComputeSubtotal().Sub(before)
	cart.Subtotal = cart.Subtotal.Add(delta)
	cart.Total = cart.Total.Add(delta)
}
