package cart

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/techshelf/internal/domain"
)

// fillSnapshots fetches product details for items that lack a full
// snapshot. Lookups run concurrently; a failed lookup degrades to a
// placeholder and never fails the load.
func (c *Controller) fillSnapshots(ctx context.Context, cart *domain.Cart) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchWorkers)

	for i := range cart.Items {
		item := &cart.Items[i]
		if item.HasFullSnapshot() {
			continue
		}
		g.Go(func() error {
			product, err := c.api.Product(gctx, item.ProductID)
			if err != nil {
				slog.Debug("product lookup failed, using placeholder",
					"product_id", item.ProductID,
					"error", err)
				item.Product = domain.MergeSnapshot(domain.PlaceholderProduct(*item), item.Product)
				return nil
			}
			item.Product = domain.MergeSnapshot(item.Product, product)
			return nil
		})
	}
	_ = g.Wait()
}

// replaceWithResponseLocked installs a cart returned by a mutation. Such
// responses may be sparse, so product details known from the current cart
// are carried over, and quantities still being debounced are re-applied.
func (c *Controller) replaceWithResponseLocked(resp *domain.Cart) {
	cart := reconcile(*resp, c.cart.Snapshots())
	c.applyPendingLocked(&cart)
	c.cart = cart
}

// reconcile fills the product snapshots of a sparse server cart. Fields of
// a previously known snapshot win over the response; items that only carry
// product_name get a snapshot built from it.
func reconcile(resp domain.Cart, previous map[string]*domain.ProductSummary) domain.Cart {
	cart := resp.Clone()
	for i := range cart.Items {
		item := &cart.Items[i]

		if item.Price.IsZero() && item.TotalPrice != nil && item.Quantity > 0 {
			item.Price = item.TotalPrice.Div(decimal.NewFromInt(int64(item.Quantity)))
		}

		base := item.Product
		if base == nil && item.ProductName != "" {
			base = &domain.ProductSummary{
				ID:    item.ProductID,
				Name:  item.ProductName,
				Price: item.Price,
			}
		}
		item.Product = domain.MergeSnapshot(base, previous[item.ProductID])
	}
	return cart
}
