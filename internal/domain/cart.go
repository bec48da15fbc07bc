package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PlaceholderStock is the stock figure shown for a product whose details
// could not be fetched.
const PlaceholderStock = 10

// ProductSummary is the product snapshot attached to a cart item for display.
type ProductSummary struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Image string          `json:"image,omitempty"`
	Stock int             `json:"stock"`
	Slug  string          `json:"slug,omitempty"`
}

// CartItem is a single product line in a cart
type CartItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Product   *ProductSummary `json:"product,omitempty"`

	// Sent by the server on some responses in place of a full product snapshot.
	ProductName string           `json:"product_name,omitempty"`
	TotalPrice  *decimal.Decimal `json:"total_price,omitempty"`
}

// LineTotal returns unit price times quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// HasFullSnapshot reports whether the item carries product details good
// enough to render without another fetch.
func (i CartItem) HasFullSnapshot() bool {
	return i.Product != nil && i.Product.Image != ""
}

// DisplayName returns the best available name for the item.
func (i CartItem) DisplayName() string {
	if i.Product != nil && i.Product.Name != "" {
		return i.Product.Name
	}
	if i.ProductName != "" {
		return i.ProductName
	}
	return DisplayNameFor(i.ProductID)
}

// DisplayNameFor derives a name from a product id: "prod_123" becomes
// "Product 123", ids without a suffix become "Product <id>".
func DisplayNameFor(productID string) string {
	if _, suffix, ok := strings.Cut(productID, "_"); ok && suffix != "" {
		return "Product " + suffix
	}
	return "Product " + productID
}

// PlaceholderProduct builds the degraded snapshot used when the product
// lookup for an item fails.
func PlaceholderProduct(item CartItem) *ProductSummary {
	return &ProductSummary{
		ID:    item.ProductID,
		Name:  DisplayNameFor(item.ProductID),
		Price: item.Price,
		Stock: PlaceholderStock,
	}
}

// MergeSnapshot overlays the non-empty fields of previous onto base.
// Either argument may be nil.
func MergeSnapshot(base, previous *ProductSummary) *ProductSummary {
	if base == nil && previous == nil {
		return nil
	}
	var merged ProductSummary
	if base != nil {
		merged = *base
	}
	if previous == nil {
		return &merged
	}
	if previous.ID != "" {
		merged.ID = previous.ID
	}
	if previous.Name != "" {
		merged.Name = previous.Name
	}
	if !previous.Price.IsZero() {
		merged.Price = previous.Price
	}
	if previous.Image != "" {
		merged.Image = previous.Image
	}
	if previous.Stock != 0 {
		merged.Stock = previous.Stock
	}
	if previous.Slug != "" {
		merged.Slug = previous.Slug
	}
	return &merged
}

// Cart is an ordered collection of items keyed by product id.
//
// For guest carts Total always equals Subtotal. Server carts may carry
// discount, shipping and tax figures computed remotely.
type Cart struct {
	Items        []CartItem       `json:"items"`
	Subtotal     decimal.Decimal  `json:"subtotal"`
	Total        decimal.Decimal  `json:"total"`
	Discount     *decimal.Decimal `json:"discount,omitempty"`
	ShippingCost *decimal.Decimal `json:"shipping_cost,omitempty"`
	Tax          *decimal.Decimal `json:"tax,omitempty"`
	DiscountCode string           `json:"discount_code,omitempty"`
}

// EmptyCart returns a cart with no items and zero totals.
func EmptyCart() Cart {
	return Cart{Items: []CartItem{}}
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	out := c
	out.Items = make([]CartItem, len(c.Items))
	for i, item := range c.Items {
		if item.Product != nil {
			p := *item.Product
			item.Product = &p
		}
		out.Items[i] = item
	}
	return out
}

// IsEmpty reports whether the cart has no items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ItemCount returns the sum of item quantities.
func (c Cart) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// Item returns the line for productID.
func (c Cart) Item(productID string) (CartItem, bool) {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}

// ComputeSubtotal returns the sum of all line totals.
func (c Cart) ComputeSubtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// Recalculate sets Subtotal from the items and Total to Subtotal.
// Only meaningful for guest carts, which carry no discount, shipping or tax.
func (c *Cart) Recalculate() {
	c.Subtotal = c.ComputeSubtotal()
	c.Total = c.Subtotal
}

// Upsert adds item to the cart, merging quantity into an existing line for
// the same product.
func (c *Cart) Upsert(item CartItem) {
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			c.Items[i].Quantity += item.Quantity
			if item.Product != nil {
				c.Items[i].Product = item.Product
			}
			return
		}
	}
	c.Items = append(c.Items, item)
}

// Remove drops the line for productID and reports whether it existed.
func (c *Cart) Remove(productID string) bool {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// SetQuantity overwrites the quantity of an existing line. Server-supplied
// line totals are rescaled so optimistic views stay coherent.
func (c *Cart) SetQuantity(productID string, quantity int) bool {
	for i := range c.Items {
		item := &c.Items[i]
		if item.ProductID != productID {
			continue
		}
		item.Quantity = quantity
		if item.TotalPrice != nil {
			total := item.LineTotal()
			item.TotalPrice = &total
		}
		return true
	}
	return false
}

// Snapshots indexes the product snapshots of the cart by product id.
func (c Cart) Snapshots() map[string]*ProductSummary {
	out := make(map[string]*ProductSummary, len(c.Items))
	for _, item := range c.Items {
		if item.Product != nil {
			out[item.ProductID] = item.Product
		}
	}
	return out
}
