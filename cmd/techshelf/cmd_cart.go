package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/storefront"
)

func cmdCart(args []string) error {
	method, path := "GET", "/v1/cart"
	if len(args) > 0 {
		switch args[0] {
		case "reload":
			method, path = "POST", "/v1/cart/reload"
		case "merge":
			method, path = "POST", "/v1/cart/merge"
		case "sync":
			method, path = "POST", "/v1/cart/flush"
		case "clear-guest":
			method, path = "DELETE", "/v1/cart/guest"
		default:
			return fmt.Errorf("unknown cart command: %s (valid: reload, merge, sync, clear-guest)", args[0])
		}
	}
	return cartRequest(method, path, nil)
}

func cmdAdd(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: techshelf add <product-id> [quantity]")
	}
	quantity := 1
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		quantity = n
	}
	return cartRequest("POST", "/v1/cart/items", map[string]any{
		"product_id": args[0],
		"quantity":   quantity,
	})
}

func cmdRemove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: techshelf remove <product-id>")
	}
	return cartRequest("DELETE", "/v1/cart/items/"+url.PathEscape(args[0]), nil)
}

func cmdQuantity(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: techshelf qty <product-id> <quantity>")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid quantity %q", args[1])
	}
	path := "/v1/cart/items/" + url.PathEscape(args[0])
	if err := call("PUT", path, map[string]int{"quantity": n}, nil); err != nil {
		return err
	}
	// a one-shot command waits for the debounced update to settle
	return cartRequest("POST", "/v1/cart/flush", nil)
}

func cmdPromo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: techshelf promo <code>")
	}
	return cartRequest("POST", "/v1/cart/promotion", map[string]string{"code": args[0]})
}

func cmdCheckout(args []string) error {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	var req domain.CheckoutRequest
	fs.StringVar(&req.ShippingAddress.FullName, "name", "", "recipient full name")
	fs.StringVar(&req.ShippingAddress.Address, "address", "", "street address")
	fs.StringVar(&req.ShippingAddress.City, "city", "", "city")
	fs.StringVar(&req.ShippingAddress.PostalCode, "postal-code", "", "postal code")
	fs.StringVar(&req.ShippingAddress.Country, "country", "", "country")
	fs.StringVar(&req.ShippingAddress.Phone, "phone", "", "phone number (optional)")
	fs.StringVar(&req.PaymentMethod, "payment", "", "payment method")
	fs.BoolVar(&req.SaveCard, "save-card", false, "remember the card")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var order domain.Order
	if err := call("POST", "/v1/cart/checkout", req, &order); err != nil {
		return err
	}
	fmt.Printf("✓ Order %s placed\n", order.OrderID)
	return nil
}

// cartRequest performs a cart call and prints the resulting cart
func cartRequest(method, path string, body any) error {
	var status storefront.CartStatus
	if err := call(method, path, body, &status); err != nil {
		return err
	}
	printCart(status)
	return nil
}

func printCart(status storefront.CartStatus) {
	c := status.Cart
	if c.IsEmpty() {
		fmt.Printf("Cart is empty (%s)\n", status.Mode)
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PRODUCT\tNAME\tQTY\tPRICE\tTOTAL")
		for _, item := range c.Items {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				item.ProductID, item.DisplayName(), item.Quantity,
				item.Price.StringFixed(2), item.LineTotal().StringFixed(2))
		}
		w.Flush()

		fmt.Printf("\nSubtotal: %s\n", c.Subtotal.StringFixed(2))
		if c.Discount != nil && !c.Discount.IsZero() {
			fmt.Printf("Discount: -%s (%s)\n", c.Discount.StringFixed(2), c.DiscountCode)
		}
		fmt.Printf("Total:    %s (%s cart)\n", c.Total.StringFixed(2), status.Mode)
	}

	if status.PendingUpdates > 0 {
		fmt.Printf("Syncing %d quantity update(s)...\n", status.PendingUpdates)
	}
	if status.LastError != "" {
		fmt.Printf("⚠ %s\n", status.LastError)
	}
}
