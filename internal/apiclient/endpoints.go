package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/felixgeelhaar/techshelf/internal/domain"
)

// LoginResult is returned by a successful login
type LoginResult struct {
	User    *domain.UserProfile `json:"user"`
	Access  string              `json:"access"`
	Refresh string              `json:"refresh"`
}

// RegisterRequest is the registration payload
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	resp, err := c.do(ctx, request{
		op:     "users.login",
		method: http.MethodPost,
		path:   "/users/login/",
		body:   map[string]string{"email": email, "password": password},
		public: true,
	})
	if err != nil {
		return nil, err
	}

	var out LoginResult
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	if out.Access == "" || out.User == nil {
		return nil, &domain.Error{Kind: domain.ErrBusiness, Message: "Login response was incomplete", Status: resp.status}
	}
	return &out, nil
}

// Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*domain.UserProfile, error) {
	resp, err := c.do(ctx, request{
		op:     "users.register",
		method: http.MethodPost,
		path:   "/users/register/",
		body:   req,
		public: true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		User *domain.UserProfile `json:"user"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Logout asks the server to revoke a refresh token. It bypasses the
// refresh interceptor.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	_, err := c.do(ctx, request{
		op:     "users.logout",
		method: http.MethodPost,
		path:   "/users/logout/",
		body:   map[string]string{"refresh": refreshToken},
		public: true,
	})
	return err
}

// Profile fetches the signed-in user's profile.
func (c *Client) Profile(ctx context.Context) (*domain.UserProfile, error) {
	resp, err := c.do(ctx, request{op: "users.profile", method: http.MethodGet, path: "/users/profile/"})
	if err != nil {
		return nil, err
	}
	var out domain.UserProfile
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile saves profile changes and returns the stored profile.
func (c *Client) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	resp, err := c.do(ctx, request{
		op:     "users.profile.update",
		method: http.MethodPut,
		path:   "/users/profile/",
		body:   update,
	})
	if err != nil {
		return nil, err
	}
	var out domain.UserProfile
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpgradeToSeller requests the seller role for the signed-in user.
func (c *Client) UpgradeToSeller(ctx context.Context) error {
	_, err := c.do(ctx, request{op: "users.upgrade_seller", method: http.MethodPost, path: "/users/upgrade-seller/"})
	return err
}

// Cart fetches the server cart.
func (c *Client) Cart(ctx context.Context) (*domain.Cart, error) {
	resp, err := c.do(ctx, request{op: "cart.get", method: http.MethodGet, path: "/orders/cart/"})
	if err != nil {
		return nil, err
	}
	cart, err := decodeCart(resp)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		empty := domain.EmptyCart()
		cart = &empty
	}
	return cart, nil
}

// AddToCart adds quantity of a product to the server cart. The returned
// cart is nil when the server sent none.
func (c *Client) AddToCart(ctx context.Context, productID string, quantity int) (*domain.Cart, error) {
	resp, err := c.do(ctx, request{
		op:     "cart.add",
		method: http.MethodPost,
		path:   "/orders/cart/add/",
		body:   map[string]any{"product_id": productID, "quantity": quantity},
	})
	if err != nil {
		return nil, err
	}
	return decodeCart(resp)
}

// RemoveFromCart deletes a product line from the server cart.
func (c *Client) RemoveFromCart(ctx context.Context, productID string) (*domain.Cart, error) {
	resp, err := c.do(ctx, request{
		op:     "cart.remove",
		method: http.MethodDelete,
		path:   "/orders/cart/remove/" + url.PathEscape(productID) + "/",
	})
	if err != nil {
		return nil, err
	}
	return decodeCart(resp)
}

// UpdateCartItem sets the quantity of a product line.
func (c *Client) UpdateCartItem(ctx context.Context, productID string, quantity int) (*domain.Cart, error) {
	resp, err := c.do(ctx, request{
		op:     "cart.update",
		method: http.MethodPut,
		path:   "/orders/cart/update/" + url.PathEscape(productID) + "/",
		body:   map[string]int{"quantity": quantity},
	})
	if err != nil {
		return nil, err
	}
	return decodeCart(resp)
}

// MergeCart folds a guest cart into the signed-in user's server cart.
func (c *Client) MergeCart(ctx context.Context, guest domain.Cart) error {
	_, err := c.do(ctx, request{
		op:     "cart.merge",
		method: http.MethodPost,
		path:   "/orders/cart/merge/",
		body:   guest,
	})
	return err
}

// ApplyPromotion applies a discount code to the server cart.
func (c *Client) ApplyPromotion(ctx context.Context, code string) (*domain.Cart, error) {
	resp, err := c.do(ctx, request{
		op:     "promotions.apply",
		method: http.MethodPost,
		path:   "/orders/promotions/apply/",
		body:   map[string]string{"discount_code": code},
	})
	if err != nil {
		return nil, err
	}
	return decodeCart(resp)
}

// Checkout places an order.
func (c *Client) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Order, error) {
	resp, err := c.do(ctx, request{
		op:     "orders.checkout",
		method: http.MethodPost,
		path:   "/orders/checkout/",
		body:   req,
	})
	if err != nil {
		return nil, err
	}

	// order_id may be numeric or a string
	id := gjson.GetBytes(resp.body, "order_id")
	if !id.Exists() {
		id = gjson.GetBytes(resp.body, "id")
	}
	return &domain.Order{OrderID: id.String()}, nil
}

// Product fetches a product summary.
func (c *Client) Product(ctx context.Context, productID string) (*domain.ProductSummary, error) {
	resp, err := c.do(ctx, request{
		op:     "products.get",
		method: http.MethodGet,
		path:   "/products/" + url.PathEscape(productID) + "/",
	})
	if err != nil {
		return nil, err
	}
	var out domain.ProductSummary
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = productID
	}
	out.Image = c.MediaURL(out.Image)
	return &out, nil
}

// decodeCart returns nil when the body does not describe a cart.
func decodeCart(resp *response) (*domain.Cart, error) {
	if !gjson.GetBytes(resp.body, "items").IsArray() {
		return nil, nil
	}
	var cart domain.Cart
	if err := decode(resp, &cart); err != nil {
		return nil, err
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}
