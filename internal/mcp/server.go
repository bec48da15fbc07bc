package mcp

import (
	"context"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/session"
	"github.com/felixgeelhaar/techshelf/internal/storefront"
)

// Server exposes the storefront session and cart as MCP tools
type Server struct {
	mcpServer *server.Server
	engine    *storefront.Engine
}

// Config contains configuration for the MCP server
type Config struct {
	Engine  *storefront.Engine
	Version string
}

// NewServer creates a new MCP server for TechShelf
func NewServer(cfg Config) *Server {
	s := &Server{engine: cfg.Engine}

	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "techshelf",
		Version: version,
	}, server.WithInstructions(`
TechShelf manages a storefront session and shopping cart.

Guests can build a cart without signing in. Signing in merges the guest
cart into the account cart. Promotion codes and checkout require a
signed-in user.

Available tools:
- techshelf_status: Session and cart overview
- techshelf_login / techshelf_logout / techshelf_register: Manage the session
- techshelf_profile: View or update the signed-in profile
- techshelf_cart: Show the cart
- techshelf_add_item, techshelf_remove_item, techshelf_update_quantity: Edit the cart
- techshelf_apply_promotion: Apply a discount code
- techshelf_checkout: Place an order
`))

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("techshelf_status").
		Description("Show whether a user is signed in and summarize the cart.").
		Handler(s.handleStatus)

	s.mcpServer.Tool("techshelf_login").
		Description("Sign in with email and password. A guest cart is merged into the account cart.").
		Handler(s.handleLogin)

	s.mcpServer.Tool("techshelf_register").
		Description("Create an account and sign in.").
		Handler(s.handleRegister)

	s.mcpServer.Tool("techshelf_logout").
		Description("Sign out. The cart returns to the local guest cart.").
		Handler(s.handleLogout)

	s.mcpServer.Tool("techshelf_profile").
		Description("Show the signed-in profile, or update it when fields are given.").
		Handler(s.handleProfile)

	s.mcpServer.Tool("techshelf_cart").
		Description("Show the cart. Set reload to fetch it again.").
		Handler(s.handleCart)

	s.mcpServer.Tool("techshelf_add_item").
		Description("Add a product to the cart.").
		Handler(s.handleAddItem)

	s.mcpServer.Tool("techshelf_remove_item").
		Description("Remove a product from the cart.").
		Handler(s.handleRemoveItem)

	s.mcpServer.Tool("techshelf_update_quantity").
		Description("Set the quantity of a cart line. A quantity of 0 removes it.").
		Handler(s.handleUpdateQuantity)

	s.mcpServer.Tool("techshelf_apply_promotion").
		Description("Apply a promotion code. Requires sign-in.").
		Handler(s.handleApplyPromotion)

	s.mcpServer.Tool("techshelf_checkout").
		Description("Place an order for the cart. Requires sign-in.").
		Handler(s.handleCheckout)
}

// Input/Output types for tools

type StatusInput struct{}

type StatusOutput struct {
	State    string     `json:"state"`
	Username string     `json:"username,omitempty"`
	Email    string     `json:"email,omitempty"`
	Cart     CartOutput `json:"cart"`
}

type LoginInput struct {
	Email    string `json:"email" jsonschema:"description=Account email"`
	Password string `json:"password" jsonschema:"description=Account password"`
}

type RegisterInput struct {
	Username        string `json:"username" jsonschema:"description=Display name"`
	Email           string `json:"email" jsonschema:"description=Account email"`
	Password        string `json:"password" jsonschema:"description=Password"`
	ConfirmPassword string `json:"confirm_password" jsonschema:"description=Password again"`
}

type SessionOutput struct {
	Message string     `json:"message"`
	User    *UserInfo  `json:"user,omitempty"`
	Cart    CartOutput `json:"cart"`
}

type UserInfo struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role,omitempty"`
}

type LogoutInput struct{}

type ProfileInput struct {
	Username  string `json:"username,omitempty" jsonschema:"description=New display name"`
	FirstName string `json:"first_name,omitempty" jsonschema:"description=New first name"`
	LastName  string `json:"last_name,omitempty" jsonschema:"description=New last name"`
}

type CartInput struct {
	Reload bool `json:"reload,omitempty" jsonschema:"description=Fetch the cart again before showing it"`
}

type ItemInput struct {
	ProductID string `json:"product_id" jsonschema:"description=Product ID"`
	Quantity  int    `json:"quantity,omitempty" jsonschema:"description=Units to add (default: 1)"`
}

type RemoveInput struct {
	ProductID string `json:"product_id" jsonschema:"description=Product ID"`
}

type QuantityInput struct {
	ProductID string `json:"product_id" jsonschema:"description=Product ID"`
	Quantity  int    `json:"quantity" jsonschema:"description=New quantity; 0 removes the line"`
}

type PromotionInput struct {
	Code string `json:"code" jsonschema:"description=Promotion code"`
}

type CheckoutInput struct {
	FullName      string `json:"full_name" jsonschema:"description=Recipient name"`
	Address       string `json:"address" jsonschema:"description=Street address"`
	City          string `json:"city"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	Phone         string `json:"phone,omitempty"`
	PaymentMethod string `json:"payment_method" jsonschema:"description=Payment method identifier"`
	SaveCard      bool   `json:"save_card,omitempty" jsonschema:"description=Remember the card for later orders"`
}

type CheckoutOutput struct {
	OrderID string `json:"order_id"`
	Total   string `json:"total"`
	Message string `json:"message"`
}

// CartLine is one cart line as shown to the assistant
type CartLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	LineTotal string `json:"line_total"`
}

// CartOutput is the cart as shown to the assistant
type CartOutput struct {
	Mode           string     `json:"mode"`
	Items          []CartLine `json:"items"`
	ItemCount      int        `json:"item_count"`
	Subtotal       string     `json:"subtotal"`
	Discount       string     `json:"discount,omitempty"`
	DiscountCode   string     `json:"discount_code,omitempty"`
	Total          string     `json:"total"`
	PendingUpdates int        `json:"pending_updates,omitempty"`
	Warning        string     `json:"warning,omitempty"`
}

// Tool handlers

func (s *Server) handleStatus(ctx context.Context, input StatusInput) (StatusOutput, error) {
	status := s.engine.Status()
	out := StatusOutput{
		State: string(status.Session.State),
		Cart:  s.cartOutput(),
	}
	if u := status.Session.User; u != nil {
		out.Username = u.Username
		out.Email = u.Email
	}
	return out, nil
}

func (s *Server) handleLogin(ctx context.Context, input LoginInput) (SessionOutput, error) {
	user, err := s.engine.Session.Login(ctx, input.Email, input.Password)
	if err != nil {
		return SessionOutput{}, toolError("login failed", err)
	}
	return SessionOutput{
		Message: fmt.Sprintf("Signed in as %s", user.Username),
		User:    userInfo(user),
		Cart:    s.cartOutput(),
	}, nil
}

func (s *Server) handleRegister(ctx context.Context, input RegisterInput) (SessionOutput, error) {
	user, err := s.engine.Session.Register(ctx, session.RegisterInput{
		Username:        input.Username,
		Email:           input.Email,
		Password:        input.Password,
		ConfirmPassword: input.ConfirmPassword,
	})
	if err != nil {
		return SessionOutput{}, toolError("registration failed", err)
	}
	return SessionOutput{
		Message: fmt.Sprintf("Account created for %s", user.Username),
		User:    userInfo(user),
		Cart:    s.cartOutput(),
	}, nil
}

func (s *Server) handleLogout(ctx context.Context, input LogoutInput) (SessionOutput, error) {
	s.engine.Session.Logout(ctx)
	return SessionOutput{
		Message: "Signed out",
		Cart:    s.cartOutput(),
	}, nil
}

func (s *Server) handleProfile(ctx context.Context, input ProfileInput) (UserInfo, error) {
	update := domain.ProfileUpdate{
		Username:  input.Username,
		FirstName: input.FirstName,
		LastName:  input.LastName,
	}

	var (
		user *domain.UserProfile
		err  error
	)
	if update.IsEmpty() {
		user, err = s.engine.Session.FetchProfile(ctx)
	} else {
		user, err = s.engine.Session.UpdateProfile(ctx, update)
	}
	if err != nil {
		return UserInfo{}, toolError("profile request failed", err)
	}
	return *userInfo(user), nil
}

func (s *Server) handleCart(ctx context.Context, input CartInput) (CartOutput, error) {
	if input.Reload {
		if err := s.engine.Cart.Load(ctx); err != nil {
			return CartOutput{}, toolError("failed to load cart", err)
		}
	}
	return s.cartOutput(), nil
}

func (s *Server) handleAddItem(ctx context.Context, input ItemInput) (CartOutput, error) {
	quantity := input.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if err := s.engine.Cart.AddItem(ctx, input.ProductID, quantity); err != nil {
		return CartOutput{}, toolError("failed to add item", err)
	}
	return s.cartOutput(), nil
}

func (s *Server) handleRemoveItem(ctx context.Context, input RemoveInput) (CartOutput, error) {
	if err := s.engine.Cart.RemoveItem(ctx, input.ProductID); err != nil {
		return CartOutput{}, toolError("failed to remove item", err)
	}
	return s.cartOutput(), nil
}

// handleUpdateQuantity waits for the debounced update to settle so the
// assistant sees the confirmed cart, or the rollback warning.
func (s *Server) handleUpdateQuantity(ctx context.Context, input QuantityInput) (CartOutput, error) {
	if err := s.engine.Cart.UpdateQuantity(ctx, input.ProductID, input.Quantity); err != nil {
		return CartOutput{}, toolError("failed to update quantity", err)
	}
	if err := s.engine.Cart.Flush(ctx); err != nil {
		return CartOutput{}, toolError("failed to sync cart", err)
	}
	return s.cartOutput(), nil
}

func (s *Server) handleApplyPromotion(ctx context.Context, input PromotionInput) (CartOutput, error) {
	if err := s.engine.Cart.ApplyPromotion(ctx, input.Code); err != nil {
		return CartOutput{}, toolError("failed to apply promotion", err)
	}
	return s.cartOutput(), nil
}

func (s *Server) handleCheckout(ctx context.Context, input CheckoutInput) (CheckoutOutput, error) {
	total := s.engine.Cart.Snapshot().Total

	order, err := s.engine.Cart.Checkout(ctx, domain.CheckoutRequest{
		ShippingAddress: domain.ShippingAddress{
			FullName:   input.FullName,
			Address:    input.Address,
			City:       input.City,
			PostalCode: input.PostalCode,
			Country:    input.Country,
			Phone:      input.Phone,
		},
		PaymentMethod: input.PaymentMethod,
		SaveCard:      input.SaveCard,
	})
	if err != nil {
		return CheckoutOutput{}, toolError("checkout failed", err)
	}

	return CheckoutOutput{
		OrderID: order.OrderID,
		Total:   total.StringFixed(2),
		Message: fmt.Sprintf("Order %s placed", order.OrderID),
	}, nil
}

// cartOutput renders the current cart
func (s *Server) cartOutput() CartOutput {
	status := s.engine.CartStatus()
	c := status.Cart

	out := CartOutput{
		Mode:           string(status.Mode),
		Items:          make([]CartLine, 0, len(c.Items)),
		ItemCount:      status.ItemCount,
		Subtotal:       c.Subtotal.StringFixed(2),
		DiscountCode:   c.DiscountCode,
		Total:          c.Total.StringFixed(2),
		PendingUpdates: status.PendingUpdates,
		Warning:        status.LastError,
	}
	if c.Discount != nil && !c.Discount.IsZero() {
		out.Discount = c.Discount.StringFixed(2)
	}
	for _, item := range c.Items {
		out.Items = append(out.Items, CartLine{
			ProductID: item.ProductID,
			Name:      item.DisplayName(),
			Quantity:  item.Quantity,
			Price:     item.Price.StringFixed(2),
			LineTotal: item.LineTotal().StringFixed(2),
		})
	}
	return out
}

func userInfo(u *domain.UserProfile) *UserInfo {
	if u == nil {
		return nil
	}
	return &UserInfo{
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

func toolError(action string, err error) error {
	return fmt.Errorf("%s: %w", action, err)
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
