package commercetest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/felixgeelhaar/techshelf/internal/domain"
)

func decodeBody(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[req.Email]
	if !ok || acc.password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	access, refresh := s.issueLocked(req.Email)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    acc.profile,
		"access":  access,
		"refresh": refresh,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		Password2 string `json:"password2"`
	}
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fieldErrors := map[string][]string{}
	if strings.TrimSpace(req.Username) == "" {
		fieldErrors["username"] = []string{"This field may not be blank."}
	}
	if strings.TrimSpace(req.Email) == "" {
		fieldErrors["email"] = []string{"This field may not be blank."}
	} else if _, exists := s.accounts[req.Email]; exists {
		fieldErrors["email"] = []string{"user with this email already exists."}
	}
	if req.Password == "" {
		fieldErrors["password"] = []string{"This field may not be blank."}
	}
	if req.Password != req.Password2 {
		fieldErrors["password2"] = []string{"Passwords do not match."}
	}
	if len(fieldErrors) > 0 {
		writeJSON(w, http.StatusBadRequest, fieldErrors)
		return
	}

	profile := s.addUserLocked(req.Email, req.Password, req.Username)
	writeJSON(w, http.StatusCreated, map[string]any{"user": profile})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	claims, err := s.parseLocked(req.Refresh, tokenRefresh)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}
	access, _ := s.signLocked(claims.Subject, tokenAccess, s.accessTTL, s.accessGen)
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	decodeBody(r, &req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if claims, err := s.parseLocked(req.Refresh, tokenRefresh); err == nil {
		s.revoked[claims.ID] = true
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p, ok := s.products[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.accounts[emailFrom(r)].profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update domain.ProfileUpdate
	if !decodeBody(r, &update) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[emailFrom(r)]
	if update.Email != "" && update.Email != acc.profile.Email {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"email": {"Email changes are not supported."}})
		return
	}
	if update.Username != "" {
		acc.profile.Username = update.Username
	}
	if update.FirstName != "" {
		acc.profile.FirstName = update.FirstName
	}
	if update.LastName != "" {
		acc.profile.LastName = update.LastName
	}
	writeJSON(w, http.StatusOK, acc.profile)
}

func (s *Server) handleUpgradeSeller(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[emailFrom(r)]
	if acc.profile.Role == domain.RoleSeller {
		writeError(w, http.StatusBadRequest, "User is already a seller")
		return
	}
	acc.profile.Role = domain.RoleSeller
	writeJSON(w, http.StatusOK, map[string]string{"message": "Account upgraded to seller"})
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.cartViewLocked(s.accounts[emailFrom(r)].cart, true))
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if !decodeBody(r, &req) || req.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "Quantity must be at least 1")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[req.ProductID]
	if !ok {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	acc := s.accounts[emailFrom(r)]
	current, _ := acc.cart.Item(req.ProductID)
	if p.Stock > 0 && current.Quantity+req.Quantity > p.Stock {
		writeError(w, http.StatusBadRequest, "Not enough stock available")
		return
	}
	acc.cart.Upsert(domain.CartItem{ProductID: req.ProductID, Quantity: req.Quantity})
	s.priceLocked(&acc.cart)
	writeJSON(w, http.StatusOK, s.cartViewLocked(acc.cart, true))
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[emailFrom(r)]
	if !acc.cart.Remove(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "Item not in cart")
		return
	}
	s.priceLocked(&acc.cart)
	writeJSON(w, http.StatusOK, s.cartViewLocked(acc.cart, false))
}

func (s *Server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if !decodeBody(r, &req) || req.Quantity < 1 {
		writeError(w, http.StatusBadRequest, "Quantity must be at least 1")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := chi.URLParam(r, "id")
	if p, ok := s.products[id]; ok && p.Stock > 0 && req.Quantity > p.Stock {
		writeError(w, http.StatusBadRequest, "Not enough stock available")
		return
	}
	acc := s.accounts[emailFrom(r)]
	if !acc.cart.SetQuantity(id, req.Quantity) {
		writeError(w, http.StatusNotFound, "Item not in cart")
		return
	}
	s.priceLocked(&acc.cart)
	writeJSON(w, http.StatusOK, s.cartViewLocked(acc.cart, false))
}

func (s *Server) handleMergeCart(w http.ResponseWriter, r *http.Request) {
	var guest domain.Cart
	if !decodeBody(r, &guest) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[emailFrom(r)]
	for _, item := range guest.Items {
		if item.Quantity < 1 {
			continue
		}
		acc.cart.Upsert(domain.CartItem{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price})
	}
	s.priceLocked(&acc.cart)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cart merged"})
}

func (s *Server) handleApplyPromotion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"discount_code"`
	}
	decodeBody(r, &req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.promotions[req.Code]; !ok {
		writeError(w, http.StatusBadRequest, "Invalid discount code")
		return
	}
	acc := s.accounts[emailFrom(r)]
	acc.cart.DiscountCode = req.Code
	s.priceLocked(&acc.cart)
	writeJSON(w, http.StatusOK, s.cartViewLocked(acc.cart, true))
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[emailFrom(r)]
	if acc.cart.IsEmpty() {
		writeError(w, http.StatusBadRequest, "Cart is empty")
		return
	}
	if missing := req.ShippingAddress.Missing(); len(missing) > 0 {
		fieldErrors := map[string][]string{}
		for _, f := range missing {
			fieldErrors[f] = []string{"This field is required."}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"shipping_address": fieldErrors})
		return
	}

	s.nextOrder++
	s.checkouts = append(s.checkouts, req)
	acc.cart = domain.EmptyCart()
	writeJSON(w, http.StatusCreated, map[string]any{"order_id": s.nextOrder, "status": "pending"})
}

// priceLocked reprices cart lines from the catalog and recomputes totals.
func (s *Server) priceLocked(cart *domain.Cart) {
	for i := range cart.Items {
		item := &cart.Items[i]
		if p, ok := s.products[item.ProductID]; ok {
			item.Price = p.Price
		}
		item.Product = nil
		item.ProductName = ""
		total := item.LineTotal()
		item.TotalPrice = &total
	}
	cart.Subtotal = cart.ComputeSubtotal()
	cart.Total = cart.Subtotal
	cart.Discount = nil
	if pct, ok := s.promotions[cart.DiscountCode]; ok && cart.DiscountCode != "" {
		discount := cart.Subtotal.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
		cart.Discount = &discount
		cart.Total = cart.Subtotal.Sub(discount)
	}
}

// cartViewLocked renders a cart the way the store does. Full views embed
// the product snapshot; sparse views carry only the product name.
func (s *Server) cartViewLocked(cart domain.Cart, full bool) domain.Cart {
	view := cart.Clone()
	for i := range view.Items {
		item := &view.Items[i]
		p, ok := s.products[item.ProductID]
		if !ok {
			continue
		}
		if full {
			snapshot := p
			item.Product = &snapshot
		} else {
			item.ProductName = p.Name
		}
	}
	return view
}
