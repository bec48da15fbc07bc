package daemon

import (
	"net/http"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/session"
)

// Session handlers

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.engine.Session.Status())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, err := s.engine.Session.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.engineError(w, err, "login failed")
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"user": user,
		"cart": s.engine.CartStatus(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req session.RegisterInput
	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, err := s.engine.Session.Register(r.Context(), req)
	if err != nil {
		s.engineError(w, err, "registration failed")
		return
	}

	s.jsonResponse(w, http.StatusCreated, map[string]interface{}{
		"user": user,
		"cart": s.engine.CartStatus(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.engine.Session.Logout(r.Context())
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status": "logged_out",
		"cart":   s.engine.CartStatus(),
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.Session.FetchProfile(r.Context())
	if err != nil {
		s.engineError(w, err, "failed to fetch profile")
		return
	}
	s.jsonResponse(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.ProfileUpdate
	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, err := s.engine.Session.UpdateProfile(r.Context(), req)
	if err != nil {
		s.engineError(w, err, "failed to update profile")
		return
	}
	s.jsonResponse(w, http.StatusOK, user)
}

func (s *Server) handleUpgradeRole(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.Session.UpgradeRole(r.Context())
	if err != nil {
		s.engineError(w, err, "failed to upgrade account")
		return
	}
	s.jsonResponse(w, http.StatusOK, user)
}

// Cart handlers

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type promotionRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.engine.CartStatus())
}

func (s *Server) handleReloadCart(w http.ResponseWriter, r *http.Request) {
	s.cartResult(w, s.engine.Cart.Load(r.Context()), "failed to load cart")
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	req := addItemRequest{Quantity: 1}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.cartResult(w, s.engine.Cart.AddItem(r.Context(), req.ProductID, req.Quantity), "failed to add item")
}

func (s *Server) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	err := s.engine.Cart.UpdateQuantity(r.Context(), r.PathValue("id"), req.Quantity)
	s.cartResult(w, err, "failed to update quantity")
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	s.cartResult(w, s.engine.Cart.RemoveItem(r.Context(), r.PathValue("id")), "failed to remove item")
}

func (s *Server) handleApplyPromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.cartResult(w, s.engine.Cart.ApplyPromotion(r.Context(), req.Code), "failed to apply promotion")
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	order, err := s.engine.Cart.Checkout(r.Context(), req)
	if err != nil {
		s.engineError(w, err, "checkout failed")
		return
	}
	s.jsonResponse(w, http.StatusCreated, order)
}

func (s *Server) handleMergeCart(w http.ResponseWriter, r *http.Request) {
	s.cartResult(w, s.engine.Cart.MergeGuestCart(r.Context()), "failed to merge cart")
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	s.cartResult(w, s.engine.Cart.Flush(r.Context()), "failed to sync cart")
}

func (s *Server) handleClearGuestCart(w http.ResponseWriter, r *http.Request) {
	s.cartResult(w, s.engine.Cart.ClearGuestCart(), "failed to clear guest cart")
}

// cartResult answers a cart mutation with the resulting cart, or the error
func (s *Server) cartResult(w http.ResponseWriter, err error, fallback string) {
	if err != nil {
		s.engineError(w, err, fallback)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.engine.CartStatus())
}
