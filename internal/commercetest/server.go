// Package commercetest provides an in-memory commerce API for tests.
//
// It speaks the same request/response contract as the hosted store: JWT
// access and refresh tokens, a per-user server cart, a product catalog,
// promotions and checkout. Tests can inject failures, hold requests open
// and inspect every request that was served.
package commercetest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/felixgeelhaar/techshelf/internal/domain"
)

// Request is a request served by the fake
type Request struct {
	Method        string
	Path          string
	Authorization string
	Body          []byte
}

type account struct {
	password string
	profile  domain.UserProfile
	cart     domain.Cart
}

type failure struct {
	status    int
	remaining int
}

// Server is a fake commerce API backed by memory
type Server struct {
	*httptest.Server

	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu         sync.Mutex
	nextUserID int64
	nextOrder  int
	accounts   map[string]*account // by email
	products   map[string]domain.ProductSummary
	promotions map[string]decimal.Decimal // code -> percent off
	revoked    map[string]bool            // refresh token ids
	accessGen  int
	refreshGen int
	failures   map[string]*failure
	sparse     map[string]int
	gates      map[string]*Gate
	requests   []Request
	checkouts  []domain.CheckoutRequest
}

// New starts a fake API and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		secret:     []byte("commercetest-secret"),
		accessTTL:  15 * time.Minute,
		refreshTTL: 24 * time.Hour,
		nextUserID: 1,
		accounts:   make(map[string]*account),
		products:   make(map[string]domain.ProductSummary),
		promotions: make(map[string]decimal.Decimal),
		revoked:    make(map[string]bool),
		failures:   make(map[string]*failure),
		sparse:     make(map[string]int),
		gates:      make(map[string]*Gate),
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Use(s.inject)

	r.Post("/users/login/", s.handleLogin)
	r.Post("/users/register/", s.handleRegister)
	r.Post("/users/token/refresh/", s.handleRefresh)
	r.Post("/users/logout/", s.handleLogout)
	r.Get("/products/{id}/", s.handleProduct)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/users/profile/", s.handleGetProfile)
		r.Put("/users/profile/", s.handleUpdateProfile)
		r.Post("/users/upgrade-seller/", s.handleUpgradeSeller)

		r.Get("/orders/cart/", s.handleGetCart)
		r.Post("/orders/cart/add/", s.handleAddToCart)
		r.Delete("/orders/cart/remove/{id}/", s.handleRemoveFromCart)
		r.Put("/orders/cart/update/{id}/", s.handleUpdateCartItem)
		r.Post("/orders/cart/merge/", s.handleMergeCart)
		r.Post("/orders/promotions/apply/", s.handleApplyPromotion)
		r.Post("/orders/checkout/", s.handleCheckout)
	})
	return r
}

// AddUser registers an account and returns its profile.
func (s *Server) AddUser(email, password, username string) domain.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password, username)
}

func (s *Server) addUserLocked(email, password, username string) domain.UserProfile {
	profile := domain.UserProfile{
		ID:       s.nextUserID,
		Username: username,
		Email:    email,
		Role:     domain.RoleCustomer,
	}
	s.nextUserID++
	s.accounts[email] = &account{password: password, profile: profile, cart: domain.EmptyCart()}
	return profile
}

// AddProduct adds p to the catalog.
func (s *Server) AddProduct(p domain.ProductSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// AddPromotion registers a discount code worth percent off the subtotal.
func (s *Server) AddPromotion(code string, percent int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotions[code] = decimal.NewFromInt(percent)
}

// SetCart replaces the server cart of a user.
func (s *Server) SetCart(email string, cart domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[email]; ok {
		acc.cart = cart.Clone()
		s.priceLocked(&acc.cart)
	}
}

// Cart returns a copy of the server cart of a user.
func (s *Server) Cart(email string) domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[email]; ok {
		return acc.cart.Clone()
	}
	return domain.EmptyCart()
}

// Profile returns the stored profile of a user.
func (s *Server) Profile(email string) domain.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[email]; ok {
		return acc.profile
	}
	return domain.UserProfile{}
}

// Checkouts returns every accepted checkout request.
func (s *Server) Checkouts() []domain.CheckoutRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CheckoutRequest(nil), s.checkouts...)
}

// ExpireAccessTokens invalidates every access token issued so far.
// Refresh tokens keep working.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessGen++
}

// RevokeRefreshTokens makes every refresh token issued so far unusable.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshGen++
}

// Fail makes the next n requests matching method and path answer status.
func (s *Server) Fail(method, path string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = &failure{status: status, remaining: n}
}

// Sparse makes the next n requests matching method and path succeed with
// an empty JSON object instead of the usual body.
func (s *Server) Sparse(method, path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sparse[method+" "+path] = n
}

// Requests returns the requests served so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests matched method and path.
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Bodies returns the bodies of requests matching method and path.
func (s *Server) Bodies(method, path string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r.Body)
		}
	}
	return out
}

// ResetRequests forgets the recorded requests.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// Gate holds one matching request open until released.
type Gate struct {
	arrived     chan struct{}
	release     chan struct{}
	arriveOnce  sync.Once
	releaseOnce sync.Once
}

// Arrived is closed once the held request reached the server.
func (g *Gate) Arrived() <-chan struct{} { return g.arrived }

// Release lets the held request proceed.
func (g *Gate) Release() {
	g.releaseOnce.Do(func() { close(g.release) })
}

// Hold blocks the next request matching method and path until the returned
// gate is released.
func (s *Server) Hold(method, path string) *Gate {
	g := &Gate{arrived: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.gates[method+" "+path] = g
	s.mu.Unlock()
	return g
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		gate := s.gates[key]
		delete(s.gates, key)
		var status int
		if f, ok := s.failures[key]; ok && f.remaining > 0 {
			f.remaining--
			status = f.status
		}
		sparse := status == 0 && s.sparse[key] > 0
		if sparse {
			s.sparse[key]--
		}
		s.mu.Unlock()

		if gate != nil {
			gate.arriveOnce.Do(func() { close(gate.arrived) })
			select {
			case <-gate.release:
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"error": "injected failure"})
			return
		}
		if sparse {
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r)
			if rec.Code < 300 {
				writeJSON(w, rec.Code, map[string]any{})
				return
			}
			writeJSON(w, rec.Code, json.RawMessage(rec.Body.Bytes()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
