package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/felixgeelhaar/techshelf/internal/commercetest"
	"github.com/felixgeelhaar/techshelf/internal/config"
	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/storefront"
)

// setupTestServer creates a daemon over a fake commerce API
func setupTestServer(t *testing.T) (*Server, *commercetest.Server) {
	t.Helper()

	api := commercetest.New(t)
	api.AddUser("ada@example.com", "secret", "ada")
	api.AddProduct(domain.ProductSummary{
		ID:    "prod_1",
		Name:  "Desk Lamp",
		Price: decimal.RequireFromString("10.00"),
		Image: "/media/lamp.png",
		Stock: 20,
	})
	api.AddPromotion("SAVE10", 10)

	cfg := config.DefaultLocalConfig()
	cfg.API.BaseURL = api.URL
	cfg.API.TimeoutSeconds = 5
	cfg.API.RetryAttempts = 1
	cfg.Daemon.Port = 0

	engine, err := storefront.New(storefront.Options{Config: cfg, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	engine.Start(context.Background())

	server, err := NewServer(ServerConfig{Engine: engine, Version: "test"})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := engine.Close(ctx); err != nil {
			t.Errorf("close engine: %v", err)
		}
	})

	return server, api
}

// do sends a request through the router and decodes the JSON response
func do(t *testing.T, server *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

func TestNewServer_RequiresEngine(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("NewServer() error = nil without an engine")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w, resp := do(t, server, http.MethodGet, "/v1/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", resp["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w, resp := do(t, server, http.MethodGet, "/v1/status", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if resp["status"] != "running" {
		t.Errorf("expected status 'running', got %v", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("expected version 'test', got %v", resp["version"])
	}

	sess, ok := resp["session"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'session' object, got %v", resp["session"])
	}
	if sess["state"] != "anonymous" || sess["checked"] != true {
		t.Errorf("session = %v, want checked anonymous", sess)
	}

	cart, ok := resp["cart"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'cart' object, got %v", resp["cart"])
	}
	if cart["mode"] != "guest" {
		t.Errorf("cart mode = %v, want guest", cart["mode"])
	}
}

func TestConfigEndpoint_HidesSecrets(t *testing.T) {
	server, _ := setupTestServer(t)
	server.cfg.Events.RabbitMQURL = "amqp://shop:s3cret@mq:5672/"

	w, resp := do(t, server, http.MethodGet, "/v1/config", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if strings.Contains(w.Body.String(), "s3cret") {
		t.Error("config response leaks the RabbitMQ credentials")
	}
	events, _ := resp["events"].(map[string]interface{})
	if events["enabled"] != true {
		t.Errorf("events = %v, want enabled", events)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	// any API traffic produces request metrics
	do(t, server, http.MethodPost, "/v1/cart/items", map[string]any{"product_id": "prod_1", "quantity": 1})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "techshelf_") {
		t.Error("metrics output has no techshelf series")
	}
}

func TestUnknownRoute(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/unknown", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/v1/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestServer_HandlerChainSetsRequestID(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(w, req)

	if w.Header().Get(CorrelationIDHeader) == "" {
		t.Error("expected a request ID on the response")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.NewValidationError("bad"), http.StatusBadRequest},
		{"auth", domain.NewAuthError("no", http.StatusUnauthorized, nil), http.StatusUnauthorized},
		{"login required", domain.LoginRequired(domain.MsgLoginForPromo), http.StatusUnauthorized},
		{"not found", domain.NewBusinessError("missing", http.StatusNotFound), http.StatusNotFound},
		{"rejected", domain.NewBusinessError("no stock", http.StatusBadRequest), http.StatusUnprocessableEntity},
		{"transient", domain.NewTransientError(domain.MsgNetwork, 0, errors.New("dial")), http.StatusBadGateway},
		{"wrapped", fmt.Errorf("merge guest cart: %w", domain.NewTransientError("down", 503, nil)), http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestShutdown_ClosesEngine(t *testing.T) {
	server, _ := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
