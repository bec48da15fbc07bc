// Package apiclient is the single network chokepoint to the commerce API.
//
// Every request carries the current bearer token. A 401 on an authenticated
// request triggers one token refresh and one retry of the original request
// with the new token; if the refresh fails the credential owner is told to
// end the session.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/techshelf/internal/domain"
	"github.com/felixgeelhaar/techshelf/internal/metrics"
)

const (
	// DefaultBaseURL is the hosted commerce API
	DefaultBaseURL = "https://techshelf-api.onrender.com/api"

	// DefaultTimeout bounds a single request
	DefaultTimeout = 30 * time.Second

	maxBodyBytes = 4 << 20
)

// Credentials is implemented by the owner of the token store. The client
// only reads tokens; persisting a refreshed token and ending the session on
// refresh failure are the owner's job.
type Credentials interface {
	AccessToken() string
	RefreshToken() string
	// TokensRefreshed receives a new access token and, when the server
	// rotates it, a new refresh token ("" otherwise).
	TokensRefreshed(access, refresh string)
	// RefreshFailed is called when a 401 could not be recovered.
	RefreshFailed(err error)
}

// Config configures the client
type Config struct {
	BaseURL      string
	MediaBaseURL string
	Timeout      time.Duration

	// RetryAttempts applies to idempotent GETs on network errors and 5xx.
	// Values below 2 disable retries.
	RetryAttempts int
	RetryDelay    time.Duration

	// CoalesceRefresh shares one in-flight refresh among concurrent 401s.
	// When false each failing request refreshes independently.
	CoalesceRefresh bool

	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Client talks to the commerce API
type Client struct {
	baseURL      string
	mediaBaseURL string
	httpClient   *http.Client
	metrics      *metrics.Metrics

	breaker circuitbreaker.CircuitBreaker[*response]
	retrier retry.Retry[*response]

	coalesce     bool
	refreshGroup singleflight.Group

	mu    sync.RWMutex
	creds Credentials
}

type request struct {
	op     string // operation name for logs and metrics
	method string
	path   string
	body   any
	public bool // sent without a bearer token and never refreshed
}

type response struct {
	status int
	body   []byte
}

// New creates a client
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	mediaBase := strings.TrimRight(cfg.MediaBaseURL, "/")
	if mediaBase == "" {
		mediaBase = mediaBaseFromAPI(baseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.Timeout)
	}

	c := &Client{
		baseURL:      baseURL,
		mediaBaseURL: mediaBase,
		httpClient:   httpClient,
		metrics:      cfg.Metrics,
		coalesce:     cfg.CoalesceRefresh,
	}

	c.breaker = circuitbreaker.New[*response](circuitbreaker.Config{
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			slog.Warn("commerce api circuit breaker state change",
				"from", from.String(),
				"to", to.String())
		},
	})

	if cfg.RetryAttempts > 1 {
		delay := cfg.RetryDelay
		if delay <= 0 {
			delay = 200 * time.Millisecond
		}
		c.retrier = retry.New[*response](retry.Config{
			MaxAttempts:   cfg.RetryAttempts,
			InitialDelay:  delay,
			MaxDelay:      5 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable:   isRetryable,
		})
	}

	return c
}

// SetCredentials installs the token owner. Until it is called requests go
// out unauthenticated and 401s are not recovered.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// BaseURL returns the API root requests are sent to
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

func (c *Client) accessToken() string {
	if creds := c.credentials(); creds != nil {
		return creds.AccessToken()
	}
	return ""
}

// do sends req and returns the successful response. Non-2xx statuses come
// back as *domain.Error.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	var payload []byte
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", req.op, err)
		}
		payload = data
	}

	token := ""
	if !req.public {
		token = c.accessToken()
	}

	resp, err := c.send(ctx, req, payload, token)
	if err != nil {
		return nil, err
	}

	if resp.status == http.StatusUnauthorized && !req.public {
		access, err := c.refresh(ctx)
		if err != nil {
			return nil, domain.NewAuthError(domain.MsgSessionExpired, resp.status,
				errors.Join(domain.ErrSessionExpired, err))
		}
		// Exactly one retry; a second 401 is returned as is.
		resp, err = c.send(ctx, req, payload, access)
		if err != nil {
			return nil, err
		}
	}

	if resp.status >= 300 {
		return nil, statusError(resp)
	}
	return resp, nil
}

// send performs one logical request through the circuit breaker, retrying
// GETs when configured.
func (c *Client) send(ctx context.Context, req request, payload []byte, token string) (*response, error) {
	op := func(ctx context.Context) (*response, error) {
		return c.roundTrip(ctx, req, payload, token)
	}

	var (
		resp *response
		err  error
	)
	if req.method == http.MethodGet && c.retrier != nil {
		resp, err = c.breaker.Execute(ctx, func(ctx context.Context) (*response, error) {
			return c.retrier.Do(ctx, op)
		})
	} else {
		resp, err = c.breaker.Execute(ctx, op)
	}

	if err != nil {
		var se *serverError
		if errors.As(err, &se) {
			return se.resp, nil
		}
		return nil, domain.NewTransientError(domain.MsgNetwork, 0, err)
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req request, payload []byte, token string) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.New().String()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveAPIRequest(req.op, 0, time.Since(start))
		slog.Debug("api request failed",
			"op", req.op,
			"method", req.method,
			"path", req.path,
			"request_id", requestID,
			"error", err)
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	duration := time.Since(start)
	c.metrics.ObserveAPIRequest(req.op, httpResp.StatusCode, duration)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	slog.Debug("api request",
		"op", req.op,
		"method", req.method,
		"path", req.path,
		"status", httpResp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"request_id", requestID)

	resp := &response{status: httpResp.StatusCode, body: data}
	if resp.status >= 500 {
		return nil, &serverError{resp: resp}
	}
	return resp, nil
}

// refresh obtains a new access token, sharing one in-flight refresh among
// callers when coalescing is on.
func (c *Client) refresh(ctx context.Context) (string, error) {
	if !c.coalesce {
		return c.refreshOnce(ctx)
	}
	v, err, shared := c.refreshGroup.Do("refresh", func() (any, error) {
		return c.refreshOnce(ctx)
	})
	if shared {
		slog.Debug("joined in-flight token refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) refreshOnce(ctx context.Context) (string, error) {
	creds := c.credentials()
	if creds == nil {
		return "", ErrNoCredentials
	}

	refreshToken := creds.RefreshToken()
	if refreshToken == "" {
		c.metrics.RecordRefresh(false)
		creds.RefreshFailed(ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}

	resp, err := c.do(ctx, request{
		op:     "token.refresh",
		method: http.MethodPost,
		path:   "/users/token/refresh/",
		body:   map[string]string{"refresh": refreshToken},
		public: true,
	})

	var out struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err == nil {
		err = decode(resp, &out)
	}
	if err == nil && out.Access == "" {
		err = errMissingAccess
	}
	if err != nil {
		c.metrics.RecordRefresh(false)
		slog.Warn("token refresh failed", "error", err)
		creds.RefreshFailed(err)
		return "", err
	}

	c.metrics.RecordRefresh(true)
	creds.TokensRefreshed(out.Access, out.Refresh)
	return out.Access, nil
}

// decode unmarshals a JSON response body into out. Empty bodies leave out
// untouched.
func decode(resp *response, out any) error {
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return &domain.Error{
			Kind:    domain.ErrBusiness,
			Message: "Unexpected response from the store",
			Status:  resp.status,
			Err:     err,
		}
	}
	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Network errors and 5xx
	return true
}
