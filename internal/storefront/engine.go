// Package storefront assembles the session and cart engine from
// configuration. Hosts (daemon, CLI, MCP server) build one Engine and talk
// only to its controllers.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/felixgeelhaar/techshelf/internal/apiclient"
	"github.com/felixgeelhaar/techshelf/internal/cart"
	"github.com/felixgeelhaar/techshelf/internal/config"
	"github.com/felixgeelhaar/techshelf/internal/guestcart"
	"github.com/felixgeelhaar/techshelf/internal/metrics"
	"github.com/felixgeelhaar/techshelf/internal/queue"
	"github.com/felixgeelhaar/techshelf/internal/session"
	"github.com/felixgeelhaar/techshelf/internal/storage"
	"github.com/felixgeelhaar/techshelf/internal/storage/local"
	"github.com/felixgeelhaar/techshelf/internal/storage/sqlite"
	"github.com/felixgeelhaar/techshelf/internal/tokens"
)

// Options configures New. Only Config is required.
type Options struct {
	Config *config.LocalConfig
	// Dir is the techshelf home used to resolve default storage paths.
	Dir string

	// KV replaces the configured storage backend.
	KV storage.KV
	// Publisher replaces the RabbitMQ connection for activity events.
	Publisher  queue.Publisher
	HTTPClient *http.Client
	Clock      clockwork.Clock
}

// Engine is a wired session and cart engine
type Engine struct {
	Client  *apiclient.Client
	Session *session.Service
	Cart    *cart.Controller
	Metrics *metrics.Metrics

	cfg      *config.LocalConfig
	activity *queue.ActivityPublisher
	closers  []func() error
}

// New builds the engine. The cart controller subscribes to the session
// before anything runs, so Start delivers the first session event to it.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultLocalConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, Metrics: metrics.New()}

	kv := opts.KV
	if kv == nil {
		var err error
		kv, err = e.openStorage(opts.Dir)
		if err != nil {
			return nil, err
		}
	}

	e.Client = apiclient.New(apiclient.Config{
		BaseURL:         cfg.API.BaseURL,
		MediaBaseURL:    cfg.API.MediaBaseURL,
		Timeout:         cfg.Timeout(),
		RetryAttempts:   cfg.API.RetryAttempts,
		CoalesceRefresh: cfg.API.CoalesceRefresh,
		HTTPClient:      opts.HTTPClient,
		Metrics:         e.Metrics,
	})

	e.Session = session.NewService(e.Client, tokens.NewStore(kv),
		session.WithMetrics(e.Metrics),
		session.WithLogoutTimeout(cfg.Timeout()))
	e.Client.SetCredentials(e.Session)

	cartOpts := []cart.Option{
		cart.WithMetrics(e.Metrics),
		cart.WithDebounce(cfg.Debounce()),
		cart.WithRequestTimeout(cfg.Timeout()),
	}
	if opts.Clock != nil {
		cartOpts = append(cartOpts, cart.WithClock(opts.Clock))
	}
	e.Cart = cart.NewController(e.Client, guestcart.NewStore(kv, cfg.Cart.GuestCartKey), e.Session, cartOpts...)

	e.startActivity(opts.Publisher)

	return e, nil
}

// openStorage opens the configured key-value backend
func (e *Engine) openStorage(dir string) (storage.KV, error) {
	if dir == "" {
		var err error
		dir, err = config.EnsureTechshelfDir()
		if err != nil {
			return nil, err
		}
	}
	path := e.cfg.StoragePath(dir)

	switch e.cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		e.closers = append(e.closers, db.Close)
		slog.Debug("using sqlite storage", "path", path)
		return sqlite.NewKVStore(db), nil
	default:
		store, err := local.NewStore(path)
		if err != nil {
			return nil, fmt.Errorf("open file storage: %w", err)
		}
		slog.Debug("using file storage", "path", path)
		return store, nil
	}
}

// startActivity forwards session and cart events to RabbitMQ when
// configured. A broker that cannot be reached disables publishing.
func (e *Engine) startActivity(pub queue.Publisher) {
	queueName := e.cfg.Events.Queue
	if pub == nil {
		if e.cfg.Events.RabbitMQURL == "" {
			return
		}
		conn, err := queue.NewConnection(e.cfg.Events.RabbitMQURL, queueName)
		if err != nil {
			slog.Warn("activity publishing disabled", "error", err)
			return
		}
		e.closers = append(e.closers, conn.Close)
		pub = conn
	}

	e.activity = queue.NewActivityPublisher(pub, queueName)
	e.activity.Attach(e.Session.Subscribe)
	e.activity.Attach(e.Cart.Subscribe)
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() *config.LocalConfig {
	return e.cfg
}

// Start restores the persisted session, which in turn loads the cart.
func (e *Engine) Start(ctx context.Context) {
	e.Session.Start(ctx)
}

// Close flushes pending quantity updates, waits for background work and
// releases storage and broker connections.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error

	if err := e.Cart.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush cart: %w", err))
	}
	e.Cart.Close()
	e.Session.Wait()

	if e.activity != nil {
		if err := e.activity.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close activity publisher: %w", err))
		}
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
