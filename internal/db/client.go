// Package db provides a SurrealDB implementation of store.Client with
// auto-reconnect support.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/store"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// Force HTTP/1.1 for WSS connections to prevent HTTP/2 ALPN negotiation.
	// WebSocket upgrade requires HTTP/1.1 semantics which fail under HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// Client wraps a SurrealDB connection with auto-reconnect and exposes it
// as a record store. Collections map to tables, attachments live in the
// attachment table.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	cfg    Config
	logger logger.Logger

	mu     sync.Mutex
	authed bool
}

// Compile-time check that Client implements store.Client.
var _ store.Client = (*Client)(nil)

// NewClient creates a new SurrealDB client with auto-reconnecting WebSocket.
// The connection is open but not signed in until Authenticate is called.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	// Create logger adapter for SurrealDB SDK
	var sdkLogger logger.Logger
	if log != nil {
		sdkLogger = logger.New(log.Handler())
	} else {
		sdkLogger = logger.New(slog.Default().Handler())
	}

	// Use surrealcbor for CBOR encoding/decoding (handles SurrealDB custom tags)
	codec := surrealcbor.New()

	// Note: gorillaws requires ws:// or wss:// URL without /rpc suffix (it adds /rpc internally)
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			ws := gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			})
			return ws, nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	// Configure exponential backoff
	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	return &Client{conn: conn, db: db, cfg: cfg, logger: sdkLogger}, nil
}

// Endpoint returns the connection URL with namespace and database.
func (c *Client) Endpoint() string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(c.cfg.URL, "/rpc"), c.cfg.Namespace, c.cfg.Database)
}

// Authenticate signs in at the configured auth level and selects the
// namespace and database.
func (c *Client) Authenticate(ctx context.Context) error {
	c.logger.Info("authenticating", "user", c.cfg.Username, "auth_level", c.cfg.AuthLevel)

	var err error
	if c.cfg.AuthLevel == "database" {
		_, err = c.db.SignIn(ctx, surrealdb.Auth{
			Namespace: c.cfg.Namespace,
			Database:  c.cfg.Database,
			Username:  c.cfg.Username,
			Password:  c.cfg.Password,
		})
	} else {
		// Default to root auth
		_, err = c.db.SignIn(ctx, surrealdb.Auth{
			Username: c.cfg.Username,
			Password: c.cfg.Password,
		})
	}
	if err != nil {
		return fmt.Errorf("signin: %w: %w", store.ErrUnauthorized, err)
	}

	c.logger.Info("selecting namespace/database", "namespace", c.cfg.Namespace, "database", c.cfg.Database)
	if err := c.db.Use(ctx, c.cfg.Namespace, c.cfg.Database); err != nil {
		return fmt.Errorf("use: %w", err)
	}

	c.mu.Lock()
	c.authed = true
	c.mu.Unlock()
	return nil
}

// EnsureAuth signs in when no session exists or the current one no longer
// answers a trivial query.
func (c *Client) EnsureAuth(ctx context.Context) error {
	c.mu.Lock()
	authed := c.authed
	c.mu.Unlock()

	if authed {
		if _, err := surrealdb.Query[any](ctx, c.db, "RETURN true", nil); err == nil {
			return nil
		}
		c.logger.Debug("session check failed, signing in again")
	}
	return c.Authenticate(ctx)
}

// Close closes the SurrealDB connection.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing SurrealDB connection")
	return c.conn.Close(ctx)
}

// InitSchema defines the attachment table. Collection tables are schemaless
// and created on first write.
func (c *Client) InitSchema(ctx context.Context) error {
	c.logger.Info("initializing database schema")
	_, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.logger.Info("schema initialization complete")
	return nil
}

// WipeData deletes all records of the given collections and their attachments.
// Use for testing only.
func (c *Client) WipeData(ctx context.Context, collections ...string) error {
	c.logger.Warn("wiping collections", "collections", collections)

	for _, coll := range collections {
		_, err := surrealdb.Query[any](ctx, c.db, `
			DELETE type::table($tb);
			DELETE attachment WHERE collection = $tb;
		`, map[string]any{"tb": coll})
		if err != nil {
			return fmt.Errorf("delete %s: %w", coll, wrapQueryError(err))
		}
	}
	return nil
}
