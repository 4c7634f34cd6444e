// Package db is the SurrealDB store of the ingestion pipeline.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// WebSocket upgrades fail when wss negotiates HTTP/2 via ALPN.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Tables lists every pipeline table, in wipe order.
var Tables = []string{"ingestion_task", "filing", "ie_event", "backfill_job", "committee", "app_config"}

// Reconnect bounds for the auto-reconnecting socket.
const (
	dialTimeout      = 5 * time.Second
	reconnectInitial = time.Second
	reconnectMax     = 30 * time.Second
	reconnectTries   = 10
)

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

func (c Config) auth() surrealdb.Auth {
	if c.AuthLevel == "database" {
		return surrealdb.Auth{
			Namespace: c.Namespace,
			Database:  c.Database,
			Username:  c.Username,
			Password:  c.Password,
		}
	}
	return surrealdb.Auth{Username: c.Username, Password: c.Password}
}

// Client is the pipeline store on one auto-reconnecting SurrealDB socket.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger *slog.Logger
}

// NewClient connects, signs in and selects the namespace and database.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("store", "surrealdb")

	conn := dial(cfg.URL, logger.New(log.Handler()))
	log.Info("connecting", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	if _, err := db.SignIn(ctx, cfg.auth()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin as %s (%s): %w", cfg.Username, cfg.AuthLevel, err)
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	log.Info("connected", "namespace", cfg.Namespace, "database", cfg.Database)
	return &Client{conn: conn, db: db, logger: log}, nil
}

// dial builds the reconnecting socket. gorillaws appends /rpc itself.
func dial(url string, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	baseURL := strings.TrimSuffix(url, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		dialTimeout,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = reconnectInitial
	retryer.MaxDelay = reconnectMax
	retryer.Multiplier = 2.0
	retryer.MaxRetries = reconnectTries
	conn.Retryer = retryer
	return conn
}

// Close closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing connection")
	return c.conn.Close(ctx)
}

// InitSchema defines the pipeline tables and indexes. It is idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	if err := c.exec(ctx, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.logger.Info("schema ready", "tables", len(Tables))
	return nil
}

// WipeData deletes every record and keeps the schema. Use for testing only.
func (c *Client) WipeData(ctx context.Context) error {
	c.logger.Warn("wiping all pipeline data")
	for _, table := range Tables {
		if err := c.exec(ctx, "DELETE "+table, nil); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}
