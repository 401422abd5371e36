// Package sqldb provides the lazy SQL connector over sqlx. Connections are
// registered per configuration tag; the pool is opened and pinged on first
// use.
package sqldb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/observability"
)

// Settings describes one SQL connection tag
type Settings struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Validate checks the required fields and fills defaults
func (s *Settings) Validate(tag string) error {
	key := "sql." + tag
	if s.DSN == "" {
		return edgeerr.NewConfigError(key, "dsn is required")
	}
	if s.Driver == "" {
		s.Driver = "postgres"
	}
	if s.MaxOpenConns <= 0 {
		s.MaxOpenConns = 25
	}
	if s.MaxIdleConns <= 0 {
		s.MaxIdleConns = 5
	}
	if s.ConnMaxLifetime <= 0 {
		s.ConnMaxLifetime = 5 * time.Minute
	}
	return nil
}

// Connection is a lazily opened SQL pool for one configuration tag
type Connection struct {
	tag      string
	settings Settings
	logger   observability.Logger

	mu sync.Mutex
	db *sqlx.DB
}

// New builds a connection from the options view anchored at the tag
func New(tag string, opts *config.Options, logger observability.Logger) (*Connection, error) {
	if opts == nil || opts.IsEmpty() {
		return nil, edgeerr.NewConfigError("sql."+tag, "tag not configured")
	}
	var settings Settings
	if err := opts.Unmarshal(&settings); err != nil {
		return nil, edgeerr.NewConfigError("sql."+tag, "%v", err)
	}
	if err := settings.Validate(tag); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewLogger("sqldb")
	}
	return &Connection{tag: tag, settings: settings, logger: logger.With(map[string]interface{}{"tag": tag})}, nil
}

// Tag returns the configuration tag this connection was built from
func (c *Connection) Tag() string { return c.tag }

// DB returns the live pool, opening and pinging it on first use
func (c *Connection) DB(ctx context.Context) (*sqlx.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}

	db, err := sqlx.Open(c.settings.Driver, c.settings.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql tag %s: %w", c.tag, err)
	}
	db.SetMaxOpenConns(c.settings.MaxOpenConns)
	db.SetMaxIdleConns(c.settings.MaxIdleConns)
	db.SetConnMaxLifetime(c.settings.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sql tag %s: %w", c.tag, err)
	}
	c.logger.Info("sql pool opened", map[string]interface{}{"driver": c.settings.Driver})
	c.db = db
	return db, nil
}

// Close shuts the pool down if it was ever opened
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
