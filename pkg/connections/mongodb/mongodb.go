// Package mongodb provides the lazy MongoDB connector. Connections are
// registered per configuration tag and resolved through the container; the
// driver client is created on first use, not at registration.
package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/observability"
)

// Settings describes one MongoDB connection tag
type Settings struct {
	URL            string        `mapstructure:"url"`
	Database       string        `mapstructure:"database"`
	MinPoolSize    uint64        `mapstructure:"min_pool_size"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Validate checks the required fields, naming the offending config key
func (s *Settings) Validate(tag string) error {
	key := config.KeyDatabase + "." + tag
	if s.URL == "" {
		return edgeerr.NewConfigError(key, "url is required")
	}
	if s.Database == "" {
		return edgeerr.NewConfigError(key, "database is required")
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = 10 * time.Second
	}
	return nil
}

// Connection is a lazily connected MongoDB client bound to one database
type Connection struct {
	tag      string
	settings Settings
	logger   observability.Logger

	mu     sync.Mutex
	client *mongo.Client
}

// New builds a connection from the options view anchored at the tag.
// Validation happens here; the first network contact happens on first use.
func New(tag string, opts *config.Options, logger observability.Logger) (*Connection, error) {
	if opts == nil || opts.IsEmpty() {
		return nil, edgeerr.NewConfigError(config.KeyDatabase+"."+tag, "tag not configured")
	}
	var settings Settings
	if err := opts.Unmarshal(&settings); err != nil {
		return nil, edgeerr.NewConfigError(config.KeyDatabase+"."+tag, "%v", err)
	}
	if err := settings.Validate(tag); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewLogger("mongodb")
	}
	return &Connection{tag: tag, settings: settings, logger: logger.With(map[string]interface{}{"tag": tag})}, nil
}

// Tag returns the configuration tag this connection was built from
func (c *Connection) Tag() string { return c.tag }

// ensure connects on first use. Safe for concurrent callers.
func (c *Connection) ensure(ctx context.Context) (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	clientOpts := options.Client().
		ApplyURI(c.settings.URL).
		SetConnectTimeout(c.settings.ConnectTimeout)
	if c.settings.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(c.settings.MinPoolSize)
	}
	if c.settings.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(c.settings.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb tag %s: %w", c.tag, err)
	}
	c.logger.Info("mongodb client connected", map[string]interface{}{
		"database": c.settings.Database,
	})
	c.client = client
	return client, nil
}

// Database returns the configured database handle
func (c *Connection) Database(ctx context.Context) (*mongo.Database, error) {
	client, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return client.Database(c.settings.Database), nil
}

// Collection returns a collection handle in the configured database
func (c *Connection) Collection(ctx context.Context, name string) (*mongo.Collection, error) {
	db, err := c.Database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// CollectionExists reports whether the named collection exists
func (c *Connection) CollectionExists(ctx context.Context, name string) (bool, error) {
	db, err := c.Database(ctx)
	if err != nil {
		return false, err
	}
	names, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, fmt.Errorf("list collections: %w", err)
	}
	return len(names) > 0, nil
}

// CreateCollection creates the named collection. Creating an existing
// collection is an error from the server, passed through.
func (c *Connection) CreateCollection(ctx context.Context, name string) error {
	db, err := c.Database(ctx)
	if err != nil {
		return err
	}
	if err := db.CreateCollection(ctx, name); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// DropCollection drops the named collection; dropping a missing collection
// is a no-op on the server
func (c *Connection) DropCollection(ctx context.Context, name string) error {
	db, err := c.Database(ctx)
	if err != nil {
		return err
	}
	if err := db.Collection(name).Drop(ctx); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	return nil
}

// Close disconnects the client if it was ever connected
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	return err
}
