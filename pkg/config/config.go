// Package config loads the hierarchical server configuration and exposes
// typed views over it. The tree is read once at startup from a JSON or YAML
// file and can be overridden through EDGE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Top-level keys recognized by the core. Anything else is opaque and
// reserved for user options.
const (
	KeyServer   = "server"
	KeyReceiver = "receiver"
	KeySender   = "sender"
	KeyEndpoint = "endpoint"
	KeyRabbit   = "rabbit"
	KeyRabbitMQ = "rabbitmq"
	KeyDatabase = "database"
	KeyRouter   = "router"
)

// Tree is the loaded configuration document
type Tree struct {
	v        *viper.Viper
	instance string
}

// Load reads configuration from the given file. An empty path falls back to
// the EDGE_CONFIG_FILE environment variable and then to config.json in the
// working directory. Environment variables prefixed with EDGE_ override
// file values (dots become underscores).
func Load(path, instance string) (*Tree, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("EDGE_CONFIG_FILE")
	}
	if path == "" {
		path = "config.json"
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix("EDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	return &Tree{v: v, instance: instance}, nil
}

// NewTreeFromMap builds a Tree from an in-memory document. Used by tests
// and by embedders that assemble configuration programmatically.
func NewTreeFromMap(doc map[string]interface{}) *Tree {
	v := viper.New()
	setDefaults(v)
	for k, val := range doc {
		v.Set(k, val)
	}
	return &Tree{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "edge")
}

// Instance returns the instance name the process was started with
func (t *Tree) Instance() string { return t.instance }

// IsSet reports whether the key is present in the tree
func (t *Tree) IsSet(key string) bool { return t.v.IsSet(key) }

// Get returns the raw value at key
func (t *Tree) Get(key string) interface{} { return t.v.Get(key) }

// GetString returns the string value at key
func (t *Tree) GetString(key string) string { return t.v.GetString(key) }

// GetBool returns the boolean value at key
func (t *Tree) GetBool(key string) bool { return t.v.GetBool(key) }

// GetStringMap returns the mapping value at key
func (t *Tree) GetStringMap(key string) map[string]interface{} { return t.v.GetStringMap(key) }

// UnmarshalKey decodes the subtree at key into target using mapstructure tags
func (t *Tree) UnmarshalKey(key string, target interface{}) error {
	if err := t.v.UnmarshalKey(key, target); err != nil {
		return fmt.Errorf("error unmarshaling config key %s: %w", key, err)
	}
	return nil
}

// Options returns the typed view over the subtree at key. The view is valid
// even when the key is absent; IsEmpty reports that case.
func (t *Tree) Options(key string) *Options {
	return &Options{tree: t, key: key}
}

// Options is a typed configuration view anchored at one key of the tree.
// Handlers receive Options through the DI container, keyed by the anchor,
// so resolving Options for "database.app" and "rabbitmq.events" yields two
// distinct cached views.
type Options struct {
	tree *Tree
	key  string
}

// Key returns the anchor key of this view
func (o *Options) Key() string { return o.key }

// IsEmpty reports whether the anchored subtree is absent
func (o *Options) IsEmpty() bool { return !o.tree.v.IsSet(o.key) }

// Sub returns a view anchored one level deeper
func (o *Options) Sub(key string) *Options {
	return &Options{tree: o.tree, key: o.key + "." + key}
}

func (o *Options) abs(key string) string {
	if key == "" {
		return o.key
	}
	return o.key + "." + key
}

// IsSet reports whether the relative key is present
func (o *Options) IsSet(key string) bool { return o.tree.v.IsSet(o.abs(key)) }

// Get returns the raw value at the relative key
func (o *Options) Get(key string) interface{} { return o.tree.v.Get(o.abs(key)) }

// GetString returns the string value at the relative key
func (o *Options) GetString(key string) string { return o.tree.v.GetString(o.abs(key)) }

// GetInt returns the integer value at the relative key
func (o *Options) GetInt(key string) int { return o.tree.v.GetInt(o.abs(key)) }

// GetBool returns the boolean value at the relative key
func (o *Options) GetBool(key string) bool { return o.tree.v.GetBool(o.abs(key)) }

// GetDuration returns the duration value at the relative key
func (o *Options) GetDuration(key string) time.Duration { return o.tree.v.GetDuration(o.abs(key)) }

// GetStringSlice returns the string list value at the relative key
func (o *Options) GetStringSlice(key string) []string { return o.tree.v.GetStringSlice(o.abs(key)) }

// GetStringMap returns the mapping value at the relative key
func (o *Options) GetStringMap(key string) map[string]interface{} {
	return o.tree.v.GetStringMap(o.abs(key))
}

// Unmarshal decodes the anchored subtree into target using mapstructure tags
func (o *Options) Unmarshal(target interface{}) error {
	if err := o.tree.v.UnmarshalKey(o.key, target); err != nil {
		return fmt.Errorf("error unmarshaling config key %s: %w", o.key, err)
	}
	return nil
}
