package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
)

func optionsFor(doc map[string]interface{}) *config.Options {
	tree := config.NewTreeFromMap(map[string]interface{}{
		"database": map[string]interface{}{"app": doc},
	})
	return tree.Options("database.app")
}

func TestNew_ValidSettings(t *testing.T) {
	conn, err := New("app", optionsFor(map[string]interface{}{
		"url":      "mongodb://localhost:27017",
		"database": "edge",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, "app", conn.Tag())
	assert.Equal(t, 10*time.Second, conn.settings.ConnectTimeout, "default connect timeout")
}

func TestNew_MissingTagFailsWithConfigError(t *testing.T) {
	tree := config.NewTreeFromMap(nil)
	_, err := New("ghost", tree.Options("database.ghost"), nil)
	require.Error(t, err)

	var ce *edgeerr.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "database.ghost", ce.Key)
}

func TestNew_MissingURL(t *testing.T) {
	_, err := New("app", optionsFor(map[string]interface{}{"database": "edge"}), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}

func TestNew_MissingDatabase(t *testing.T) {
	_, err := New("app", optionsFor(map[string]interface{}{"url": "mongodb://x"}), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is required")
}

func TestCloseWithoutConnectIsNoop(t *testing.T) {
	conn, err := New("app", optionsFor(map[string]interface{}{
		"url":      "mongodb://localhost:27017",
		"database": "edge",
	}), nil)
	require.NoError(t, err)
	assert.NoError(t, conn.Close(nil))
}
