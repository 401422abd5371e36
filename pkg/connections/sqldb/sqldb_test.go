package sqldb

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
		"sql": map[string]interface{}{"main": doc},
	})
	return tree.Options("sql.main")
}

func TestNew_Defaults(t *testing.T) {
	conn, err := New("main", optionsFor(map[string]interface{}{
		"dsn": "postgres://localhost/edge?sslmode=disable",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, "main", conn.Tag())
	assert.Equal(t, "postgres", conn.settings.Driver)
	assert.Equal(t, 25, conn.settings.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, conn.settings.ConnMaxLifetime)
}

func TestNew_MissingDSN(t *testing.T) {
	_, err := New("main", optionsFor(map[string]interface{}{"driver": "postgres"}), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required")
}

func TestNew_UnknownTag(t *testing.T) {
	tree := config.NewTreeFromMap(nil)
	_, err := New("ghost", tree.Options("sql.ghost"), nil)
	require.Error(t, err)

	var ce *edgeerr.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "sql.ghost", ce.Key)
}

func TestCloseWithoutOpenIsNoop(t *testing.T) {
	conn, err := New("main", optionsFor(map[string]interface{}{
		"dsn": "postgres://localhost/edge",
	}), nil)
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}
