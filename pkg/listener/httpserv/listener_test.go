package httpserv

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/dispatcher"
)

func newTestListener(t *testing.T, cfg *Config, register func(d *dispatcher.Dispatcher)) *Listener {
	t.Helper()
	d, err := dispatcher.New(config.NewTreeFromMap(nil), nil, nil)
	require.NoError(t, err)
	if register != nil {
		register(d)
	}
	if cfg == nil {
		cfg = &Config{Port: 8080, SendBuffer: 8}
	}
	l := New(cfg, nil)
	l.sink = d
	l.engine = l.buildEngine()
	return l
}

func TestRESTfulRequestRoundTrip(t *testing.T) {
	l := newTestListener(t, nil, func(d *dispatcher.Dispatcher) {
		require.NoError(t, d.RegisterRESTful(func(c *dispatcher.RESTfulContext) interface{} {
			return map[string]interface{}{"id": c.URLSegments()["id"]}
		}, dispatcher.Url("api/users/:id")))
	})

	rec := httptest.NewRecorder()
	l.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/7", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"7"}`, rec.Body.String())
}

func TestWebRequestServesHTML(t *testing.T) {
	l := newTestListener(t, nil, func(d *dispatcher.Dispatcher) {
		require.NoError(t, d.RegisterWeb(func(c *dispatcher.WebContext) string {
			return "<html>home</html>"
		}, dispatcher.Url("home.html")))
	})

	rec := httptest.NewRecorder()
	l.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/home.html", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<html>home</html>", rec.Body.String())
}

func TestUnmatchedURLIs404JSON(t *testing.T) {
	l := newTestListener(t, nil, nil)

	rec := httptest.NewRecorder()
	l.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, rec.Body.String())
}

func TestRequestBodyReachesHandler(t *testing.T) {
	l := newTestListener(t, nil, func(d *dispatcher.Dispatcher) {
		require.NoError(t, d.RegisterRESTful(func(c *dispatcher.RESTfulContext) (interface{}, error) {
			var payload map[string]interface{}
			if err := c.Request.JSON(&payload); err != nil {
				return nil, err
			}
			return payload, nil
		}, dispatcher.Url("api/echo")))
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(`{"k":"v"}`))
	l.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"k":"v"}`, rec.Body.String())
}

func TestEachRequestGetsASessionID(t *testing.T) {
	var seen []string
	l := newTestListener(t, nil, func(d *dispatcher.Dispatcher) {
		require.NoError(t, d.RegisterRESTful(func(c *dispatcher.RESTfulContext) interface{} {
			seen = append(seen, c.SessionID())
			return nil
		}, dispatcher.Url("api/ping")))
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		l.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	require.Len(t, seen, 2)
	assert.NotEmpty(t, seen[0])
	assert.NotEmpty(t, seen[1])
	assert.NotEqual(t, seen[0], seen[1], "ids are per request")
}

func TestStaticPrefixBypassesDispatcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	cfg := &Config{Port: 8080, StaticPrefix: "assets", StaticRoot: dir, SendBuffer: 8}
	l := newTestListener(t, cfg, nil)

	rec := httptest.NewRecorder()
	l.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	// Outside the prefix the dispatcher still answers
	rec = httptest.NewRecorder()
	l.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseConfig_StringForm(t *testing.T) {
	tree := config.NewTreeFromMap(map[string]interface{}{"server": "127.0.0.1:9090"})
	cfg, err := ParseConfig(tree)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.URL)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
}

func TestParseConfig_MapForm(t *testing.T) {
	tree := config.NewTreeFromMap(map[string]interface{}{
		"server": map[string]interface{}{"url": "0.0.0.0", "port": 8085},
	})
	cfg, err := ParseConfig(tree)
	require.NoError(t, err)
	assert.Equal(t, 8085, cfg.Port)
	assert.False(t, cfg.TLSEnabled())
}

func TestParseConfig_MissingTLSFilesFailHard(t *testing.T) {
	tree := config.NewTreeFromMap(map[string]interface{}{
		"server": map[string]interface{}{
			"port":     8443,
			"ssl_cert": "/does/not/exist.pem",
			"ssl_key":  "/does/not/exist.key",
		},
	})
	_, err := ParseConfig(tree)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreadable")
}

func TestIsWebSocketUpgrade(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.False(t, isWebSocketUpgrade(req))

	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "keep-alive, Upgrade")
	assert.True(t, isWebSocketUpgrade(req))
}
