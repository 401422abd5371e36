package restclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
)

func clientFor(t *testing.T, doc map[string]interface{}) *Client {
	t.Helper()
	tree := config.NewTreeFromMap(map[string]interface{}{"billing": doc})
	c, err := New("billing", tree.Options("billing"), nil)
	require.NoError(t, err)
	return c
}

func TestGet_JSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/items", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[1,2]}`))
	}))
	defer srv.Close()

	c := clientFor(t, map[string]interface{}{
		"url":     srv.URL,
		"headers": map[string]string{"Authorization": "token"},
	})

	resp, err := c.Get(context.Background(), "/v1/items", &RequestOptions{
		Query: map[string]string{"page": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, resp.IsJSON)
	assert.Equal(t, map[string]interface{}{"items": []interface{}{float64(1), float64(2)}}, resp.JSON)
}

func TestPost_JSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer srv.Close()

	c := clientFor(t, map[string]interface{}{"url": srv.URL})
	resp, err := c.Post(context.Background(), "/v1/items", &RequestOptions{
		Body: map[string]string{"name": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.False(t, resp.IsJSON)
	assert.Equal(t, "created", resp.Text)
}

func TestGet_JSONBodyWithTextContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(`{"id":"u1"}`))
	}))
	defer srv.Close()

	c := clientFor(t, map[string]interface{}{"url": srv.URL})
	resp, err := c.Get(context.Background(), "/user", nil)
	require.NoError(t, err)
	assert.True(t, resp.IsJSON, "valid JSON is decoded regardless of content type")
	assert.Equal(t, map[string]interface{}{"id": "u1"}, resp.JSON)
	assert.Equal(t, `{"id":"u1"}`, resp.Text)
}

func TestRaiseOnError_Default(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"missing"}`))
	}))
	defer srv.Close()

	c := clientFor(t, map[string]interface{}{"url": srv.URL})
	resp, err := c.Get(context.Background(), "/gone", nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	require.NotNil(t, resp, "the parsed response still comes back")
	assert.True(t, resp.IsJSON)
}

func TestRaiseOnError_DisabledPerCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := clientFor(t, map[string]interface{}{"url": srv.URL})
	raise := false
	resp, err := c.Get(context.Background(), "/boom", &RequestOptions{RaiseOnError: &raise})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c := clientFor(t, map[string]interface{}{"url": "http://127.0.0.1:1"})

	for i := 0; i < 5; i++ {
		_, err := c.Get(context.Background(), "/", nil)
		require.Error(t, err)
	}
	_, err := c.Get(context.Background(), "/", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestNew_MissingURL(t *testing.T) {
	tree := config.NewTreeFromMap(map[string]interface{}{
		"billing": map[string]interface{}{"timeout": "5s"},
	})
	_, err := New("billing", tree.Options("billing"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}

func TestNew_BadCABundle(t *testing.T) {
	tree := config.NewTreeFromMap(map[string]interface{}{
		"billing": map[string]interface{}{
			"url":       "https://example.com",
			"ca_bundle": "/does/not/exist.pem",
		},
	})
	_, err := New("billing", tree.Options("billing"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ca bundle")
}
