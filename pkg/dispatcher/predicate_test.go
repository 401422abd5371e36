package dispatcher

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
)

func restfulCtx(t *testing.T, path, rawQuery string) *RESTfulContext {
	t.Helper()
	q, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)
	req := &HTTPRequest{Method: http.MethodGet, Path: path, Query: q, Header: make(http.Header)}
	return NewRESTfulContext("s1", req, di.NewProvider().CreateScope(), context.Background())
}

func TestUrlPredicate_StoresCaptures(t *testing.T) {
	c := restfulCtx(t, "api/users/42", "")
	p := Url("api/users/:user_id")

	require.True(t, p.Evaluate(c))
	assert.Equal(t, "42", c.URLSegments()["user_id"])
	assert.Equal(t, "api/users/:user_id", p.Expression())
}

func TestUrlPredicate_LaterPredicatesObserveCaptures(t *testing.T) {
	c := restfulCtx(t, "api/users/42", "")
	all := All(Url("api/users/:user_id"), Equal("user_id", "42"))
	assert.True(t, all.Evaluate(c))
}

func TestEqualPredicate_QueryFallback(t *testing.T) {
	c := restfulCtx(t, "api/items", "kind=book")
	assert.True(t, Equal("kind", "book").Evaluate(c))
	assert.False(t, Equal("kind", "toy").Evaluate(c))
	assert.False(t, Equal("missing", "x").Evaluate(c))
}

func TestBetweenPredicate(t *testing.T) {
	c := restfulCtx(t, "api/items", "count=15")
	assert.True(t, Between("count", 10, 20).Evaluate(c))
	assert.False(t, Between("count", 16, 20).Evaluate(c))

	nonNumeric := restfulCtx(t, "api/items", "count=abc")
	assert.False(t, Between("count", 0, 100).Evaluate(nonNumeric))
}

func TestInListPredicate(t *testing.T) {
	c := restfulCtx(t, "api/items", "kind=book")
	assert.True(t, InList("kind", "book", "toy").Evaluate(c))
	assert.False(t, InList("kind", "food").Evaluate(c))
}

func TestMatchPredicate(t *testing.T) {
	c := restfulCtx(t, "api/items", "sku=AB-123")
	assert.True(t, Match("sku", `^[A-Z]{2}-\d+$`).Evaluate(c))
	assert.False(t, Match("sku", `^\d+$`).Evaluate(c))
}

func TestHasValuePredicate(t *testing.T) {
	c := restfulCtx(t, "api/items", "flag=1")
	assert.True(t, HasValue("flag").Evaluate(c))
	assert.False(t, HasValue("other").Evaluate(c))
}

func TestAnyAndCallback(t *testing.T) {
	c := restfulCtx(t, "api/items", "")
	called := false
	p := Any(
		Equal("missing", "x"),
		Callback("always", func(Context) bool { called = true; return true }),
	)
	assert.True(t, p.Evaluate(c))
	assert.True(t, called)
}

func TestAll_ShortCircuits(t *testing.T) {
	c := restfulCtx(t, "api/items", "")
	evaluated := false
	p := All(
		Equal("missing", "x"),
		Callback("never", func(Context) bool { evaluated = true; return true }),
	)
	assert.False(t, p.Evaluate(c))
	assert.False(t, evaluated, "All stops at the first false predicate")
}
