package dispatcher

import (
	"regexp"
	"strconv"
	"strings"
)

// Predicate gates handler selection: a pure test over a context, with an
// optional expression string (for URL predicates, the pattern source).
// Callback wraps arbitrary user tests; everything else is built in.
type Predicate interface {
	Evaluate(c Context) bool
	Expression() string
}

type urlPredicate struct {
	pattern *URLPattern
}

// Url creates a predicate matching the context URL against a pattern.
// On a successful match the named captures are stored into the context's
// URL segments, visible to every later predicate and to the handler.
func Url(pattern string) Predicate {
	return &urlPredicate{pattern: MustCompileURLPattern(pattern)}
}

func (p *urlPredicate) Evaluate(c Context) bool {
	captures, ok := p.pattern.Match(c.URL())
	if !ok {
		return false
	}
	for name, value := range captures {
		c.SetURLSegment(name, value)
	}
	return true
}

func (p *urlPredicate) Expression() string { return p.pattern.Source }

// URLSource exposes the pattern source of Url predicates; the router's
// auto-classifier uses it to tag patterns with their context type.
func URLSource(p Predicate) (*URLPattern, bool) {
	up, ok := p.(*urlPredicate)
	if !ok {
		return nil, false
	}
	return up.pattern, true
}

type equalPredicate struct {
	name     string
	expected string
}

// Equal tests a context value for equality
func Equal(name, expected string) Predicate {
	return &equalPredicate{name: name, expected: expected}
}

func (p *equalPredicate) Evaluate(c Context) bool {
	v, ok := c.Value(p.name)
	return ok && v == p.expected
}

func (p *equalPredicate) Expression() string { return p.name + "==" + p.expected }

type betweenPredicate struct {
	name string
	lo   float64
	hi   float64
}

// Between tests a numeric context value for lo <= value <= hi
func Between(name string, lo, hi float64) Predicate {
	return &betweenPredicate{name: name, lo: lo, hi: hi}
}

func (p *betweenPredicate) Evaluate(c Context) bool {
	raw, ok := c.Value(p.name)
	if !ok {
		return false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false
	}
	return v >= p.lo && v <= p.hi
}

func (p *betweenPredicate) Expression() string {
	return p.name + " in [" + strconv.FormatFloat(p.lo, 'g', -1, 64) + "," + strconv.FormatFloat(p.hi, 'g', -1, 64) + "]"
}

type inListPredicate struct {
	name   string
	values []string
}

// InList tests a context value for membership in a fixed list
func InList(name string, values ...string) Predicate {
	return &inListPredicate{name: name, values: values}
}

func (p *inListPredicate) Evaluate(c Context) bool {
	v, ok := c.Value(p.name)
	if !ok {
		return false
	}
	for _, candidate := range p.values {
		if v == candidate {
			return true
		}
	}
	return false
}

func (p *inListPredicate) Expression() string {
	return p.name + " in (" + strings.Join(p.values, ",") + ")"
}

type matchPredicate struct {
	name string
	re   *regexp.Regexp
}

// Match tests a context value against a regular expression
func Match(name, expression string) Predicate {
	return &matchPredicate{name: name, re: regexp.MustCompile(expression)}
}

func (p *matchPredicate) Evaluate(c Context) bool {
	v, ok := c.Value(p.name)
	return ok && p.re.MatchString(v)
}

func (p *matchPredicate) Expression() string { return p.name + "~" + p.re.String() }

type hasValuePredicate struct {
	name string
}

// HasValue tests that a context value is present
func HasValue(name string) Predicate {
	return &hasValuePredicate{name: name}
}

func (p *hasValuePredicate) Evaluate(c Context) bool {
	_, ok := c.Value(p.name)
	return ok
}

func (p *hasValuePredicate) Expression() string { return "has " + p.name }

type allPredicate struct {
	preds []Predicate
}

// All composes predicates conjunctively with short-circuit evaluation
func All(preds ...Predicate) Predicate { return &allPredicate{preds: preds} }

func (p *allPredicate) Evaluate(c Context) bool {
	for _, pred := range p.preds {
		if !pred.Evaluate(c) {
			return false
		}
	}
	return true
}

func (p *allPredicate) Expression() string { return joinExpressions(p.preds, " && ") }

type anyPredicate struct {
	preds []Predicate
}

// Any composes predicates disjunctively with short-circuit evaluation
func Any(preds ...Predicate) Predicate { return &anyPredicate{preds: preds} }

func (p *anyPredicate) Evaluate(c Context) bool {
	for _, pred := range p.preds {
		if pred.Evaluate(c) {
			return true
		}
	}
	return false
}

func (p *anyPredicate) Expression() string { return joinExpressions(p.preds, " || ") }

type callbackPredicate struct {
	fn   func(Context) bool
	expr string
}

// Callback wraps a user-supplied test as a predicate
func Callback(expr string, fn func(Context) bool) Predicate {
	return &callbackPredicate{fn: fn, expr: expr}
}

func (p *callbackPredicate) Evaluate(c Context) bool { return p.fn(c) }

func (p *callbackPredicate) Expression() string { return p.expr }

func joinExpressions(preds []Predicate, sep string) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = p.Expression()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
