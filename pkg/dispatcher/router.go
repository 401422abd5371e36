package dispatcher

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
)

// HandlerEntry is one registered handler with its predicate conjunction
type HandlerEntry struct {
	Predicates []Predicate
	Handler    interface{}
	handlerPtr uintptr
}

func newHandlerEntry(handler interface{}, predicates []Predicate) (*HandlerEntry, error) {
	hv := reflect.ValueOf(handler)
	if hv.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function, got %T", handler)
	}
	return &HandlerEntry{
		Predicates: predicates,
		Handler:    handler,
		handlerPtr: hv.Pointer(),
	}, nil
}

type classifierRule struct {
	pattern *URLPattern
	ctxType ContextType
}

// Router locates the first matching handler entry for a context, and
// classifies incoming URLs to a context type when more than one type is
// registered. The routing table is rebuilt lazily from the dispatcher's
// handler registrations whenever they change; a manual routing
// configuration suppresses the auto-built classifier permanently.
type Router struct {
	mu    sync.Mutex
	dirty bool

	table       map[ContextType][]*HandlerEntry
	rules       []classifierRule
	defaultType ContextType

	manual    []classifierRule
	hasManual bool
}

// NewRouter creates a router. manual maps context type names to URL
// patterns; a nil map enables the auto-built classifier.
func NewRouter(manual map[string][]string) (*Router, error) {
	r := &Router{dirty: true, table: make(map[ContextType][]*HandlerEntry)}
	if len(manual) > 0 {
		r.hasManual = true
		// Map iteration order is random; fix a stable order so identical
		// configs always classify identically.
		names := make([]string, 0, len(manual))
		for name := range manual {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			patterns := manual[name]
			ctxType := ContextType(name)
			for _, src := range patterns {
				p, err := CompileURLPattern(src)
				if err != nil {
					return nil, edgeerr.NewConfigError("router."+name, "bad url pattern %q: %v", src, err)
				}
				r.manual = append(r.manual, classifierRule{pattern: p, ctxType: ctxType})
			}
			if r.defaultType == "" {
				r.defaultType = ctxType
			}
		}
	}
	return r, nil
}

// MarkDirty schedules a rebuild before the next dispatch
func (r *Router) MarkDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

// Ensure rebuilds the routing table from the given registrations if a
// change has been flagged. typeOrder is the insertion order of context
// types; entry order within a type is registration order.
func (r *Router) Ensure(handlers map[ContextType][]*HandlerEntry, typeOrder []ContextType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return
	}

	table := make(map[ContextType][]*HandlerEntry, len(handlers))
	for t, entries := range handlers {
		table[t] = append([]*HandlerEntry(nil), entries...)
	}
	r.table = table

	if !r.hasManual {
		r.rules = nil
		r.defaultType = ""
		if len(typeOrder) > 0 {
			r.defaultType = typeOrder[0]
		}
		if len(typeOrder) > 1 {
			// Several context types: classify by the URL patterns of every
			// Url predicate, in insertion order across types, handlers
			// within type, and predicates within handler.
			for _, t := range typeOrder {
				for _, entry := range table[t] {
					for _, pred := range entry.Predicates {
						if p, ok := URLSource(pred); ok {
							r.rules = append(r.rules, classifierRule{pattern: p, ctxType: t})
						}
					}
				}
			}
		}
	}

	r.dirty = false
}

// Classify maps a URL onto a context type. With a single registered type
// the answer is constant; otherwise the first matching URL pattern wins
// and the first registered type is the fallback.
func (r *Router) Classify(url string) ContextType {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules := r.rules
	fallback := r.defaultType
	if r.hasManual {
		rules = r.manual
	}
	for _, rule := range rules {
		if _, ok := rule.pattern.Match(url); ok {
			return rule.ctxType
		}
	}
	if fallback == "" {
		return ContextRESTful
	}
	return fallback
}

// Match returns the first entry whose predicates all hold for the context,
// respecting registration order. URL predicate captures are stored on the
// context as a side effect of evaluation.
func (r *Router) Match(c Context) (*HandlerEntry, error) {
	r.mu.Lock()
	entries := r.table[c.Type()]
	r.mu.Unlock()

	for _, entry := range entries {
		if evaluateAll(entry.Predicates, c) {
			return entry, nil
		}
	}
	return nil, &edgeerr.HandlerNotFoundError{URL: c.URL(), ContextType: string(c.Type())}
}

func evaluateAll(preds []Predicate, c Context) bool {
	for _, p := range preds {
		if !p.Evaluate(c) {
			return false
		}
	}
	return true
}
