package di

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
)

// cacheKey identifies one cached instance: the descriptor that produced it
// plus the ordered key tuple of the resolution.
type cacheKey struct {
	desc *Descriptor
	keys string
}

func newCacheKey(d *Descriptor, keys []string) cacheKey {
	return cacheKey{desc: d, keys: strings.Join(keys, "\x00")}
}

// core is the state shared by the root provider and all of its scopes:
// descriptor table, singleton cache, and the single guard around both.
type core struct {
	mu          sync.Mutex
	descriptors map[reflect.Type][]*Descriptor
	singletons  map[cacheKey]interface{}
	onChanged   func()
}

// resolveState tracks one top-level resolution: the descriptor stack for
// circular dependency detection. The core lock is held for the whole
// resolution; providers handed to factories carry the state so nested
// Resolve calls reuse it instead of re-locking.
type resolveState struct {
	stack []*Descriptor
}

func (s *resolveState) push(d *Descriptor) error {
	for _, e := range s.stack {
		if e == d {
			chain := make([]string, 0, len(s.stack)+1)
			for _, x := range s.stack {
				chain = append(chain, typeName(x.ServiceType))
			}
			chain = append(chain, typeName(d.ServiceType))
			return &edgeerr.CircularDependencyError{Chain: chain}
		}
	}
	s.stack = append(s.stack, d)
	return nil
}

func (s *resolveState) pop() {
	s.stack = s.stack[:len(s.stack)-1]
}

// Provider is the service container. The root provider owns the descriptor
// table and the singleton cache; CreateScope returns a child sharing both
// with its own scoped cache. Scopes are created per inbound message and
// disposed when the handler returns.
type Provider struct {
	core     *core
	parent   *Provider
	scoped   map[cacheKey]interface{}
	state    *resolveState
	disposed bool
}

var providerType = reflect.TypeOf((*Provider)(nil))

// NewProvider creates a root container
func NewProvider() *Provider {
	return &Provider{
		core: &core{
			descriptors: make(map[reflect.Type][]*Descriptor),
			singletons:  make(map[cacheKey]interface{}),
		},
		scoped: make(map[cacheKey]interface{}),
	}
}

// IsRoot reports whether this provider is the root container
func (p *Provider) IsRoot() bool { return p.parent == nil }

// SetOnChanged installs a hook invoked after every registration change.
// The dispatcher uses it to invalidate its router.
func (p *Provider) SetOnChanged(fn func()) {
	p.core.mu.Lock()
	p.core.onChanged = fn
	p.core.mu.Unlock()
}

// lockFor enters a top-level container operation. When the provider is a
// mid-resolution view (state already set) the lock is already held.
func (p *Provider) lockFor() (*resolveState, func()) {
	if p.state != nil {
		return p.state, func() {}
	}
	p.core.mu.Lock()
	return &resolveState{}, p.core.mu.Unlock
}

// withState returns a view of this provider carrying the resolution state,
// for handing to factories during construction.
func (p *Provider) withState(s *resolveState) *Provider {
	cp := *p
	cp.state = s
	return &cp
}

// RegisterDescriptor appends a prepared descriptor. Insertion order is
// preserved: the first registration wins on single resolution and
// ResolveAll returns registration order.
func (p *Provider) RegisterDescriptor(d *Descriptor) {
	p.core.mu.Lock()
	p.core.descriptors[d.ServiceType] = append(p.core.descriptors[d.ServiceType], d)
	changed := p.core.onChanged
	p.core.mu.Unlock()
	if changed != nil {
		changed()
	}
}

// RegisterType registers a factory for an explicit service type. The
// factory signature is func(deps...) T or func(deps...) (T, error); its
// parameters are injected by declared type at construction.
func (p *Provider) RegisterType(serviceType reflect.Type, lifetime Lifetime, factory interface{}) error {
	d, err := newFactoryDescriptor(serviceType, lifetime, factory)
	if err != nil {
		return err
	}
	p.RegisterDescriptor(d)
	return nil
}

// Register registers a factory; the service type is the factory's return type
func (p *Provider) Register(lifetime Lifetime, factory interface{}) error {
	return p.RegisterType(nil, lifetime, factory)
}

// RegisterValue registers an already-built instance under its dynamic type
func (p *Provider) RegisterValue(value interface{}) {
	p.RegisterDescriptor(&Descriptor{
		ServiceType: reflect.TypeOf(value),
		Lifetime:    Singleton,
		instance:    value,
	})
}

// RegisterKeyedType registers a keyed factory: resolutions supply a key
// tuple and distinct tuples get distinct cached instances.
func (p *Provider) RegisterKeyedType(serviceType reflect.Type, lifetime Lifetime, factory KeyedFactory) {
	p.RegisterDescriptor(&Descriptor{
		ServiceType:  serviceType,
		Lifetime:     lifetime,
		keyedFactory: factory,
	})
}

// UnregisterType removes all registrations for the service type along with
// their cached instances. A later re-registration yields fresh instances.
func (p *Provider) UnregisterType(serviceType reflect.Type) {
	p.core.mu.Lock()
	descs := p.core.descriptors[serviceType]
	delete(p.core.descriptors, serviceType)
	for _, d := range descs {
		for ck := range p.core.singletons {
			if ck.desc == d {
				delete(p.core.singletons, ck)
			}
		}
		for ck := range p.scoped {
			if ck.desc == d {
				delete(p.scoped, ck)
			}
		}
	}
	changed := p.core.onChanged
	p.core.mu.Unlock()
	if changed != nil {
		changed()
	}
}

// Resolve returns the first registered instance for the service type, or a
// DependencyUnresolvedError when nothing is registered. Slice types resolve
// to all registrations of the element type in insertion order.
func (p *Provider) Resolve(serviceType reflect.Type) (interface{}, error) {
	s, unlock := p.lockFor()
	defer unlock()
	return p.resolveType(s, serviceType, nil)
}

// ResolveKeyed resolves the service type with a key tuple. The same
// descriptor serves every tuple but each tuple has its own cached instance.
func (p *Provider) ResolveKeyed(serviceType reflect.Type, keys ...string) (interface{}, error) {
	s, unlock := p.lockFor()
	defer unlock()
	return p.resolveType(s, serviceType, keys)
}

// ResolveAll returns instances for every registration of the service type,
// ordered by registration.
func (p *Provider) ResolveAll(serviceType reflect.Type) ([]interface{}, error) {
	s, unlock := p.lockFor()
	defer unlock()
	return p.resolveAll(s, serviceType)
}

func (p *Provider) resolveType(s *resolveState, t reflect.Type, keys []string) (interface{}, error) {
	if t == providerType {
		return p.withState(s), nil
	}
	if t.Kind() == reflect.Slice {
		items, err := p.resolveAll(s, t.Elem())
		if err != nil {
			return nil, err
		}
		out := reflect.MakeSlice(t, 0, len(items))
		for _, it := range items {
			out = reflect.Append(out, reflect.ValueOf(it))
		}
		return out.Interface(), nil
	}
	descs := p.core.descriptors[t]
	if len(descs) == 0 {
		return nil, unresolved(t, keys)
	}
	return p.instantiate(s, descs[0], keys)
}

func (p *Provider) resolveAll(s *resolveState, t reflect.Type) ([]interface{}, error) {
	descs := p.core.descriptors[t]
	out := make([]interface{}, 0, len(descs))
	for _, d := range descs {
		v, err := p.instantiate(s, d, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *Provider) instantiate(s *resolveState, d *Descriptor, keys []string) (interface{}, error) {
	var cache map[cacheKey]interface{}
	switch d.Lifetime {
	case Singleton:
		cache = p.core.singletons
	case Scoped:
		cache = p.scoped
	}

	ck := newCacheKey(d, keys)
	if cache != nil {
		if v, ok := cache[ck]; ok {
			return v, nil
		}
	}

	if err := s.push(d); err != nil {
		return nil, err
	}
	defer s.pop()

	v, err := p.construct(s, d, keys)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache[ck] = v
	}
	return v, nil
}

func (p *Provider) construct(s *resolveState, d *Descriptor, keys []string) (interface{}, error) {
	if d.instance != nil {
		return d.instance, nil
	}
	if d.keyedFactory != nil {
		return d.keyedFactory(p.withState(s), keys)
	}

	args := make([]reflect.Value, len(d.factoryIn))
	for i, pt := range d.factoryIn {
		v, err := p.resolveType(s, pt, nil)
		if err != nil {
			return nil, fmt.Errorf("constructing %s: %w", typeName(d.ServiceType), err)
		}
		if v == nil {
			args[i] = reflect.Zero(pt)
		} else {
			args[i] = reflect.ValueOf(v)
		}
	}

	out := d.factory.Call(args)
	if d.factoryErr && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// CreateScope returns a child provider sharing the descriptor table and
// singleton cache with its own scoped cache
func (p *Provider) CreateScope() *Provider {
	return &Provider{
		core:   p.core,
		parent: p,
		scoped: make(map[cacheKey]interface{}),
	}
}

// Dispose releases the provider's caches. Scoped instances exposing a close
// capability are closed; disposing the root also closes singletons.
func (p *Provider) Dispose() {
	p.core.mu.Lock()
	if p.disposed {
		p.core.mu.Unlock()
		return
	}
	p.disposed = true
	scoped := p.scoped
	p.scoped = make(map[cacheKey]interface{})
	var singletons map[cacheKey]interface{}
	if p.parent == nil {
		singletons = p.core.singletons
		p.core.singletons = make(map[cacheKey]interface{})
	}
	p.core.mu.Unlock()

	for _, v := range scoped {
		closeInstance(v)
	}
	for _, v := range singletons {
		closeInstance(v)
	}
}

// closeInstance closes anything with a recognizable close capability
func closeInstance(v interface{}) {
	switch c := v.(type) {
	case io.Closer:
		_ = c.Close()
	case interface{ Close(context.Context) error }:
		_ = c.Close(context.Background())
	case interface{ Close() }:
		c.Close()
	}
}
