package di

import (
	"fmt"
	"reflect"
)

// TypeOf returns the reflect.Type of T, including interface types
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// RegisterSingleton registers a factory for T with Singleton lifetime
func RegisterSingleton[T any](p *Provider, factory interface{}) error {
	return p.RegisterType(TypeOf[T](), Singleton, factory)
}

// RegisterScoped registers a factory for T with Scoped lifetime
func RegisterScoped[T any](p *Provider, factory interface{}) error {
	return p.RegisterType(TypeOf[T](), Scoped, factory)
}

// RegisterTransient registers a factory for T with Transient lifetime
func RegisterTransient[T any](p *Provider, factory interface{}) error {
	return p.RegisterType(TypeOf[T](), Transient, factory)
}

// RegisterInstance registers an existing value as a Singleton for T
func RegisterInstance[T any](p *Provider, value T) {
	p.RegisterDescriptor(&Descriptor{
		ServiceType: TypeOf[T](),
		Lifetime:    Singleton,
		instance:    value,
	})
}

// RegisterKeyed registers a keyed factory for T. Resolutions through
// ResolveKeyed supply the key tuple; distinct tuples are cached separately
// under the given lifetime.
func RegisterKeyed[T any](p *Provider, lifetime Lifetime, factory func(sp *Provider, keys []string) (T, error)) {
	p.RegisterKeyedType(TypeOf[T](), lifetime, func(sp *Provider, keys []string) (interface{}, error) {
		return factory(sp, keys)
	})
}

// Resolve returns the first registered instance of T
func Resolve[T any](p *Provider) (T, error) {
	var zero T
	v, err := p.Resolve(TypeOf[T]())
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("di: registration for %s produced %T", TypeOf[T](), v)
	}
	return t, nil
}

// ResolveKeyed resolves T with a key tuple
func ResolveKeyed[T any](p *Provider, keys ...string) (T, error) {
	var zero T
	v, err := p.ResolveKeyed(TypeOf[T](), keys...)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("di: registration for %s produced %T", TypeOf[T](), v)
	}
	return t, nil
}

// ResolveAll returns every registered instance of T in registration order
func ResolveAll[T any](p *Provider) ([]T, error) {
	vs, err := p.ResolveAll(TypeOf[T]())
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		t, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("di: registration for %s produced %T", TypeOf[T](), v)
		}
		out = append(out, t)
	}
	return out, nil
}

// Unregister removes every registration of T and its cached instances
func Unregister[T any](p *Provider) {
	p.UnregisterType(TypeOf[T]())
}
