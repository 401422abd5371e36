// Package di implements the three-lifetime dependency injection container
// the dispatcher builds on. Services are registered as descriptors
// (instance, factory, or keyed factory) against a service type; resolution
// walks the descriptor table, honors Singleton/Scoped/Transient caching,
// and injects factory parameters by declared type. A child scope is created
// per inbound message and disposed when the handler returns.
package di

import (
	"fmt"
	"reflect"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
)

// Lifetime governs instance caching for a registration
type Lifetime int

// Lifetimes
const (
	// Singleton caches one instance per (service type, key tuple) for the
	// lifetime of the root provider
	Singleton Lifetime = iota
	// Scoped caches one instance per (service type, key tuple) within one
	// scope
	Scoped
	// Transient never caches
	Transient
)

// String returns the lifetime name
func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("lifetime(%d)", int(l))
	}
}

// KeyedFactory builds an instance for a keyed resolution. The key tuple is
// the generic arguments of the resolution; distinct tuples get distinct
// cached instances.
type KeyedFactory func(sp *Provider, keys []string) (interface{}, error)

// Descriptor describes one service registration. Exactly one of the
// provider fields is set.
type Descriptor struct {
	ServiceType reflect.Type
	Lifetime    Lifetime

	instance     interface{}
	factory      reflect.Value
	factoryIn    []reflect.Type // parameter plan, recorded at registration
	factoryErr   bool           // factory returns (T, error)
	keyedFactory KeyedFactory
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// newFactoryDescriptor validates a factory function and records its
// parameter plan. The factory must be func(deps...) T or
// func(deps...) (T, error); its return type is the service type unless an
// explicit service type is given.
func newFactoryDescriptor(serviceType reflect.Type, lifetime Lifetime, factory interface{}) (*Descriptor, error) {
	fv := reflect.ValueOf(factory)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("di: factory must be a function, got %T", factory)
	}
	switch ft.NumOut() {
	case 1:
		if ft.Out(0) == errType {
			return nil, fmt.Errorf("di: factory %s must return a service value", ft)
		}
	case 2:
		if ft.Out(1) != errType {
			return nil, fmt.Errorf("di: factory %s second return value must be error", ft)
		}
	default:
		return nil, fmt.Errorf("di: factory %s must return T or (T, error)", ft)
	}

	if serviceType == nil {
		serviceType = ft.Out(0)
	} else if !ft.Out(0).AssignableTo(serviceType) {
		return nil, fmt.Errorf("di: factory %s does not produce %s", ft, serviceType)
	}

	in := make([]reflect.Type, ft.NumIn())
	for i := range in {
		if ft.IsVariadic() && i == ft.NumIn()-1 {
			return nil, fmt.Errorf("di: variadic factory %s is not supported", ft)
		}
		in[i] = ft.In(i)
	}

	return &Descriptor{
		ServiceType: serviceType,
		Lifetime:    lifetime,
		factory:     fv,
		factoryIn:   in,
		factoryErr:  ft.NumOut() == 2,
	}, nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

func unresolved(t reflect.Type, keys []string) error {
	return &edgeerr.DependencyUnresolvedError{ServiceType: typeName(t), Keys: keys}
}
