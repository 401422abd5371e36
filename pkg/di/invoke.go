package di

import (
	"fmt"
	"reflect"
)

// Invoke calls fn, supplying the given positional arguments first and
// injecting every remaining parameter from the container by declared type.
// Positional arguments are consumed in order wherever they are assignable
// to the next parameter; injection never matches by name.
//
// fn may return nothing, a value, an error, or (value, error). Invoke
// returns the value (nil when fn has no value return) and the error.
func (p *Provider) Invoke(fn interface{}, positional ...interface{}) (interface{}, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("di: invoke target must be a function, got %T", fn)
	}

	// Arguments are resolved under the container lock; the call itself runs
	// unlocked so the function may use the container again.
	s, unlock := p.lockFor()
	args := make([]reflect.Value, ft.NumIn())
	next := 0
	var argErr error
	for i := 0; i < ft.NumIn(); i++ {
		pt := ft.In(i)
		if next < len(positional) && assignable(positional[next], pt) {
			args[i] = valueFor(positional[next], pt)
			next++
			continue
		}
		if pt == providerType {
			// The call runs outside the lock, so the plain provider is the
			// right thing to hand out, not a mid-resolution view.
			args[i] = reflect.ValueOf(p)
			continue
		}
		v, err := p.resolveType(s, pt, nil)
		if err != nil {
			argErr = fmt.Errorf("di: invoking %s: %w", ft, err)
			break
		}
		args[i] = valueFor(v, pt)
	}
	unlock()
	if argErr != nil {
		return nil, argErr
	}
	if next < len(positional) {
		return nil, fmt.Errorf("di: invoking %s: %d positional argument(s) left unbound", ft, len(positional)-next)
	}

	out := fv.Call(args)
	return splitReturn(out)
}

func assignable(v interface{}, t reflect.Type) bool {
	if v == nil {
		switch t.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
			return true
		}
		return false
	}
	return reflect.TypeOf(v).AssignableTo(t)
}

func valueFor(v interface{}, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(v)
}

// splitReturn maps a call's return values onto (result, error)
func splitReturn(out []reflect.Value) (interface{}, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errType {
			if out[0].IsNil() {
				return nil, nil
			}
			return nil, out[0].Interface().(error)
		}
		return out[0].Interface(), nil
	default:
		last := out[len(out)-1]
		if last.Type() == errType && !last.IsNil() {
			return nil, last.Interface().(error)
		}
		return out[0].Interface(), nil
	}
}
