package reflectx

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ObjectFactory creates result objects.
type ObjectFactory interface {
	// Create builds an object without arguments. Structs are returned as pointers.
	Create(t reflect.Type) (any, error)
	// HasDefaultConstructor reports whether Create can build t.
	HasDefaultConstructor(t reflect.Type) bool
	// Constructors returns the registered constructors for t in registration order.
	Constructors(t reflect.Type) []Constructor
	// IsCollection reports whether t holds a collection of objects.
	IsCollection(t reflect.Type) bool
}

// Constructor builds an object from positional arguments.
type Constructor struct {
	fn        reflect.Value
	params    []reflect.Type
	returnErr bool
}

// Params returns the parameter types.
func (c Constructor) Params() []reflect.Type {
	return c.params
}

// Call invokes the constructor. Nil arguments pass the parameter's zero value.
func (c Constructor) Call(args []any) (any, error) {
	if len(args) != len(c.params) {
		return nil, fmt.Errorf("constructor takes %d arguments, got %d", len(c.params), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		v, err := assignable(reflect.ValueOf(a), c.params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v
	}
	out := c.fn.Call(in)
	if c.returnErr && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return asObject(out[0]), nil
}

// asObject returns structs by pointer so that later property assignment reaches them.
func asObject(v reflect.Value) any {
	if v.Kind() == reflect.Struct {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p.Interface()
	}
	return v.Interface()
}

var (
	errorType = reflect.TypeFor[error]()
	anyType   = reflect.TypeFor[any]()
)

// DefaultFactory creates structs, maps and slices by reflection. Interfaces are
// created through registered implementations; the empty interface becomes
// map[string]any. A type with registered constructors has no default constructor.
type DefaultFactory struct {
	mu              sync.RWMutex
	constructors    map[reflect.Type][]Constructor
	implementations map[reflect.Type]reflect.Type
}

// NewDefaultFactory returns an empty factory.
func NewDefaultFactory() *DefaultFactory {
	return &DefaultFactory{
		constructors:    make(map[reflect.Type][]Constructor),
		implementations: make(map[reflect.Type]reflect.Type),
	}
}

// RegisterConstructor registers fn, a function returning T or (T, error), as a
// constructor of T. Constructors of *S are also registered for S.
func (f *DefaultFactory) RegisterConstructor(fn any) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("constructor must be a function, got %T", fn)
	}
	t := v.Type()
	returnErr := t.NumOut() == 2 && t.Out(1) == errorType
	if t.NumOut() != 1 && !returnErr {
		return errors.New("constructor must return T or (T, error)")
	}
	if t.IsVariadic() {
		return errors.New("constructor must not be variadic")
	}
	c := Constructor{fn: v, returnErr: returnErr}
	for i := 0; i < t.NumIn(); i++ {
		c.params = append(c.params, t.In(i))
	}
	key := indirect(t.Out(0))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[key] = append(f.constructors[key], c)
	return nil
}

// RegisterImplementation makes Create build impl when asked for iface.
func (f *DefaultFactory) RegisterImplementation(iface, impl reflect.Type) error {
	if iface.Kind() != reflect.Interface {
		return fmt.Errorf("%s is not an interface", iface)
	}
	if !impl.Implements(iface) && !reflect.PointerTo(impl).Implements(iface) {
		return fmt.Errorf("%s does not implement %s", impl, iface)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.implementations[iface] = impl
	return nil
}

func (f *DefaultFactory) Constructors(t reflect.Type) []Constructor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.constructors[indirect(t)]
}

func (f *DefaultFactory) HasDefaultConstructor(t reflect.Type) bool {
	if len(f.Constructors(t)) > 0 {
		return false
	}
	switch t = indirect(t); t.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice:
		return true
	case reflect.Interface:
		if t == anyType {
			return true
		}
		f.mu.RLock()
		_, ok := f.implementations[t]
		f.mu.RUnlock()
		return ok
	}
	return false
}

func (f *DefaultFactory) Create(t reflect.Type) (any, error) {
	if !f.HasDefaultConstructor(t) {
		return nil, fmt.Errorf("%s has no default constructor", t)
	}
	switch t = indirect(t); t.Kind() {
	case reflect.Struct:
		return reflect.New(t).Interface(), nil
	case reflect.Map:
		return reflect.MakeMap(t).Interface(), nil
	case reflect.Slice:
		return reflect.MakeSlice(t, 0, 0).Interface(), nil
	case reflect.Interface:
		if t == anyType {
			return map[string]any{}, nil
		}
		f.mu.RLock()
		impl := f.implementations[t]
		f.mu.RUnlock()
		return f.Create(impl)
	}
	return nil, fmt.Errorf("cannot create %s", t)
}

func (f *DefaultFactory) IsCollection(t reflect.Type) bool {
	return IsCollectionType(t)
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
