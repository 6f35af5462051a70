// Package lazy provides placeholders for values loaded on first access.
package lazy

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrNoLoader is returned when a pending value has no loader.
var ErrNoLoader = errors.New("lazy value has no loader")

// Deferrable is implemented by placeholders the mapping engine can install a loader into.
type Deferrable interface {
	// TargetType is the type of the loaded value.
	TargetType() reflect.Type
	// SetLoader installs the function producing the value. It has no effect
	// once the value is realized.
	SetLoader(load func() (any, error))
}

// Value is either realized or pending. A pending value runs its loader at most
// once, on the first Get; concurrent readers wait for that load.
type Value[T any] struct {
	mu     sync.Mutex
	once   *sync.Once
	load   func() (any, error)
	value  T
	err    error
	loaded bool
}

var _ Deferrable = (*Value[int])(nil)

// Realized returns a value that needs no loading.
func Realized[T any](v T) *Value[T] {
	return &Value[T]{value: v, loaded: true}
}

// Pending returns a value loaded by load on first access.
func Pending[T any](load func() (T, error)) *Value[T] {
	lv := &Value[T]{}
	lv.SetLoader(func() (any, error) { return load() })
	return lv
}

func (v *Value[T]) TargetType() reflect.Type {
	return reflect.TypeFor[T]()
}

func (v *Value[T]) SetLoader(load func() (any, error)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loaded {
		return
	}
	v.load = load
	v.once = new(sync.Once)
}

// Get returns the value, running the loader if it has not run yet.
func (v *Value[T]) Get() (T, error) {
	v.mu.Lock()
	once, load := v.once, v.load
	loaded := v.loaded
	v.mu.Unlock()
	if loaded {
		return v.result()
	}
	if once == nil {
		var zero T
		return zero, ErrNoLoader
	}
	once.Do(func() {
		raw, err := load()
		var out T
		if err == nil && raw != nil {
			var ok bool
			if out, ok = raw.(T); !ok {
				err = fmt.Errorf("lazy value: loader returned %T, want %s", raw, reflect.TypeFor[T]())
			}
		}
		v.mu.Lock()
		v.value, v.err, v.loaded = out, err, true
		v.load = nil
		v.mu.Unlock()
	})
	return v.result()
}

func (v *Value[T]) result() (T, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value, v.err
}

// IsLoaded reports whether the value is realized or its loader has run.
func (v *Value[T]) IsLoaded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loaded
}

// MustGet returns the value and panics on a load error.
func (v *Value[T]) MustGet() T {
	out, err := v.Get()
	if err != nil {
		panic(err)
	}
	return out
}
