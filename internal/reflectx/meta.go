package reflectx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrNoProperty reports access to a property the object does not have.
var ErrNoProperty = errors.New("no such property")

// Meta gives property access to one object. The object must be a non-nil
// pointer to a struct or a map with string keys.
type Meta struct {
	obj  any
	v    reflect.Value
	info *structInfo
}

// Of wraps obj for property access.
func Of(obj any) (*Meta, error) {
	v := reflect.ValueOf(obj)
	switch {
	case v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Kind() == reflect.Struct:
		return &Meta{obj: obj, v: v.Elem(), info: structInfoFor(v.Elem().Type())}, nil
	case v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String && !v.IsNil():
		return &Meta{obj: obj, v: v}, nil
	}
	return nil, fmt.Errorf("cannot access properties of %T", obj)
}

// Object returns the wrapped object.
func (m *Meta) Object() any {
	return m.obj
}

// Type returns the type of the wrapped object.
func (m *Meta) Type() reflect.Type {
	return reflect.TypeOf(m.obj)
}

// IsMap reports whether the wrapped object is a map.
func (m *Meta) IsMap() bool {
	return m.info == nil
}

// FindProperty resolves name to a property name, ignoring case and, when
// ignoreUnderscores is set, underscores. Dotted paths resolve segment by segment.
// Map objects accept any name unchanged.
func (m *Meta) FindProperty(name string, ignoreUnderscores bool) (string, bool) {
	if m.IsMap() {
		return name, name != ""
	}
	head, rest, nested := strings.Cut(name, ".")
	prop, ok := m.info.find(head, ignoreUnderscores)
	if !ok || !nested {
		return prop, ok
	}
	t := m.info.fields[prop].typ
	child, ok := findInType(t, rest, ignoreUnderscores)
	if !ok {
		return "", false
	}
	return prop + "." + child, true
}

func findInType(t reflect.Type, name string, ignoreUnderscores bool) (string, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t.Kind() == reflect.Map && t.Key().Kind() == reflect.String:
		return name, name != ""
	case t.Kind() != reflect.Struct:
		return "", false
	}
	info := structInfoFor(t)
	head, rest, nested := strings.Cut(name, ".")
	prop, ok := info.find(head, ignoreUnderscores)
	if !ok || !nested {
		return prop, ok
	}
	child, ok := findInType(info.fields[prop].typ, rest, ignoreUnderscores)
	if !ok {
		return "", false
	}
	return prop + "." + child, true
}

// HasSetter reports whether the property can be assigned.
func (m *Meta) HasSetter(name string) bool {
	_, ok := m.SetterType(name)
	return ok
}

// SetterType returns the declared type of a property. Map properties have the map's element type.
func (m *Meta) SetterType(name string) (reflect.Type, bool) {
	if m.IsMap() {
		return m.v.Type().Elem(), true
	}
	t := m.v.Type()
	for _, seg := range strings.Split(name, ".") {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		switch {
		case t.Kind() == reflect.Map && t.Key().Kind() == reflect.String:
			t = t.Elem()
		case t.Kind() == reflect.Struct:
			fd, ok := structInfoFor(t).fields[seg]
			if !ok {
				return nil, false
			}
			t = fd.typ
		default:
			return nil, false
		}
	}
	return t, true
}

// Get returns the value of a property. Unset map keys read as nil.
func (m *Meta) Get(name string) (any, error) {
	v, err := m.lookup(name, false)
	if err != nil {
		return nil, err
	}
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

// Set assigns a property. Intermediate nil pointers and maps on a dotted path are
// allocated. A nil value assigns the property's zero value.
func (m *Meta) Set(name string, value any) error {
	head, last := splitLast(name)
	target := m.v
	if head != "" {
		v, err := m.lookup(head, true)
		if err != nil {
			return err
		}
		target = v
	}
	return setOn(target, last, value)
}

// IsCollection reports whether the property holds a slice of objects.
func (m *Meta) IsCollection(name string) bool {
	t, ok := m.SetterType(name)
	return ok && IsCollectionType(t)
}

// Append adds elem to a slice property, allocating the slice when it is nil.
func (m *Meta) Append(name string, elem any) error {
	cur, err := m.Get(name)
	if err != nil {
		return err
	}
	sv := reflect.ValueOf(cur)
	if !sv.IsValid() || sv.Kind() != reflect.Slice {
		return fmt.Errorf("property %q of %s is not a collection", name, m.Type())
	}
	ev, err := assignable(reflect.ValueOf(elem), sv.Type().Elem())
	if err != nil {
		return fmt.Errorf("cannot add to %q: %w", name, err)
	}
	return m.Set(name, reflect.Append(sv, ev).Interface())
}

func splitLast(name string) (string, string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// lookup walks a dotted path and returns the value it reaches. When create is
// set, nil pointers and maps along the way are allocated.
func (m *Meta) lookup(name string, create bool) (reflect.Value, error) {
	v := m.v
	for _, seg := range strings.Split(name, ".") {
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				if !create || v.Kind() == reflect.Interface || !v.CanSet() {
					return reflect.Value{}, nil
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		switch {
		case v.Kind() == reflect.Map:
			if v.IsNil() {
				if !create || !v.CanSet() {
					return reflect.Value{}, nil
				}
				v.Set(reflect.MakeMap(v.Type()))
			}
			next := v.MapIndex(reflect.ValueOf(seg).Convert(v.Type().Key()))
			if !next.IsValid() {
				if !create {
					return reflect.Value{}, nil
				}
				next = reflect.ValueOf(map[string]any{})
				v.SetMapIndex(reflect.ValueOf(seg).Convert(v.Type().Key()), next)
			}
			// Map values are not addressable; nested maps share storage.
			if next.Kind() == reflect.Interface {
				next = next.Elem()
			}
			v = next
		case v.Kind() == reflect.Struct:
			fd, ok := structInfoFor(v.Type()).fields[seg]
			if !ok {
				return reflect.Value{}, fmt.Errorf("%w %q on %s", ErrNoProperty, seg, v.Type())
			}
			v = v.FieldByIndex(fd.index)
		default:
			return reflect.Value{}, fmt.Errorf("%w %q on %s", ErrNoProperty, seg, v.Type())
		}
	}
	if create && v.CanSet() {
		switch {
		case v.Kind() == reflect.Pointer && v.IsNil():
			v.Set(reflect.New(v.Type().Elem()))
		case v.Kind() == reflect.Map && v.IsNil():
			v.Set(reflect.MakeMap(v.Type()))
		}
	}
	return v, nil
}

func setOn(target reflect.Value, prop string, value any) error {
	for target.Kind() == reflect.Pointer || target.Kind() == reflect.Interface {
		if target.IsNil() {
			return fmt.Errorf("cannot set %q on nil %s", prop, target.Type())
		}
		target = target.Elem()
	}
	switch target.Kind() {
	case reflect.Map:
		key := reflect.ValueOf(prop).Convert(target.Type().Key())
		if value == nil {
			target.SetMapIndex(key, reflect.Zero(target.Type().Elem()))
			return nil
		}
		v, err := assignable(reflect.ValueOf(value), target.Type().Elem())
		if err != nil {
			return fmt.Errorf("cannot set %q: %w", prop, err)
		}
		target.SetMapIndex(key, v)
		return nil
	case reflect.Struct:
		fd, ok := structInfoFor(target.Type()).fields[prop]
		if !ok {
			return fmt.Errorf("%w %q on %s", ErrNoProperty, prop, target.Type())
		}
		f := target.FieldByIndex(fd.index)
		if !f.CanSet() {
			return fmt.Errorf("property %q on %s is not settable", prop, target.Type())
		}
		if value == nil {
			f.Set(reflect.Zero(f.Type()))
			return nil
		}
		v, err := assignable(reflect.ValueOf(value), f.Type())
		if err != nil {
			return fmt.Errorf("cannot set %q: %w", prop, err)
		}
		f.Set(v)
		return nil
	}
	return fmt.Errorf("%w %q on %s", ErrNoProperty, prop, target.Type())
}

// assignable adapts v to t: direct assignment, pointer dereference, taking a
// pointer to a copy, or a numeric conversion.
func assignable(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	switch {
	case !v.IsValid():
		return reflect.Zero(t), nil
	case v.Type().AssignableTo(t):
		return v, nil
	case v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Type().AssignableTo(t):
		return v.Elem(), nil
	case t.Kind() == reflect.Pointer && v.Type().AssignableTo(t.Elem()):
		p := reflect.New(t.Elem())
		p.Elem().Set(v)
		return p, nil
	case isNumeric(v.Kind()) && isNumeric(t.Kind()) && v.Type().ConvertibleTo(t):
		return v.Convert(t), nil
	case v.Kind() == t.Kind() && v.Type().ConvertibleTo(t):
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), t)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// IsCollectionType reports whether t is a slice other than a byte slice.
func IsCollectionType(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8
}

// FindPropertyIn resolves name against the properties of type t the way
// Meta.FindProperty does, without an instance.
func FindPropertyIn(t reflect.Type, name string, ignoreUnderscores bool) (string, bool) {
	if t == nil {
		return "", false
	}
	if t.Kind() == reflect.Interface {
		return name, name != ""
	}
	return findInType(t, name, ignoreUnderscores)
}

// PropertyType returns the declared type of a property of type t. Map types
// report their element type; the empty interface reports itself.
func PropertyType(t reflect.Type, name string) (reflect.Type, bool) {
	for _, seg := range strings.Split(name, ".") {
		if t == nil {
			return nil, false
		}
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		switch {
		case t.Kind() == reflect.Interface:
			return t, true
		case t.Kind() == reflect.Map && t.Key().Kind() == reflect.String:
			t = t.Elem()
		case t.Kind() == reflect.Struct:
			fd, ok := structInfoFor(t).fields[seg]
			if !ok {
				return nil, false
			}
			t = fd.typ
		default:
			return nil, false
		}
	}
	return t, true
}

// Convert adapts v to t using the same rules as property assignment. A nil v
// yields the zero value of t.
func Convert(v any, t reflect.Type) (reflect.Value, error) {
	return assignable(reflect.ValueOf(v), t)
}
