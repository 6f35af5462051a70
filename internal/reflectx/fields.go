// Package reflectx provides reflective property access and object construction
// for mapped result types.
//
// Struct properties are exported fields, addressed by field name or by their `db`
// tag. Fields of anonymous embedded structs are promoted. Maps with string keys
// expose every key as a property.
package reflectx

import (
	"reflect"
	"strings"
	"sync"

	"resultmap/internal/naming"
)

// structInfo is an instance-agnostic description of a struct's properties.
type structInfo struct {
	names  []string
	fields map[string]field
	// folded maps upper-case names to property names, and folded names
	// without underscores to property names.
	folded     map[string]string
	underscore map[string]string
}

type field struct {
	index []int
	typ   reflect.Type
}

var (
	structCache     = make(map[reflect.Type]*structInfo)
	structCacheLock sync.RWMutex
)

// structInfoFor looks up, and if necessary populates, the cache entry for t.
func structInfoFor(t reflect.Type) *structInfo {
	structCacheLock.RLock()
	info, ok := structCache[t]
	structCacheLock.RUnlock()
	if ok {
		return info
	}

	structCacheLock.Lock()
	defer structCacheLock.Unlock()
	if info, ok = structCache[t]; ok {
		return info
	}
	info = &structInfo{
		fields:     make(map[string]field),
		folded:     make(map[string]string),
		underscore: make(map[string]string),
	}
	collectFields(info, t, nil, make(map[reflect.Type]bool))
	structCache[t] = info
	return info
}

func collectFields(info *structInfo, t reflect.Type, path []int, visiting map[reflect.Type]bool) {
	if visiting[t] {
		return
	}
	visiting[t] = true
	defer delete(visiting, t)

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(path[:len(path):len(path)], i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectFields(info, f.Type, index, visiting)
			continue
		}
		if !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("db"), ",")[0]
		if tag == "-" {
			continue
		}
		// Shallower fields shadow promoted ones.
		if existing, exists := info.fields[f.Name]; exists && len(existing.index) <= len(index) {
			continue
		}
		fd := field{index: index, typ: f.Type}
		info.add(f.Name, f.Name, fd)
		if tag != "" && tag != f.Name {
			info.add(tag, f.Name, fd)
		}
	}
}

func (s *structInfo) add(alias, property string, fd field) {
	if _, exists := s.fields[alias]; !exists && alias == property {
		s.names = append(s.names, property)
	}
	s.fields[alias] = fd
	if _, ok := s.folded[naming.Fold(alias, false)]; !ok {
		s.folded[naming.Fold(alias, false)] = property
	}
	if _, ok := s.underscore[naming.Fold(alias, true)]; !ok {
		s.underscore[naming.Fold(alias, true)] = property
	}
}

func (s *structInfo) find(name string, ignoreUnderscores bool) (string, bool) {
	if _, ok := s.fields[name]; ok {
		return s.canonical(name), true
	}
	if p, ok := s.folded[naming.Fold(name, false)]; ok {
		return p, true
	}
	if ignoreUnderscores {
		if p, ok := s.underscore[naming.Fold(name, true)]; ok {
			return p, true
		}
	}
	return "", false
}

// canonical maps a tag alias to its field name.
func (s *structInfo) canonical(alias string) string {
	fd := s.fields[alias]
	for _, n := range s.names {
		if equalIndex(s.fields[n].index, fd.index) {
			return n
		}
	}
	return alias
}

func equalIndex(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
