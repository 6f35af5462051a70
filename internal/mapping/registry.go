package mapping

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"resultmap/internal/maperr"
)

// Registry is an immutable set of validated result maps.
type Registry struct {
	maps map[string]*ResultMap
}

// NewRegistry validates and registers result maps. The registry keeps its own
// copies, so later changes to the arguments have no effect.
func NewRegistry(maps ...*ResultMap) (*Registry, error) {
	r := &Registry{maps: make(map[string]*ResultMap, len(maps))}
	var errs []error
	for _, m := range maps {
		if m == nil {
			continue
		}
		if m.ID == "" {
			errs = append(errs, maperr.Configuration("", "result map without id"))
			continue
		}
		if _, dup := r.maps[m.ID]; dup {
			errs = append(errs, maperr.Configuration(m.ID, "duplicate result map id"))
			continue
		}
		if m.Type == nil {
			errs = append(errs, maperr.Configuration(m.ID, "result map has no type"))
			continue
		}
		cp := *m
		cp.Bindings = cloneBindings(m.Bindings)
		if m.Discriminator != nil {
			d := *m.Discriminator
			d.Cases = make(map[string]string, len(m.Discriminator.Cases))
			for k, v := range m.Discriminator.Cases {
				d.Cases[k] = v
			}
			cp.Discriminator = &d
		}
		cp.resolve()
		r.maps[cp.ID] = &cp
	}

	for _, id := range r.IDs() {
		errs = append(errs, r.validate(r.maps[id])...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	r.propagateDiscriminatedNesting()
	return r, nil
}

func cloneBindings(in []Binding) []Binding {
	if in == nil {
		return nil
	}
	out := make([]Binding, len(in))
	for i, b := range in {
		b.NotNullColumns = slices.Clone(b.NotNullColumns)
		b.Composites = cloneBindings(b.Composites)
		out[i] = b
	}
	return out
}

func (r *Registry) validate(rm *ResultMap) []error {
	var errs []error
	resultSets := make(map[string]string)
	for i := range rm.Bindings {
		b := &rm.Bindings[i]
		if b.NestedResultMapID != "" && !r.Has(b.NestedResultMapID) {
			errs = append(errs, maperr.Configuration(rm.ID, "property %q refers to unknown result map %q", b.Property, b.NestedResultMapID))
		}
		if b.NestedResultMapID != "" && b.NestedQueryID != "" {
			errs = append(errs, maperr.Configuration(rm.ID, "property %q declares both a nested result map and a nested query", b.Property))
		}
		if b.Property == "" && !b.Constructor {
			errs = append(errs, maperr.Configuration(rm.ID, "binding for column %q has no property", b.Column))
		}
		if b.ResultSet != "" {
			if b.NestedResultMapID == "" {
				errs = append(errs, maperr.Configuration(rm.ID, "property %q reads result set %q without a result map", b.Property, b.ResultSet))
			}
			if b.Column == "" || b.ForeignColumn == "" {
				errs = append(errs, maperr.Configuration(rm.ID, "property %q reads result set %q without column and foreign column", b.Property, b.ResultSet))
			}
			if other, ok := resultSets[b.ResultSet]; ok && other != b.NestedResultMapID {
				errs = append(errs, maperr.Configuration(rm.ID, "result maps %q and %q are mapped to the same result set %q", other, b.NestedResultMapID, b.ResultSet))
			} else if !ok {
				resultSets[b.ResultSet] = b.NestedResultMapID
			}
		}
	}
	if d := rm.Discriminator; d != nil {
		if d.Column == "" {
			errs = append(errs, maperr.Configuration(rm.ID, "discriminator without column"))
		}
		for value, id := range d.Cases {
			if !r.Has(id) {
				errs = append(errs, maperr.Configuration(rm.ID, "discriminator case %q refers to unknown result map %q", value, id))
			}
		}
	}
	return errs
}

// propagateDiscriminatedNesting marks a result map as nested when any result map
// reachable through its discriminator cases is nested.
func (r *Registry) propagateDiscriminatedNesting() {
	for changed := true; changed; {
		changed = false
		for _, rm := range r.maps {
			if rm.hasNestedResultMaps || rm.Discriminator == nil {
				continue
			}
			for _, id := range rm.Discriminator.Cases {
				if r.maps[id].hasNestedResultMaps {
					rm.hasNestedResultMaps = true
					changed = true
					break
				}
			}
		}
	}
}

// Get returns the result map registered under id.
func (r *Registry) Get(id string) (*ResultMap, bool) {
	rm, ok := r.maps[id]
	return rm, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.maps[id]
	return ok
}

// Lookup returns the result map registered under id or a configuration error.
func (r *Registry) Lookup(id string) (*ResultMap, error) {
	rm, ok := r.maps[id]
	if !ok {
		return nil, maperr.Configuration(id, "result map is not registered")
	}
	return rm, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.maps))
	for id := range r.maps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) String() string {
	return fmt.Sprintf("mapping.Registry%v", r.IDs())
}
