package engine

import (
	"maps"
	"strings"

	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/rowsource"
)

// ResolveEffectiveMapping follows the discriminator chain of rm for the current row of w.
// Discriminator columns are read under prefix. The walk stops when the value selects no
// registered result map, when the selected map has the same discriminator, or when a
// map is selected a second time.
func (h *Handler) ResolveEffectiveMapping(w *rowsource.Wrapper, rm *mapping.ResultMap, prefix string) (*mapping.ResultMap, error) {
	visited := make(map[string]struct{})
	d := rm.Discriminator
	for d != nil {
		value, err := h.discriminatorValue(w, rm, d, prefix)
		if err != nil {
			return nil, err
		}
		id, ok := d.MapIDFor(value)
		if !ok {
			break
		}
		next, ok := h.registry.Get(id)
		if !ok {
			break
		}
		rm = next
		last := d
		d = rm.Discriminator
		if sameDiscriminator(d, last) {
			break
		}
		if _, seen := visited[id]; seen {
			break
		}
		visited[id] = struct{}{}
	}
	return rm, nil
}

func (h *Handler) discriminatorValue(w *rowsource.Wrapper, rm *mapping.ResultMap, d *mapping.Discriminator, prefix string) (any, error) {
	column := prefix + d.Column
	c := d.Converter
	if c == nil {
		c = w.Converter(d.GoType, column, d.TypeCode)
	}
	value, err := w.Read(column, c)
	if err != nil {
		return nil, maperr.Conversion(rm.ID, column, "", err)
	}
	return value, nil
}

// sameDiscriminator reports whether a selected map repeats the discriminator that selected it.
func sameDiscriminator(a, b *mapping.Discriminator) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a == b || (strings.EqualFold(a.Column, b.Column) && maps.Equal(a.Cases, b.Cases))
}
