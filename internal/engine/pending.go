package engine

import (
	"strings"

	"github.com/spf13/cast"

	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/reflectx"
	"resultmap/internal/rowkey"
	"resultmap/internal/rowsource"
)

// pendingRelation is a parent waiting for rows of a secondary result set.
type pendingRelation struct {
	rm      *mapping.ResultMap
	meta    *reflectx.Meta
	binding *mapping.Binding
}

// addPendingChildRelation registers meta's object as the parent of the rows of
// b.ResultSet whose foreign columns match b.Column in the current row.
func (h *Handler) addPendingChildRelation(w *rowsource.Wrapper, rm *mapping.ResultMap, meta *reflectx.Meta, b *mapping.Binding) error {
	if previous, ok := h.nextResultMaps[b.ResultSet]; ok && previous.NestedResultMapID != b.NestedResultMapID {
		return maperr.Configuration(rm.ID, "result maps %q and %q are mapped to the same result set %q",
			previous.NestedResultMapID, b.NestedResultMapID, b.ResultSet)
	} else if !ok {
		h.nextResultMaps[b.ResultSet] = b
	}
	h.addResultSetLink(b)

	key, ok := createKeyForMultipleResults(w, b, b.Column, b.Column)
	if !ok {
		return nil
	}
	relations, _ := h.pending.Get(key)
	h.pending.Put(key, append(relations, &pendingRelation{rm: rm, meta: meta, binding: b}))
	return nil
}

// addResultSetLink remembers each distinct column pair linking parents to b.ResultSet.
func (h *Handler) addResultSetLink(b *mapping.Binding) {
	for _, link := range h.resultSetLinks[b.ResultSet] {
		if strings.EqualFold(link.Column, b.Column) && strings.EqualFold(link.ForeignColumn, b.ForeignColumn) {
			return
		}
	}
	h.resultSetLinks[b.ResultSet] = append(h.resultSetLinks[b.ResultSet], b)
}

// linkToParents attaches rowValue, built from a row of a secondary result set, to every
// parent registered under one of the row's foreign keys.
func (h *Handler) linkToParents(w *rowsource.Wrapper, parent *mapping.Binding, rowValue any) error {
	if rowValue == nil {
		return nil
	}
	linked := 0
	for _, link := range h.resultSetLinks[parent.ResultSet] {
		key, ok := createKeyForMultipleResults(w, link, link.Column, link.ForeignColumn)
		if !ok {
			continue
		}
		relations, _ := h.pending.Get(key)
		for _, rel := range relations {
			if err := h.linkObjects(rel.rm, rel.meta, rel.binding, rowValue); err != nil {
				return err
			}
		}
		linked += len(relations)
	}
	h.metrics.RecordRelationsLinked(h.ctx, parent.ResultSet, int64(linked))
	return nil
}

// createKeyForMultipleResults keys a relation by result set, foreign columns and the
// values of columns, named after names so that parent and child rows produce equal
// keys. The boolean is false when every column is null.
func createKeyForMultipleResults(w *rowsource.Wrapper, b *mapping.Binding, names, columns string) (*rowkey.Key, bool) {
	key := rowkey.New()
	key.Update(b.ResultSet)
	key.Update(strings.ToUpper(b.ForeignColumn))
	nameList := strings.Split(names, ",")
	columnList := strings.Split(columns, ",")
	contributed := false
	for i, name := range nameList {
		if i >= len(columnList) {
			break
		}
		v, ok := w.Raw(strings.TrimSpace(columnList[i]))
		if !ok || v == nil {
			continue
		}
		key.Update(strings.ToUpper(strings.TrimSpace(name)))
		key.Update(relationValue(v))
		contributed = true
	}
	return key, contributed
}

// relationValue renders linking values as text so that parent and child columns of
// different integer widths or text encodings still match.
func relationValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return cast.ToString(v)
}
