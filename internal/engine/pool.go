package engine

import "resultmap/internal/rowkey"

type keyedEntry[V any] struct {
	key   *rowkey.Key
	value V
}

// keyedTable maps row keys to values. Null keys are never stored or found.
type keyedTable[V any] struct {
	buckets map[uint64][]keyedEntry[V]
	size    int
}

func newKeyedTable[V any]() *keyedTable[V] {
	return &keyedTable[V]{buckets: make(map[uint64][]keyedEntry[V])}
}

func (t *keyedTable[V]) Get(key *rowkey.Key) (V, bool) {
	var zero V
	if key == nil || key.IsNull() {
		return zero, false
	}
	for _, e := range t.buckets[key.Hash()] {
		if e.key.Equal(key) {
			return e.value, true
		}
	}
	return zero, false
}

func (t *keyedTable[V]) Put(key *rowkey.Key, value V) {
	if key == nil || key.IsNull() {
		return
	}
	h := key.Hash()
	bucket := t.buckets[h]
	for i := range bucket {
		if bucket[i].key.Equal(key) {
			bucket[i].value = value
			return
		}
	}
	t.buckets[h] = append(bucket, keyedEntry[V]{key: key, value: value})
	t.size++
}

func (t *keyedTable[V]) Len() int {
	return t.size
}

func (t *keyedTable[V]) Clear() {
	clear(t.buckets)
	t.size = 0
}
