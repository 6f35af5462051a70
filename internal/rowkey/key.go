// Package rowkey builds row identity keys.
//
// A key accumulates an ordered sequence of updates in a canonical byte encoding.
// Two keys are equal when they received the same number of updates and their
// encodings match. Keys that received fewer than two updates carry no identity
// and are replaced by Null, which never equals anything, itself included.
package rowkey

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
)

// Key is a row identity key.
type Key struct {
	count int
	buf   []byte
	null  bool
}

// Null is the key of rows that carry no identity.
var Null = &Key{null: true}

// New returns an empty key.
func New() *Key {
	return &Key{}
}

// Of returns a key updated with each value in order.
func Of(values ...any) *Key {
	k := New()
	for _, v := range values {
		k.Update(v)
	}
	return k
}

// Update appends one value to the key. Updating Null is a no-op.
func (k *Key) Update(v any) {
	if k == nil || k.null {
		return
	}
	k.count++
	k.buf = appendValue(k.buf, v)
}

// Count returns the number of updates.
func (k *Key) Count() int {
	if k == nil {
		return 0
	}
	return k.count
}

// IsNull reports whether k is the Null key.
func (k *Key) IsNull() bool {
	return k == nil || k.null
}

// Clone returns an independent copy of k.
func (k *Key) Clone() *Key {
	if k.IsNull() {
		return Null
	}
	return &Key{count: k.count, buf: bytes.Clone(k.buf)}
}

// Equal reports whether two keys identify the same row. Null equals nothing.
func (k *Key) Equal(other *Key) bool {
	if k.IsNull() || other.IsNull() {
		return false
	}
	return k.count == other.count && bytes.Equal(k.buf, other.buf)
}

// Hash returns the xxh3 hash of the canonical encoding.
func (k *Key) Hash() uint64 {
	if k.IsNull() {
		return 0
	}
	return xxh3.Hash(k.buf) ^ uint64(k.count)
}

// Canonical returns the canonical encoding as a string, usable as a map key.
func (k *Key) Canonical() string {
	if k.IsNull() {
		return ""
	}
	return strconv.Itoa(k.count) + ":" + string(k.buf)
}

func (k *Key) String() string {
	if k.IsNull() {
		return "rowkey.Null"
	}
	return fmt.Sprintf("rowkey(%d:%x)", k.count, k.Hash())
}

// Combine merges a row key with its parent key. The result is Null unless
// both keys carry more than one update.
func Combine(row, parent *Key) *Key {
	if row.Count() > 1 && parent.Count() > 1 && !row.IsNull() && !parent.IsNull() {
		combined := row.Clone()
		combined.Update(parent)
		return combined
	}
	return Null
}

// Value tags keep values of different kinds from colliding.
const (
	tagNil    = 'n'
	tagString = 's'
	tagBytes  = 'b'
	tagInt    = 'i'
	tagUint   = 'u'
	tagFloat  = 'f'
	tagBool   = 't'
	tagTime   = 'd'
	tagKey    = 'k'
	tagOther  = 'o'
)

func appendValue(buf []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(buf, tagNil)
	case *Key:
		if x.IsNull() {
			return append(buf, tagNil)
		}
		buf = append(buf, tagKey)
		buf = binary.AppendUvarint(buf, uint64(x.count))
		return appendBytes(buf, x.buf)
	case string:
		return appendBytes(append(buf, tagString), []byte(x))
	case []byte:
		return appendBytes(append(buf, tagBytes), x)
	case bool:
		if x {
			return append(buf, tagBool, 1)
		}
		return append(buf, tagBool, 0)
	case time.Time:
		return appendBytes(append(buf, tagTime), []byte(x.UTC().Format(time.RFC3339Nano)))
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return append(buf, tagNil)
		}
		return appendBytes(append(buf, tagOther), []byte(fmt.Sprintf("%T:%s", v, x.String())))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return binary.AppendVarint(append(buf, tagInt), rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return binary.AppendUvarint(append(buf, tagUint), rv.Uint())
	case reflect.Float32, reflect.Float64:
		return binary.BigEndian.AppendUint64(append(buf, tagFloat), math.Float64bits(rv.Float()))
	case reflect.String:
		return appendBytes(append(buf, tagString), []byte(rv.String()))
	case reflect.Bool:
		return appendValue(buf, rv.Bool())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return append(buf, tagNil)
		}
		return appendValue(buf, rv.Elem().Interface())
	}
	return appendBytes(append(buf, tagOther), []byte(fmt.Sprintf("%T:%v", v, v)))
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}
