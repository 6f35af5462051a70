package typeconv

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"resultmap/internal/sqltype"
)

func registerBuiltins(r *Registry) {
	r.Register(reflect.TypeFor[string](), sqltype.Unknown, ConverterFunc(toString))
	r.Register(reflect.TypeFor[bool](), sqltype.Unknown, ConverterFunc(toBool))
	r.Register(reflect.TypeFor[float64](), sqltype.Unknown, ConverterFunc(toFloat64))
	r.Register(reflect.TypeFor[float32](), sqltype.Unknown, ConverterFunc(toFloat32))
	r.Register(reflect.TypeFor[time.Time](), sqltype.Unknown, ConverterFunc(toTime))
	r.Register(reflect.TypeFor[[]byte](), sqltype.Unknown, ConverterFunc(toBytes))
	r.Register(reflect.TypeFor[json.RawMessage](), sqltype.Unknown, ConverterFunc(toRawJSON))
	r.Register(reflect.TypeFor[uuid.UUID](), sqltype.Unknown, ConverterFunc(toUUID))
	r.Register(reflect.TypeFor[decimal.Decimal](), sqltype.Unknown, ConverterFunc(toDecimal))

	r.Register(reflect.TypeFor[int](), sqltype.Unknown, signedConverter[int](strconv.IntSize))
	r.Register(reflect.TypeFor[int8](), sqltype.Unknown, signedConverter[int8](8))
	r.Register(reflect.TypeFor[int16](), sqltype.Unknown, signedConverter[int16](16))
	r.Register(reflect.TypeFor[int32](), sqltype.Unknown, signedConverter[int32](32))
	r.Register(reflect.TypeFor[int64](), sqltype.Unknown, signedConverter[int64](64))
	r.Register(reflect.TypeFor[uint](), sqltype.Unknown, unsignedConverter[uint](strconv.IntSize))
	r.Register(reflect.TypeFor[uint8](), sqltype.Unknown, unsignedConverter[uint8](8))
	r.Register(reflect.TypeFor[uint16](), sqltype.Unknown, unsignedConverter[uint16](16))
	r.Register(reflect.TypeFor[uint32](), sqltype.Unknown, unsignedConverter[uint32](32))
	r.Register(reflect.TypeFor[uint64](), sqltype.Unknown, unsignedConverter[uint64](64))

	anyType := reflect.TypeFor[any]()
	r.Register(anyType, sqltype.Unknown, ConverterFunc(toAny))
	r.Register(anyType, sqltype.Binary, ConverterFunc(passthrough))
}

// text returns the string form of driver text values.
func text(src any) (string, bool) {
	switch v := src.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case sql.RawBytes:
		return string(v), true
	}
	return "", false
}

func conversionError(src any, target string, err error) error {
	if err == nil {
		return fmt.Errorf("cannot convert %T to %s", src, target)
	}
	return fmt.Errorf("cannot convert %T to %s: %w", src, target, err)
}

func toString(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	if s, ok := text(src); ok {
		return s, nil
	}
	if t, ok := src.(time.Time); ok {
		return t.Format(time.RFC3339Nano), nil
	}
	s, err := cast.ToStringE(src)
	if err != nil {
		return nil, conversionError(src, "string", err)
	}
	return s, nil
}

func toAny(src any) (any, error) {
	if s, ok := text(src); ok {
		return s, nil
	}
	return src, nil
}

func toBool(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	if s, ok := text(src); ok {
		src = strings.TrimSpace(s)
	}
	b, err := cast.ToBoolE(src)
	if err != nil {
		return nil, conversionError(src, "bool", err)
	}
	return b, nil
}

func toFloat64(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	if s, ok := text(src); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, conversionError(src, "float64", err)
		}
		return f, nil
	}
	f, err := cast.ToFloat64E(src)
	if err != nil {
		return nil, conversionError(src, "float64", err)
	}
	return f, nil
}

func toFloat32(src any) (any, error) {
	v, err := toFloat64(src)
	if err != nil || v == nil {
		return nil, err
	}
	f := v.(float64)
	if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
		return nil, conversionError(src, "float32", fmt.Errorf("value %v overflows", f))
	}
	return float32(f), nil
}

type signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

type unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func signedConverter[T signed](bits int) Converter {
	name := reflect.TypeFor[T]().String()
	return ConverterFunc(func(src any) (any, error) {
		if src == nil {
			return nil, nil
		}
		var (
			n   int64
			err error
		)
		if s, ok := text(src); ok {
			n, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		} else if u, ok := src.(uint64); ok {
			if u > math.MaxInt64 {
				err = fmt.Errorf("value %d overflows", u)
			}
			n = int64(u)
		} else {
			n, err = cast.ToInt64E(src)
		}
		if err != nil {
			return nil, conversionError(src, name, err)
		}
		if bits < 64 {
			lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
			if n < lo || n > hi {
				return nil, conversionError(src, name, fmt.Errorf("value %d overflows", n))
			}
		}
		return T(n), nil
	})
}

func unsignedConverter[T unsigned](bits int) Converter {
	name := reflect.TypeFor[T]().String()
	return ConverterFunc(func(src any) (any, error) {
		if src == nil {
			return nil, nil
		}
		var (
			n   uint64
			err error
		)
		if s, ok := text(src); ok {
			n, err = strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		} else {
			n, err = cast.ToUint64E(src)
		}
		if err != nil {
			return nil, conversionError(src, name, err)
		}
		if bits < 64 && n > uint64(1)<<bits-1 {
			return nil, conversionError(src, name, fmt.Errorf("value %d overflows", n))
		}
		return T(n), nil
	})
}

func toTime(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	if t, ok := src.(time.Time); ok {
		return t, nil
	}
	if s, ok := text(src); ok {
		src = s
	}
	t, err := cast.ToTimeE(src)
	if err != nil {
		return nil, conversionError(src, "time.Time", err)
	}
	return t, nil
}

func toBytes(src any) (any, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte, sql.RawBytes:
		return passthrough(v)
	}
	return nil, conversionError(src, "[]byte", nil)
}

func toRawJSON(src any) (any, error) {
	b, err := toBytes(src)
	if err != nil || b == nil {
		return nil, err
	}
	raw := json.RawMessage(b.([]byte))
	if !json.Valid(raw) {
		return nil, conversionError(src, "json.RawMessage", fmt.Errorf("invalid JSON document"))
	}
	return raw, nil
}

func toUUID(src any) (any, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case []byte:
		if len(v) == 16 {
			id, err := uuid.FromBytes(v)
			if err != nil {
				return nil, conversionError(src, "uuid.UUID", err)
			}
			return id, nil
		}
	}
	s, ok := text(src)
	if !ok {
		return nil, conversionError(src, "uuid.UUID", nil)
	}
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, conversionError(src, "uuid.UUID", err)
	}
	return id, nil
}

func toDecimal(src any) (any, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	}
	s, ok := text(src)
	if !ok {
		var err error
		if s, err = cast.ToStringE(src); err != nil {
			return nil, conversionError(src, "decimal.Decimal", err)
		}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, conversionError(src, "decimal.Decimal", err)
	}
	return d, nil
}
