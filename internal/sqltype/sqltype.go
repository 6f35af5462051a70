// Package sqltype maps database column type names to the type codes used to select value converters.
// The same codes are used for cursor columns and for explicit binding declarations.
package sqltype

import "strings"

// Code represents the category of a column's database type.
type Code int

const (
	// Unknown is the code of columns whose type name is not recognized.
	Unknown Code = iota
	// Integer represents integer numeric types.
	Integer
	// Float represents floating-point types.
	Float
	// Decimal represents fixed-point numeric types.
	Decimal
	// Boolean represents boolean types.
	Boolean
	// String represents character types, including enums and sets.
	String
	// Binary represents byte-oriented types.
	Binary
	// Temporal represents date and time types.
	Temporal
	// JSON represents JSON document types.
	JSON
	// UUID represents native UUID types.
	UUID
)

// FromDatabaseType converts a driver-reported type name to its code.
// The input is case-insensitive. Size specifiers like (10,2) or (255) and the
// UNSIGNED modifier are stripped before matching. MySQL and PostgreSQL names are recognized.
func FromDatabaseType(name string) Code {
	if idx := strings.Index(name, "("); idx != -1 {
		name = name[:idx]
	}
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "UNSIGNED ")
	name = strings.TrimSuffix(name, " UNSIGNED")
	name = strings.TrimPrefix(name, "_")
	switch name {
	// Integer Numeric Data Types
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT",
		"INTEGER", "BIGINT", "SERIAL", "BIGSERIAL", "BIT",
		"INT2", "INT4", "INT8", "YEAR":
		return Integer
	// Floating Point Numeric Data Types
	case "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8", "DOUBLE PRECISION":
		return Float
	// Fixed-Point Numeric Data Types
	case "DECIMAL", "NUMERIC", "MONEY":
		return Decimal
	case "BOOL", "BOOLEAN":
		return Boolean
	case "JSON", "JSONB":
		return JSON
	case "UUID":
		return UUID
	case "CHAR", "VARCHAR", "TINYTEXT", "TEXT",
		"MEDIUMTEXT", "LONGTEXT", "ENUM", "SET",
		"BPCHAR", "NAME", "CHARACTER VARYING", "CITEXT":
		return String
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB",
		"BINARY", "VARBINARY", "BYTEA", "GEOMETRY":
		return Binary
	case "DATE", "DATETIME", "TIMESTAMP", "TIME",
		"TIMESTAMPTZ", "TIMETZ", "INTERVAL":
		return Temporal
	default:
		return Unknown
	}
}

// String returns the code name used in logs and configuration.
func (c Code) String() string {
	switch c {
	case Integer:
		return "INTEGER"
	case Float:
		return "FLOAT"
	case Decimal:
		return "DECIMAL"
	case Boolean:
		return "BOOLEAN"
	case String:
		return "STRING"
	case Binary:
		return "BINARY"
	case Temporal:
		return "TEMPORAL"
	case JSON:
		return "JSON"
	case UUID:
		return "UUID"
	default:
		return "UNKNOWN"
	}
}

// Parse converts a code name back to a Code. Unrecognized names return Unknown.
func Parse(name string) Code {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "INTEGER":
		return Integer
	case "FLOAT":
		return Float
	case "DECIMAL":
		return Decimal
	case "BOOLEAN":
		return Boolean
	case "STRING":
		return String
	case "BINARY":
		return Binary
	case "TEMPORAL":
		return Temporal
	case "JSON":
		return JSON
	case "UUID":
		return UUID
	default:
		return FromDatabaseType(name)
	}
}
