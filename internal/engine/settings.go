package engine

import (
	"fmt"
	"strings"
)

// AutoMappingBehavior controls which result maps receive automatic mapping of unmapped columns.
type AutoMappingBehavior int

const (
	// AutoMappingNone disables automatic mapping.
	AutoMappingNone AutoMappingBehavior = iota
	// AutoMappingPartial maps unmapped columns of result maps without nested result maps.
	AutoMappingPartial
	// AutoMappingFull maps unmapped columns of every result map.
	AutoMappingFull
)

func (b AutoMappingBehavior) String() string {
	switch b {
	case AutoMappingNone:
		return "none"
	case AutoMappingPartial:
		return "partial"
	case AutoMappingFull:
		return "full"
	}
	return fmt.Sprintf("AutoMappingBehavior(%d)", int(b))
}

// ParseAutoMappingBehavior parses none, partial or full. The empty string is partial.
func ParseAutoMappingBehavior(s string) (AutoMappingBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return AutoMappingNone, nil
	case "", "partial":
		return AutoMappingPartial, nil
	case "full":
		return AutoMappingFull, nil
	}
	return AutoMappingPartial, fmt.Errorf("invalid auto mapping behavior %q (must be none, partial or full)", s)
}

// UnknownColumnBehavior controls what happens to an unmapped column that matches no property.
type UnknownColumnBehavior int

const (
	// UnknownColumnNone ignores the column.
	UnknownColumnNone UnknownColumnBehavior = iota
	// UnknownColumnWarning logs the column and continues.
	UnknownColumnWarning
	// UnknownColumnFailing aborts the pass with maperr.ErrUnknownColumn.
	UnknownColumnFailing
)

func (b UnknownColumnBehavior) String() string {
	switch b {
	case UnknownColumnNone:
		return "none"
	case UnknownColumnWarning:
		return "warning"
	case UnknownColumnFailing:
		return "failing"
	}
	return fmt.Sprintf("UnknownColumnBehavior(%d)", int(b))
}

// ParseUnknownColumnBehavior parses none, warning or failing. The empty string is none.
func ParseUnknownColumnBehavior(s string) (UnknownColumnBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return UnknownColumnNone, nil
	case "warning":
		return UnknownColumnWarning, nil
	case "failing":
		return UnknownColumnFailing, nil
	}
	return UnknownColumnNone, fmt.Errorf("invalid unknown column behavior %q (must be none, warning or failing)", s)
}

// Settings are the engine-wide mapping options.
type Settings struct {
	AutoMapping              AutoMappingBehavior
	UnknownColumns           UnknownColumnBehavior
	MapUnderscoreToCamelCase bool
	// CallSettersOnNulls assigns nil to nillable properties whose column is null.
	CallSettersOnNulls bool
	// ReturnInstanceForEmptyRow keeps objects for rows whose columns are all null.
	ReturnInstanceForEmptyRow bool
	LazyLoadingEnabled        bool
	// SafeRowBoundsEnabled rejects row bounds on statements with nested result maps.
	SafeRowBoundsEnabled bool
	// SafeResultHandlerEnabled rejects consumers of unordered nested results unless
	// they implement PartialResultTolerant.
	SafeResultHandlerEnabled bool
	WarnDegenerateKeys       bool
}

// DefaultSettings returns the settings used when none are supplied.
func DefaultSettings() Settings {
	return Settings{
		AutoMapping:              AutoMappingPartial,
		UnknownColumns:           UnknownColumnNone,
		SafeResultHandlerEnabled: true,
		WarnDegenerateKeys:       true,
	}
}
