// Package maperr defines the error kinds reported by the result mapping engine.
package maperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrConfiguration reports an invalid mapping or an unsupported combination of settings.
	ErrConfiguration = errors.New("mapping configuration error")
	// ErrInstantiation reports that no strategy could create a result object.
	ErrInstantiation = errors.New("result object instantiation error")
	// ErrConversion reports a column value that cannot be converted to its target type.
	ErrConversion = errors.New("value conversion error")
	// ErrUnknownColumn reports an unmapped column under the failing unknown-column policy.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrResource reports a failure of the underlying cursor.
	ErrResource = errors.New("row source error")
)

// Error carries the mapping context in which a failure happened.
type Error struct {
	Kind      error
	MappingID string
	Column    string
	Property  string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("mapping error")
	}
	var ctx []string
	if e.MappingID != "" {
		ctx = append(ctx, "mapping="+e.MappingID)
	}
	if e.Property != "" {
		ctx = append(ctx, "property="+e.Property)
	}
	if e.Column != "" {
		ctx = append(ctx, "column="+e.Column)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Configuration returns a configuration error for a mapping.
func Configuration(mappingID, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, MappingID: mappingID, Err: fmt.Errorf(format, args...)}
}

// Instantiation returns an instantiation error for a mapping.
func Instantiation(mappingID string, err error) error {
	return &Error{Kind: ErrInstantiation, MappingID: mappingID, Err: err}
}

// Conversion returns a conversion error for a column read into a property.
func Conversion(mappingID, column, property string, err error) error {
	return &Error{Kind: ErrConversion, MappingID: mappingID, Column: column, Property: property, Err: err}
}

// UnknownColumn returns an error for a column that matches no property.
func UnknownColumn(mappingID, column, property string) error {
	return &Error{Kind: ErrUnknownColumn, MappingID: mappingID, Column: column, Property: property}
}

// Resource wraps a cursor failure.
func Resource(err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) && errors.Is(err, ErrResource) {
		return err
	}
	return &Error{Kind: ErrResource, Err: err}
}
