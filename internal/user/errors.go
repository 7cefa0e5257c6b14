package user

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAttribute is returned when a required attribute has no value.
	ErrMissingAttribute = errors.New("missing attribute")

	// ErrInvalidStatus is returned when the status attribute is not a 32-bit integer.
	ErrInvalidStatus = errors.New("invalid status value")
)

// AttributeError describes a failure to read an attribute from a record.
type AttributeError struct {
	Attribute string
	Record    string
	Err       error
}

func (e *AttributeError) Error() string {
	if errors.Is(e.Err, ErrMissingAttribute) {
		return fmt.Sprintf("missing `%s` values for `%s`", e.Attribute, e.Record)
	}
	return fmt.Sprintf("attribute `%s` of `%s`: %v", e.Attribute, e.Record, e.Err)
}

func (e *AttributeError) Unwrap() error {
	return e.Err
}

// IsMissingAttribute reports whether err was caused by an absent attribute.
func IsMissingAttribute(err error) bool {
	return errors.Is(err, ErrMissingAttribute)
}
