package user

import (
	"bytes"
	"encoding/base64"
)

// AttributeValue holds a single attribute value read from a source record.
// It is either text or raw binary data. Two values are equal when their
// bytes are equal, regardless of which form they were read in.
type AttributeValue struct {
	data   []byte
	binary bool
}

// Text creates a textual attribute value.
func Text(s string) AttributeValue {
	return AttributeValue{data: []byte(s)}
}

// Binary creates a binary attribute value. The slice is copied.
func Binary(b []byte) AttributeValue {
	return AttributeValue{data: bytes.Clone(b), binary: true}
}

// Bytes returns a copy of the raw bytes of the value.
func (v AttributeValue) Bytes() []byte {
	return bytes.Clone(v.data)
}

// IsBinary reports whether the value was read in binary form.
func (v AttributeValue) IsBinary() bool {
	return v.binary
}

// IsEmpty reports whether the value carries no bytes.
func (v AttributeValue) IsEmpty() bool {
	return len(v.data) == 0
}

// Equal compares two values byte for byte.
func (v AttributeValue) Equal(other AttributeValue) bool {
	return bytes.Equal(v.data, other.data)
}

// String renders text values as-is and binary values as standard base64.
func (v AttributeValue) String() string {
	if v.binary {
		return base64.StdEncoding.EncodeToString(v.data)
	}
	return string(v.data)
}

// OptionalEqual compares two optional values. Two absent values are equal.
func OptionalEqual(a, b *AttributeValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
