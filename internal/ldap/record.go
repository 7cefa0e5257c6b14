package ldap

import (
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-sync/internal/user"
)

// EntryRecord exposes a search entry as a user.Record.
//
// Attribute names match case-insensitively. An attribute is text when every
// value is valid UTF-8 and binary otherwise. Attributes with a guid or sid
// format are rendered to their canonical string and are always text.
type EntryRecord struct {
	entry   *ldap.Entry
	formats map[string]string
}

// NewEntryRecord wraps entry. formats maps attribute names to their
// user.Format* rendering, as returned by user.AttributeMap.Formats.
func NewEntryRecord(entry *ldap.Entry, formats map[string]string) *EntryRecord {
	return &EntryRecord{entry: entry, formats: formats}
}

// Identifier returns the entry DN.
func (r *EntryRecord) Identifier() string {
	return r.entry.DN
}

// Text returns the first value of name when it is textual.
func (r *EntryRecord) Text(name string) (string, bool) {
	raw, ok := r.first(name)
	if !ok {
		return "", false
	}

	if format, ok := r.formats[name]; ok {
		s, err := formatValue(format, raw)
		if err != nil {
			// Not a well-formed GUID or SID; fall back to the plain rules.
			return textOnly(r.entry.GetEqualFoldRawAttributeValues(name), raw)
		}
		return s, true
	}

	return textOnly(r.entry.GetEqualFoldRawAttributeValues(name), raw)
}

// Binary returns the first value of name when it is not valid UTF-8.
func (r *EntryRecord) Binary(name string) ([]byte, bool) {
	raw, ok := r.first(name)
	if !ok {
		return nil, false
	}

	if format, ok := r.formats[name]; ok {
		if _, err := formatValue(format, raw); err == nil {
			return nil, false
		}
	}

	if allValidUTF8(r.entry.GetEqualFoldRawAttributeValues(name)) {
		return nil, false
	}
	return raw, true
}

func (r *EntryRecord) first(name string) ([]byte, bool) {
	values := r.entry.GetEqualFoldRawAttributeValues(name)
	if len(values) == 0 {
		return nil, false
	}
	return values[0], true
}

func textOnly(values [][]byte, first []byte) (string, bool) {
	if !allValidUTF8(values) {
		return "", false
	}
	return string(first), true
}

func allValidUTF8(values [][]byte) bool {
	for _, v := range values {
		if !utf8.Valid(v) {
			return false
		}
	}
	return true
}

func formatValue(format string, raw []byte) (string, error) {
	switch format {
	case user.FormatGUID:
		return FormatGUID(raw)
	case user.FormatSID:
		return FormatSID(raw)
	default:
		return string(raw), nil
	}
}
