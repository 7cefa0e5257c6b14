package user

// Record is a raw entry produced by a source, such as an LDAP search entry.
// Attributes that carry valid UTF-8 are exposed through Text, others
// through Binary.
type Record interface {
	// Identifier names the record in error messages, e.g. its DN.
	Identifier() string
	Text(name string) (string, bool)
	Binary(name string) ([]byte, bool)
}

// Resolve reads the attribute described by mapping from rec.
//
// Textual mappings read the text form only. Binary mappings prefer the binary
// form and fall back to the bytes of the text form, since directories report
// binary attributes that happen to be valid UTF-8 as text.
func Resolve(rec Record, mapping AttributeMapping) (AttributeValue, error) {
	if mapping.IsBinary {
		if b, ok := rec.Binary(mapping.Name); ok {
			return Binary(b), nil
		}
		if s, ok := rec.Text(mapping.Name); ok {
			return Binary([]byte(s)), nil
		}
	} else if s, ok := rec.Text(mapping.Name); ok {
		return Text(s), nil
	}

	return AttributeValue{}, &AttributeError{
		Attribute: mapping.Name,
		Record:    rec.Identifier(),
		Err:       ErrMissingAttribute,
	}
}
