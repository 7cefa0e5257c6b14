package user

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Attribute formats understood by the LDAP source.
const (
	FormatNone = ""
	FormatGUID = "guid"
	FormatSID  = "sid"
)

// AttributeMapping names a source attribute. In configuration it is either
// a bare attribute name or a table with name, is_binary and format keys.
type AttributeMapping struct {
	Name     string `yaml:"name" toml:"name"`
	IsBinary bool   `yaml:"is_binary" toml:"is_binary"`
	Format   string `yaml:"format" toml:"format"`
}

// Attr is shorthand for a textual mapping of the named attribute.
func Attr(name string) AttributeMapping {
	return AttributeMapping{Name: name}
}

// BinaryAttr is shorthand for a binary mapping of the named attribute.
func BinaryAttr(name string) AttributeMapping {
	return AttributeMapping{Name: name, IsBinary: true}
}

func (m AttributeMapping) String() string {
	return m.Name
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (m *AttributeMapping) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*m = AttributeMapping{Name: value.Value}
		return nil
	}

	type plain AttributeMapping
	var out plain
	if err := value.Decode(&out); err != nil {
		return err
	}
	*m = AttributeMapping(out)
	return m.validateFormat()
}

// UnmarshalTOML accepts both the string and the table form.
func (m *AttributeMapping) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		*m = AttributeMapping{Name: v}
		return nil
	case map[string]any:
		out := AttributeMapping{}
		if name, ok := v["name"].(string); ok {
			out.Name = name
		}
		if isBinary, ok := v["is_binary"].(bool); ok {
			out.IsBinary = isBinary
		}
		if format, ok := v["format"].(string); ok {
			out.Format = format
		}
		*m = out
		return m.validateFormat()
	default:
		return fmt.Errorf("attribute mapping must be a string or a table, got %T", data)
	}
}

func (m AttributeMapping) validateFormat() error {
	switch m.Format {
	case FormatNone, FormatGUID, FormatSID:
		return nil
	default:
		return fmt.Errorf("attribute %q: unsupported format %q", m.Name, m.Format)
	}
}

// AttributeMap maps the canonical user fields to source attribute names.
type AttributeMap struct {
	FirstName         AttributeMapping  `yaml:"first_name" toml:"first_name"`
	LastName          AttributeMapping  `yaml:"last_name" toml:"last_name"`
	PreferredUsername AttributeMapping  `yaml:"preferred_username" toml:"preferred_username"`
	Email             AttributeMapping  `yaml:"email" toml:"email"`
	Phone             AttributeMapping  `yaml:"phone" toml:"phone"`
	UserID            AttributeMapping  `yaml:"user_id" toml:"user_id"`
	Status            AttributeMapping  `yaml:"status" toml:"status"`
	DisableBitmasks   []int32           `yaml:"disable_bitmasks" toml:"disable_bitmasks"`
	LastModified      *AttributeMapping `yaml:"last_modified" toml:"last_modified"`
}

// Tracked returns the mappings whose changes make an entry count as changed.
func (a AttributeMap) Tracked() []AttributeMapping {
	return []AttributeMapping{
		a.Status,
		a.FirstName,
		a.LastName,
		a.PreferredUsername,
		a.Email,
		a.Phone,
	}
}

// Names returns every mapped attribute name, including the user id and the
// modification timestamp when configured.
func (a AttributeMap) Names() []string {
	names := []string{a.UserID.Name}
	for _, m := range a.Tracked() {
		names = append(names, m.Name)
	}
	if a.LastModified != nil && a.LastModified.Name != "" {
		names = append(names, a.LastModified.Name)
	}
	return names
}

// Formats returns the attribute formats keyed by attribute name.
func (a AttributeMap) Formats() map[string]string {
	formats := make(map[string]string)
	all := append(a.Tracked(), a.UserID)
	for _, m := range all {
		if m.Format != FormatNone {
			formats[m.Name] = m.Format
		}
	}
	return formats
}
