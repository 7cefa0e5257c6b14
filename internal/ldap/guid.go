package ldap

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// GUIDBytesLength is the size of an Active Directory objectGUID.
const GUIDBytesLength = 16

var hyphenatedGUIDRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// FormatGUID renders an objectGUID in its canonical hyphenated form.
//
// Active Directory stores GUIDs mixed-endian: the first three groups are
// little-endian, the last eight bytes are kept in order.
func FormatGUID(b []byte) (string, error) {
	if len(b) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(b))
	}

	std := swapGUIDEndianness(b)
	h := hex.EncodeToString(std)

	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32]), nil
}

// ParseGUID converts a hyphenated GUID string back into its objectGUID bytes.
func ParseGUID(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !hyphenatedGUIDRegex.MatchString(s) {
		return nil, fmt.Errorf("invalid GUID format: %s", s)
	}

	std, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode GUID hex: %w", err)
	}

	return swapGUIDEndianness(std), nil
}

// swapGUIDEndianness converts between the mixed-endian and the big-endian
// layout. The conversion is its own inverse.
func swapGUIDEndianness(b []byte) []byte {
	out := make([]byte, GUIDBytesLength)

	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])

	return out
}
