package ldap

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
)

// FormatSID renders a binary objectSid as S-1-5-21-... .
func FormatSID(b []byte) (string, error) {
	// revision, sub-authority count, 6-byte authority, then 4 bytes per sub-authority
	if len(b) < 8 || len(b) != 8+4*int(b[1]) {
		return "", fmt.Errorf("invalid SID byte length %d", len(b))
	}

	return objectsid.Decode(b).String(), nil
}
