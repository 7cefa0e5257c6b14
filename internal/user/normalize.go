package user

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Normalize builds a canonical User from rec.
//
// The status attribute is read as a 32-bit integer and the user is disabled
// when any of disableBitmasks shares a bit with it. All fields except phone
// are required.
func Normalize(rec Record, attrs AttributeMap, disableBitmasks []int32) (User, error) {
	status, err := readStatus(rec, attrs.Status)
	if err != nil {
		return User{}, err
	}

	enabled := true
	for _, mask := range disableBitmasks {
		if status&mask != 0 {
			enabled = false
			break
		}
	}

	u := User{Enabled: enabled}

	required := []struct {
		mapping AttributeMapping
		dst     *AttributeValue
	}{
		{attrs.FirstName, &u.FirstName},
		{attrs.LastName, &u.LastName},
		{attrs.PreferredUsername, &u.PreferredUsername},
		{attrs.Email, &u.Email},
		{attrs.UserID, &u.ExternalUserID},
	}
	for _, r := range required {
		v, err := Resolve(rec, r.mapping)
		if err != nil {
			return User{}, err
		}
		*r.dst = v
	}

	if phone, err := Resolve(rec, attrs.Phone); err == nil {
		u.Phone = &phone
	}

	return u, nil
}

func readStatus(rec Record, mapping AttributeMapping) (int32, error) {
	v, err := Resolve(rec, mapping)
	if err != nil {
		return 0, err
	}

	if !v.IsBinary() {
		n, err := strconv.ParseInt(v.String(), 10, 32)
		if err != nil {
			return 0, &AttributeError{
				Attribute: mapping.Name,
				Record:    rec.Identifier(),
				Err:       fmt.Errorf("%w: %v", ErrInvalidStatus, err),
			}
		}
		return int32(n), nil
	}

	raw := v.Bytes()
	if len(raw) != 4 {
		return 0, &AttributeError{
			Attribute: mapping.Name,
			Record:    rec.Identifier(),
			Err:       fmt.Errorf("%w: expected 4 bytes, got %d", ErrInvalidStatus, len(raw)),
		}
	}
	return int32(binary.BigEndian.Uint32(raw)), nil
}
