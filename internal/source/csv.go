package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/isometry/ldap-sync/internal/logging"
	"github.com/isometry/ldap-sync/internal/user"
)

var csvColumns = []string{"email", "first_name", "last_name", "phone"}

// CSV reports every row of a CSV export as a new, enabled user.
type CSV struct {
	path string
}

// NewCSV creates a CSV source reading path.
func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

// Name returns the source name used in logs.
func (s *CSV) Name() string {
	return "CSV"
}

// GetDiff reads the file. Rows that cannot be parsed are logged and skipped.
func (s *CSV) GetDiff(ctx context.Context) (user.SourceDiff, error) {
	users, err := s.readCSV(ctx)
	if err != nil {
		return user.SourceDiff{}, err
	}
	return user.SourceDiff{NewUsers: users}, nil
}

func (s *CSV) readCSV(ctx context.Context) ([]user.User, error) {
	logger := logging.New(ctx, logging.SubsystemSource)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file %s: %w", s.path, err)
	}

	data, err := decodeText(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode CSV file %s: %w", s.path, err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns, err := columnIndexes(header)
	if err != nil {
		logger.Error("Failed to deserialize CSV header", map[string]any{"path": s.path, "error": err.Error()})
		return nil, nil
	}

	var users []user.User
	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Error("Failed to deserialize CSV row", map[string]any{"row": row, "error": err.Error()})
			continue
		}

		u, err := rowToUser(record, columns)
		if err != nil {
			logger.Error("Failed to deserialize CSV row", map[string]any{"row": row, "error": err.Error()})
			continue
		}
		users = append(users, u)
	}

	logger.Debug("Read CSV file", map[string]any{"path": s.path, "users": len(users)})
	return users, nil
}

func columnIndexes(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range csvColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing field `%s`", name)
		}
	}
	return columns, nil
}

func rowToUser(record []string, columns map[string]int) (user.User, error) {
	field := func(name string) (string, error) {
		i := columns[name]
		if i >= len(record) {
			return "", fmt.Errorf("missing field `%s`", name)
		}
		return strings.TrimSpace(record[i]), nil
	}

	values := make(map[string]string, len(csvColumns))
	for _, name := range csvColumns {
		v, err := field(name)
		if err != nil {
			return user.User{}, err
		}
		values[name] = v
	}
	if values["email"] == "" {
		return user.User{}, errors.New("empty field `email`")
	}

	email := user.Text(values["email"])
	u := user.User{
		Email:             email,
		FirstName:         user.Text(norm.NFC.String(values["first_name"])),
		LastName:          user.Text(norm.NFC.String(values["last_name"])),
		PreferredUsername: email,
		ExternalUserID:    email,
		Enabled:           true,
	}
	if values["phone"] != "" {
		phone := user.Text(values["phone"])
		u.Phone = &phone
	}
	return u, nil
}

// decodeText converts raw to UTF-8. A byte order mark selects UTF-8 or
// UTF-16; input without one is UTF-8 when valid and Latin-1 otherwise.
func decodeText(raw []byte) ([]byte, error) {
	fallback := unicode.UTF8.NewDecoder()
	if !hasBOM(raw) && !utf8.Valid(raw) {
		fallback = charmap.ISO8859_1.NewDecoder()
	}

	out, _, err := transform.Bytes(unicode.BOMOverride(fallback), raw)
	return out, err
}

func hasBOM(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(b, []byte{0xFF, 0xFE}) ||
		bytes.HasPrefix(b, []byte{0xFE, 0xFF})
}
