package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-sync/internal/logging"
	"github.com/isometry/ldap-sync/internal/user"
)

const defaultUserFilter = "(objectClass=*)"

// UserSearchConfig describes the user search of a sync pass.
type UserSearchConfig struct {
	BaseDN     string
	Filter     string // must not filter on account status
	Attributes user.AttributeMap
	// UseAttributeFilter requests only the mapped attributes instead of "*".
	UseAttributeFilter bool
	Timeout            time.Duration
	PageSize           uint32
}

// UserSearcher reads every user entry below the base DN.
type UserSearcher struct {
	client Client
	config UserSearchConfig
}

// NewUserSearcher creates a new user searcher.
func NewUserSearcher(client Client, config UserSearchConfig) *UserSearcher {
	return &UserSearcher{client: client, config: config}
}

// SearchUsers returns every entry matching the configured filter.
func (s *UserSearcher) SearchUsers(ctx context.Context) ([]*ldap.Entry, error) {
	req := &SearchRequest{
		BaseDN:     s.config.BaseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     s.filter(),
		Attributes: s.attributes(),
		TimeLimit:  s.config.Timeout,
		PageSize:   s.config.PageSize,
	}

	start := time.Now()
	result, err := s.client.SearchWithPaging(ctx, req)
	if err != nil {
		return nil, WrapError("search_users", err)
	}

	logging.New(ctx, logging.SubsystemLDAP).Debug("User search completed", map[string]any{
		"base_dn":     req.BaseDN,
		"filter":      req.Filter,
		"entries":     len(result.Entries),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return result.Entries, nil
}

func (s *UserSearcher) filter() string {
	if s.config.Filter == "" {
		return defaultUserFilter
	}
	return s.config.Filter
}

// attributes returns the attribute selection of the search request.
func (s *UserSearcher) attributes() []string {
	if !s.config.UseAttributeFilter {
		return []string{"*"}
	}

	names := s.config.Attributes.Names()
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// CheckBaseDN reads the base DN entry itself and reports when it does not
// exist or cannot be read with the configured credentials.
func CheckBaseDN(ctx context.Context, client Client, baseDN string) error {
	result, err := client.Search(ctx, &SearchRequest{
		BaseDN:       baseDN,
		Scope:        ScopeBaseObject,
		Filter:       defaultUserFilter,
		Attributes:   []string{"1.1"},
		SizeLimit:    1,
		DerefAliases: NeverDerefAliases,
	})
	switch {
	case IsNotFoundError(err):
		return fmt.Errorf("base DN %q does not exist: %w", baseDN, err)
	case err != nil:
		return WrapError("check_base_dn", err)
	case len(result.Entries) == 0:
		return fmt.Errorf("base DN %q is not visible to the bind identity", baseDN)
	}
	return nil
}

// ValidateUserSearchConfig checks the parts of config a search cannot do without.
func ValidateUserSearchConfig(config UserSearchConfig) error {
	if config.BaseDN == "" {
		return fmt.Errorf("base DN is required")
	}
	if config.Attributes.UserID.Name == "" {
		return fmt.Errorf("user_id attribute is required")
	}
	return nil
}
