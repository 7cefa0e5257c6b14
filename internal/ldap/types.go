package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for LDAP connections.
type ConnectionConfig struct {
	// Connection settings
	Domain   string        // Domain for SRV discovery
	LDAPURLs []string      // Direct LDAP URLs (overrides domain)
	BaseDN   string        // Base DN for searches
	Timeout  time.Duration // Connection and operation timeout

	// Authentication settings
	BindDN                 string // DN (or principal for Kerberos) to bind as
	BindPassword           string // Password for simple bind or Kerberos password auth
	KerberosRealm          string // Kerberos realm for GSSAPI authentication
	KerberosKeytab         string // Path to Kerberos keytab file
	KerberosCCache         string // Path to Kerberos credential cache
	KerberosConfig         string // Path to krb5.conf; generated when empty
	KerberosSPN            string // Service principal override
	KerberosDNSLookupKDC   bool   // Discover KDCs through DNS when krb5.conf is generated
	KerberosDNSLookupRealm bool   // Discover realms through DNS when krb5.conf is generated

	// TLS settings
	TLSConfig   *tls.Config // Built from the TLS options with BuildTLSConfig
	UseStartTLS bool        // Upgrade ldap:// connections with StartTLS
	ClientCert  bool        // A client certificate is configured (enables EXTERNAL bind)

	// Pool settings
	MaxConnections int           // Maximum connections in pool
	MaxIdleTime    time.Duration // Maximum idle time before connection cleanup
	HealthCheck    time.Duration // Health check interval, 0 disables

	// Retry settings
	MaxRetries     int           // Maximum retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor

	// Search settings
	PageSize uint32 // Paged search page size
}

// DefaultConfig returns a default configuration. A sync pass is a single
// sequential search, so the pool is small and health checking is off.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:        5 * time.Second,
		MaxConnections: 2,
		MaxIdleTime:    5 * time.Minute,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		PageSize:       1000,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// PooledConnection represents a connection in the pool.
type PooledConnection struct {
	conn          *ldap.Conn
	lastUsed      time.Time
	healthy       bool
	authenticated bool
	authTime      time.Time
	serverInfo    *ServerInfo
	returnToPool  func(*PooledConnection)
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// ConnectionPool manages a pool of LDAP connections.
type ConnectionPool interface {
	Get(ctx context.Context) (*PooledConnection, error)
	Close() error
	Stats() PoolStats
}

// PoolStats provides statistics about the connection pool.
type PoolStats struct {
	Idle    int           // Idle connections
	Active  int64         // Active (in-use) connections
	Created int64         // Total connections created
	Errors  int64         // Total connection errors
	Uptime  time.Duration // Pool uptime
}

// Client provides the read-only LDAP operations a sync pass needs.
type Client interface {
	Connect(ctx context.Context) error
	Close() error

	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	Ping(ctx context.Context) error
	Stats() PoolStats
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	SizeLimit    int
	TimeLimit    time.Duration
	DerefAliases DerefAliases
	PageSize     uint32 // 0 uses the client default
}

// SearchResult contains search results and metadata.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
	HasMore bool
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodNone       AuthMethod = iota // Anonymous
	AuthMethodSimpleBind                   // Bind DN and password
	AuthMethodKerberos                     // GSSAPI/Kerberos
	AuthMethodExternal                     // SASL EXTERNAL over a client certificate
)

func (a AuthMethod) String() string {
	switch a {
	case AuthMethodNone:
		return "anonymous"
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodExternal:
		return "external"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
// Kerberos wins when a realm is set; a client certificate without a bind DN
// selects EXTERNAL.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	switch {
	case c.KerberosRealm != "":
		return AuthMethodKerberos
	case c.BindDN != "":
		return AuthMethodSimpleBind
	case c.ClientCert:
		return AuthMethodExternal
	default:
		return AuthMethodNone
	}
}

// HasAuthentication reports whether connections must be bound before use.
func (c *ConnectionConfig) HasAuthentication() bool {
	return c.GetAuthMethod() != AuthMethodNone
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
