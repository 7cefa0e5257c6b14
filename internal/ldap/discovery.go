package ldap

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/isometry/ldap-sync/internal/logging"
)

// Resolver is the subset of *net.Resolver used for SRV lookups.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery handles DNS SRV record discovery for directory servers.
type SRVDiscovery struct {
	resolver Resolver
}

// NewSRVDiscovery creates a new SRV discovery instance using the default resolver.
func NewSRVDiscovery() *SRVDiscovery {
	return &SRVDiscovery{resolver: net.DefaultResolver}
}

// DiscoverServers discovers LDAP servers for a domain using SRV records.
// _ldaps._tcp is preferred; _ldap._tcp is only consulted when no LDAPS
// records exist. Without any record the domain itself is used on the
// standard ports.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	logger := logging.New(ctx, logging.SubsystemLDAP)
	start := time.Now()

	services := []struct {
		name   string
		useTLS bool
	}{
		{"_ldaps._tcp." + domain, true},
		{"_ldap._tcp." + domain, false},
	}

	var servers []*ServerInfo
	for _, svc := range services {
		found, err := d.lookupSRV(ctx, svc.name, svc.useTLS)
		if err != nil {
			logger.Debug("SRV lookup failed, continuing to next service", map[string]any{
				"service": svc.name,
				"error":   err.Error(),
			})
			continue
		}
		servers = append(servers, found...)
		if len(found) > 0 {
			break
		}
	}

	if len(servers) == 0 {
		logger.Debug("No SRV records found, using fallback servers", map[string]any{
			"domain":   domain,
			"duration": time.Since(start).String(),
		})
		return fallbackServers(domain), nil
	}

	sortServersByPriority(servers)

	logger.Debug("Server discovery completed", map[string]any{
		"domain":       domain,
		"duration":     time.Since(start).String(),
		"server_count": len(servers),
	})
	return servers, nil
}

func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup failed for %s: %w", service, err)
	}

	servers := make([]*ServerInfo, 0, len(records))
	for _, srv := range records {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}
	return servers, nil
}

func fallbackServers(domain string) []*ServerInfo {
	return []*ServerInfo{
		{Host: domain, Port: 636, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
		{Host: domain, Port: 389, UseTLS: false, Priority: 1, Weight: 100, Source: "fallback"},
	}
}

// sortServersByPriority orders servers by ascending priority, then by
// descending weight (RFC 2782).
func sortServersByPriority(servers []*ServerInfo) {
	slices.SortStableFunc(servers, func(a, b *ServerInfo) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})
}

// ValidateServerInfo validates server information.
func ValidateServerInfo(server *ServerInfo) error {
	if server == nil {
		return fmt.Errorf("server info cannot be nil")
	}
	if server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", server.Port)
	}
	return nil
}

// ServerInfoToURL converts ServerInfo to LDAP URL.
func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(server.Host, strconv.Itoa(server.Port)))
}

// ParseLDAPURL parses an ldap:// or ldaps:// URL into ServerInfo. The port
// defaults to 389 or 636.
func ParseLDAPURL(rawURL string) (*ServerInfo, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL: %w", err)
	}

	server := &ServerInfo{
		Host:   u.Hostname(),
		Weight: 100,
		Source: "config",
	}

	switch u.Scheme {
	case "ldaps":
		server.UseTLS = true
		server.Port = 636
	case "ldap":
		server.Port = 389
	default:
		return nil, fmt.Errorf("unsupported scheme %q, must be ldap:// or ldaps://", u.Scheme)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
		server.Port = port
	}

	return server, ValidateServerInfo(server)
}
