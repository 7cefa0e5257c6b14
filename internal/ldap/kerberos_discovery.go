package ldap

import (
	"context"
	"fmt"
	"strings"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
)

const defaultKrb5ConfPath = "/etc/krb5.conf"

// loadKrb5Config loads the configured krb5.conf, then the system one, and
// otherwise generates a configuration that discovers KDCs through DNS.
func loadKrb5Config(ctx context.Context, cfg *ConnectionConfig, realm string) (*krb5config.Config, error) {
	if cfg.KerberosConfig != "" {
		return krb5config.Load(cfg.KerberosConfig)
	}
	if fileExists(defaultKrb5ConfPath) {
		return krb5config.Load(defaultKrb5ConfPath)
	}

	conf, err := generateRuntimeKrb5Conf(cfg, realm)
	if err != nil {
		return nil, err
	}
	LogKerberosEvent(ctx, "config_generated", map[string]any{
		"realm":            realm,
		"dns_lookup_kdc":   cfg.KerberosDNSLookupKDC,
		"dns_lookup_realm": cfg.KerberosDNSLookupRealm,
	})
	return krb5config.NewFromString(conf)
}

// generateRuntimeKrb5Conf renders a minimal krb5.conf for realm. The
// domain_realm mapping uses the SRV discovery domain when one is set.
func generateRuntimeKrb5Conf(cfg *ConnectionConfig, realm string) (string, error) {
	if realm == "" {
		realm = extractRealmFromDomain(cfg.Domain)
	}
	if realm == "" {
		return "", fmt.Errorf("kerberos realm is required when no krb5.conf is available")
	}

	domain := strings.ToLower(realm)
	if cfg.Domain != "" {
		domain = strings.ToLower(cfg.Domain)
	}

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_kdc = %t
    dns_lookup_realm = %t
    rdns = false
    forwardable = true
    ticket_lifetime = 24h

[domain_realm]
    .%s = %s
    %s = %s
`,
		realm,
		cfg.KerberosDNSLookupKDC,
		cfg.KerberosDNSLookupRealm,
		domain, realm,
		domain, realm,
	), nil
}

func extractRealmFromDomain(domain string) string {
	return strings.ToUpper(domain)
}
