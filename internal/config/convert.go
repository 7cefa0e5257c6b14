package config

import (
	"fmt"
	"time"

	"github.com/isometry/ldap-sync/internal/ldap"
	"github.com/isometry/ldap-sync/internal/reconcile"
	"github.com/isometry/ldap-sync/internal/source"
	"github.com/isometry/ldap-sync/internal/zitadel"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// EngineConfig returns the reconcile engine settings.
func (c *Config) EngineConfig() reconcile.EngineConfig {
	return reconcile.EngineConfig{
		OrganizationID: c.Zitadel.OrganizationID,
		ProjectID:      c.Zitadel.ProjectID,
		IDPID:          c.Zitadel.IDPID,
		Features:       c.Features(),
	}
}

// ClientConfig returns the provider client settings.
func (z ZitadelConfig) ClientConfig() zitadel.Config {
	return zitadel.Config{
		URL:      z.URL,
		KeyFile:  z.KeyFile,
		Timeout:  seconds(z.Timeout),
		RetryMax: z.RetryMax,
	}
}

// SourceConfig returns the disable-list source settings.
func (d *DisableListConfig) SourceConfig() source.DisableListConfig {
	return source.DisableListConfig{
		EndpointURL:  d.EndpointURL,
		OAuth2URL:    d.OAuth2URL,
		ClientID:     d.ClientID,
		ClientSecret: d.ClientSecret,
		Scope:        d.Scope,
		GrantType:    d.GrantType,
		Timeout:      seconds(d.Timeout),
		RetryMax:     d.RetryMax,
	}
}

// ConnectionConfig returns the LDAP connection settings. Certificate files
// are read here.
func (l *LDAPConfig) ConnectionConfig() (*ldap.ConnectionConfig, error) {
	cfg := ldap.DefaultConfig()

	if l.URL != "" {
		cfg.LDAPURLs = []string{l.URL}
	}
	cfg.Domain = l.Domain
	cfg.BaseDN = l.BaseDN
	cfg.Timeout = seconds(l.Timeout)
	cfg.BindDN = l.BindDN
	cfg.BindPassword = l.BindPassword
	cfg.PageSize = l.PageSize
	cfg.HealthCheck = seconds(l.HealthCheck)

	if k := l.Kerberos; k != nil {
		cfg.KerberosRealm = k.Realm
		cfg.KerberosKeytab = k.Keytab
		cfg.KerberosCCache = k.CCache
		cfg.KerberosConfig = k.Config
		cfg.KerberosSPN = k.SPN
	}

	if t := l.TLS; t != nil {
		tlsConfig, err := ldap.BuildTLSConfig(ldap.TLSOptions{
			CACertFile:         t.ServerCertificate,
			ClientCertFile:     t.ClientCertificate,
			ClientKeyFile:      t.ClientKey,
			InsecureSkipVerify: t.DangerDisableTLSVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("sources.ldap.tls: %w", err)
		}
		cfg.TLSConfig = tlsConfig
		cfg.UseStartTLS = t.DangerUseStartTLS
		cfg.ClientCert = t.ClientCertificate != "" && t.ClientKey != ""
	}

	return cfg, nil
}

// PollerConfig returns the directory poller settings.
func (l *LDAPConfig) PollerConfig(cachePath string, dryRun bool) ldap.PollerConfig {
	return ldap.PollerConfig{
		Search: ldap.UserSearchConfig{
			BaseDN:             l.BaseDN,
			Filter:             l.UserFilter,
			Attributes:         l.Attributes,
			UseAttributeFilter: l.UseAttributeFilter,
			Timeout:            seconds(l.Timeout),
			PageSize:           l.PageSize,
		},
		CachePath:              cachePath,
		CheckForDeletedEntries: l.CheckForDeletedEntries,
		DryRun:                 dryRun,
	}
}
