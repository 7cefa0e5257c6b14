package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/isometry/ldap-sync/internal/logging"
	"github.com/isometry/ldap-sync/internal/user"
)

// ErrNoSources is reported when no source section is configured.
var ErrNoSources = errors.New("at least one of sources.ldap, sources.csv or sources.disable_list must be configured")

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	required := func(name, value string) {
		if value == "" {
			add("%s is required", name)
		}
	}

	required("zitadel.url", c.Zitadel.URL)
	required("zitadel.key_file", c.Zitadel.KeyFile)
	required("zitadel.organization_id", c.Zitadel.OrganizationID)
	required("zitadel.project_id", c.Zitadel.ProjectID)
	if c.Zitadel.Timeout < 0 || c.Zitadel.RetryMax < 0 {
		add("zitadel.timeout and zitadel.retry_max must not be negative")
	}

	for _, flag := range c.FeatureFlags {
		if !slices.Contains(KnownFeatureFlags, flag) {
			add("unknown feature flag %q", flag)
		}
	}
	if c.Enabled(FeatureSSOLogin) && c.Zitadel.IDPID == "" {
		add("zitadel.idp_id is required by the %s feature flag", FeatureSSOLogin)
	}

	if !logging.ValidLevel(c.LogLevel) {
		add("invalid log_level %q", c.LogLevel)
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			add("invalid schedule %q: %v", c.Schedule, err)
		}
	}

	s := c.Sources
	if s.LDAP == nil && s.CSV == nil && s.DisableList == nil {
		result = multierror.Append(result, ErrNoSources)
	}

	if l := s.LDAP; l != nil {
		if l.URL == "" && l.Domain == "" {
			add("sources.ldap.url or sources.ldap.domain is required")
		}
		required("sources.ldap.base_dn", l.BaseDN)
		if l.Timeout < 0 || l.HealthCheck < 0 {
			add("sources.ldap.timeout and sources.ldap.health_check must not be negative")
		}

		attrs := []struct {
			name    string
			mapping user.AttributeMapping
		}{
			{"first_name", l.Attributes.FirstName},
			{"last_name", l.Attributes.LastName},
			{"preferred_username", l.Attributes.PreferredUsername},
			{"email", l.Attributes.Email},
			{"phone", l.Attributes.Phone},
			{"user_id", l.Attributes.UserID},
			{"status", l.Attributes.Status},
		}
		for _, a := range attrs {
			required("sources.ldap.attributes."+a.name, a.mapping.Name)
		}

		if tls := l.TLS; tls != nil && (tls.ClientCertificate == "") != (tls.ClientKey == "") {
			add("sources.ldap.tls.client_certificate and sources.ldap.tls.client_key must be set together")
		}
		if krb := l.Kerberos; krb != nil {
			required("sources.ldap.kerberos.realm", krb.Realm)
		}
	}

	if csv := s.CSV; csv != nil {
		required("sources.csv.file_path", csv.FilePath)
	}

	if dl := s.DisableList; dl != nil {
		required("sources.disable_list.endpoint_url", dl.EndpointURL)
		required("sources.disable_list.oauth2_url", dl.OAuth2URL)
		required("sources.disable_list.client_id", dl.ClientID)
		required("sources.disable_list.client_secret", dl.ClientSecret)
	}

	return result.ErrorOrNil()
}
