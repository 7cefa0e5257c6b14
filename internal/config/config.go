// Package config loads the ldap-sync configuration file.
//
// The file is YAML, or TOML when its name ends in .toml. Unset values take
// the defaults declared in the struct tags, and a few secrets can be given
// through the environment instead of the file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/isometry/ldap-sync/internal/user"
)

// Environment variables read by Load.
const (
	EnvConfigPath        = "LDAP_SYNC_CONFIG"
	EnvBindPassword      = "LDAP_SYNC_BIND_PASSWORD"
	EnvDisableListSecret = "LDAP_SYNC_DISABLE_LIST_CLIENT_SECRET"
	DefaultConfigPath    = "config.yaml"
)

// Config is the complete ldap-sync configuration.
type Config struct {
	Zitadel      ZitadelConfig `yaml:"zitadel" toml:"zitadel"`
	Sources      SourcesConfig `yaml:"sources" toml:"sources"`
	FeatureFlags []FeatureFlag `yaml:"feature_flags" toml:"feature_flags"`
	CachePath    string        `yaml:"cache_path" toml:"cache_path" default:"./ldap-sync.cache.json"`
	LogLevel     string        `yaml:"log_level" toml:"log_level" default:"info"`
	Schedule     string        `yaml:"schedule" toml:"schedule"`
}

// ZitadelConfig configures the identity provider.
type ZitadelConfig struct {
	URL            string `yaml:"url" toml:"url"`
	KeyFile        string `yaml:"key_file" toml:"key_file"`
	OrganizationID string `yaml:"organization_id" toml:"organization_id"`
	ProjectID      string `yaml:"project_id" toml:"project_id"`
	IDPID          string `yaml:"idp_id" toml:"idp_id"`
	Timeout        int    `yaml:"timeout" toml:"timeout" default:"30"` // seconds
	RetryMax       int    `yaml:"retry_max" toml:"retry_max" default:"2"`
}

// SourcesConfig holds one optional section per source.
type SourcesConfig struct {
	LDAP        *LDAPConfig        `yaml:"ldap" toml:"ldap"`
	CSV         *CSVConfig         `yaml:"csv" toml:"csv"`
	DisableList *DisableListConfig `yaml:"disable_list" toml:"disable_list"`
}

// LDAPConfig configures the LDAP source.
type LDAPConfig struct {
	URL                    string            `yaml:"url" toml:"url"`
	Domain                 string            `yaml:"domain" toml:"domain"`
	BaseDN                 string            `yaml:"base_dn" toml:"base_dn"`
	BindDN                 string            `yaml:"bind_dn" toml:"bind_dn"`
	BindPassword           string            `yaml:"bind_password" toml:"bind_password"`
	UserFilter             string            `yaml:"user_filter" toml:"user_filter"` // must not filter on status
	Timeout                int               `yaml:"timeout" toml:"timeout" default:"5"`
	PageSize               uint32            `yaml:"page_size" toml:"page_size" default:"1000"`
	HealthCheck            int               `yaml:"health_check" toml:"health_check"` // seconds, 0 disables
	CheckForDeletedEntries bool              `yaml:"check_for_deleted_entries" toml:"check_for_deleted_entries"`
	UseAttributeFilter     bool              `yaml:"use_attribute_filter" toml:"use_attribute_filter"`
	Attributes             user.AttributeMap `yaml:"attributes" toml:"attributes"`
	TLS                    *TLSConfig        `yaml:"tls" toml:"tls"`
	Kerberos               *KerberosConfig   `yaml:"kerberos" toml:"kerberos"`
}

// TLSConfig configures LDAP transport security.
type TLSConfig struct {
	ClientKey              string `yaml:"client_key" toml:"client_key"`
	ClientCertificate      string `yaml:"client_certificate" toml:"client_certificate"`
	ServerCertificate      string `yaml:"server_certificate" toml:"server_certificate"`
	DangerDisableTLSVerify bool   `yaml:"danger_disable_tls_verify" toml:"danger_disable_tls_verify"`
	DangerUseStartTLS      bool   `yaml:"danger_use_start_tls" toml:"danger_use_start_tls"`
}

// KerberosConfig selects GSSAPI binds.
type KerberosConfig struct {
	Realm  string `yaml:"realm" toml:"realm"`
	Keytab string `yaml:"keytab" toml:"keytab"`
	CCache string `yaml:"ccache" toml:"ccache"`
	Config string `yaml:"config" toml:"config"`
	SPN    string `yaml:"spn" toml:"spn"`
}

// CSVConfig configures the CSV source.
type CSVConfig struct {
	FilePath string `yaml:"file_path" toml:"file_path"`
}

// DisableListConfig configures the HTTP disable-list source.
type DisableListConfig struct {
	EndpointURL  string `yaml:"endpoint_url" toml:"endpoint_url"`
	OAuth2URL    string `yaml:"oauth2_url" toml:"oauth2_url"`
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`
	Scope        string `yaml:"scope" toml:"scope"`
	GrantType    string `yaml:"grant_type" toml:"grant_type" default:"client_credentials"`
	Timeout      int    `yaml:"timeout" toml:"timeout" default:"30"`
	RetryMax     int    `yaml:"retry_max" toml:"retry_max" default:"2"`
}

// Path returns the configuration path to use: explicit when set, else the
// environment, else the default.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load reads, completes and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data, applies environment overrides and defaults. Unknown
// keys are errors.
func Parse(data []byte, isTOML bool) (*Config, error) {
	cfg := &Config{}

	if isTOML {
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			slices.Sort(keys)
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvBindPassword); ok && c.Sources.LDAP != nil {
		c.Sources.LDAP.BindPassword = v
	}
	if v, ok := os.LookupEnv(EnvDisableListSecret); ok && c.Sources.DisableList != nil {
		c.Sources.DisableList.ClientSecret = v
	}
}
