package ldap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/isometry/ldap-sync/internal/logging"
)

// ErrNoKerberosCredentials is returned when neither a credential cache, a
// keytab nor a password is available.
var ErrNoKerberosCredentials = errors.New("no suitable credentials found for Kerberos authentication")

// performKerberosAuth binds conn with GSSAPI using the credentials in cfg.
func performKerberosAuth(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	principal, realm := splitPrincipal(cfg.BindDN, cfg.KerberosRealm)

	krb5conf, err := loadKrb5Config(ctx, cfg, realm)
	if err != nil {
		LogKerberosEvent(ctx, "config_load_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := createGSSAPIClient(ctx, cfg, principal, realm, krb5conf)
	if err != nil {
		LogKerberosEvent(ctx, "ticket_acquisition_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer gssapiClient.Close()

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	LogKerberosEvent(ctx, "principal_resolved", map[string]any{
		"principal": principal,
		"realm":     realm,
		"spn":       spn,
	})

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		LogKerberosEvent(ctx, "authentication_failed", map[string]any{"error": err.Error(), "spn": spn})
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	LogKerberosEvent(ctx, "ticket_acquired", map[string]any{"spn": spn})
	return nil
}

// createGSSAPIClient picks the first usable credential source in the order
// credential cache, keytab, password.
func createGSSAPIClient(ctx context.Context, cfg *ConnectionConfig, principal, realm string, krb5conf *krb5config.Config) (*gssapi.Client, error) {
	settings := []func(*krb5client.Settings){krb5client.DisablePAFXFAST(true)}

	for _, path := range []string{cfg.KerberosCCache, getDefaultCCachePath()} {
		if !fileExists(path) {
			continue
		}
		ccache, err := credentials.LoadCCache(path)
		if err != nil {
			return nil, fmt.Errorf("load credential cache %s: %w", path, err)
		}
		cl, err := krb5client.NewFromCCache(ccache, krb5conf, settings...)
		if err != nil {
			return nil, fmt.Errorf("client from credential cache %s: %w", path, err)
		}
		LogKerberosEvent(ctx, "credentials_cached", map[string]any{"ccache": path})
		return &gssapi.Client{Client: cl}, nil
	}

	if principal == "" {
		return nil, ErrNoKerberosCredentials
	}

	for _, path := range []string{cfg.KerberosKeytab, getDefaultKeytabPath()} {
		if !fileExists(path) {
			continue
		}
		kt, err := keytab.Load(path)
		if err != nil {
			LogKerberosEvent(ctx, "keytab_load_failed", map[string]any{"keytab": path, "error": err.Error()})
			return nil, fmt.Errorf("load keytab %s: %w", path, err)
		}
		LogKerberosEvent(ctx, "keytab_loaded", map[string]any{"keytab": path})
		return &gssapi.Client{Client: krb5client.NewWithKeytab(principal, realm, kt, krb5conf, settings...)}, nil
	}

	if cfg.BindPassword != "" {
		return &gssapi.Client{Client: krb5client.NewWithPassword(principal, realm, cfg.BindPassword, krb5conf, settings...)}, nil
	}

	return nil, ErrNoKerberosCredentials
}

// splitPrincipal separates "user@REALM". An explicit realm wins over the
// realm suffix.
func splitPrincipal(bindDN, realm string) (string, string) {
	principal := bindDN
	if at := strings.LastIndex(bindDN, "@"); at >= 0 {
		principal = bindDN[:at]
		if realm == "" {
			realm = bindDN[at+1:]
		}
	}
	return principal, strings.ToUpper(realm)
}

// buildServicePrincipal constructs the LDAP service principal name from server info.
// If cfg.KerberosSPN is set, it overrides the automatic SPN construction.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if serverInfo == nil || serverInfo.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	return "ldap/" + serverInfo.Host, nil
}

func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func getDefaultKeytabPath() string {
	if kt := os.Getenv("KRB5_KTNAME"); kt != "" {
		return strings.TrimPrefix(kt, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// LogKerberosEvent logs Kerberos-specific events.
func LogKerberosEvent(ctx context.Context, event string, fields map[string]any) {
	logFields := logging.SanitizeFields(fields)
	logFields["event"] = event

	logger := logging.New(ctx, logging.SubsystemKerberos)
	switch event {
	case "ticket_acquired", "keytab_loaded", "credentials_cached":
		logger.Info("Kerberos event", logFields)
	case "ticket_acquisition_failed", "keytab_load_failed", "authentication_failed", "config_load_failed":
		logger.Error("Kerberos event", logFields)
	case "principal_resolved", "config_generated":
		logger.Debug("Kerberos event", logFields)
	default:
		logger.Trace("Kerberos event", logFields)
	}
}
