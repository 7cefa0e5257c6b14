// Package logging sets up the structured logger used throughout ldap-sync.
//
// Logs are JSON lines written to stderr by an hclog root logger held in the
// context. Each component logs to its own subsystem so that verbosity can be
// tuned per subsystem through LDAP_SYNC_LOG_<SUBSYSTEM> environment variables,
// e.g. LDAP_SYNC_LOG_LDAP=trace.
package logging

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
)

// LogName is the name of the root logger.
const LogName = "ldap-sync"

// Subsystems.
const (
	SubsystemLDAP      = "ldap"
	SubsystemPool      = "pool"
	SubsystemKerberos  = "kerberos"
	SubsystemSource    = "source"
	SubsystemDirectory = "directory"
	SubsystemSync      = "sync"
)

// Subsystems lists every subsystem registered by WithSubsystems.
var Subsystems = []string{
	SubsystemLDAP,
	SubsystemPool,
	SubsystemKerberos,
	SubsystemSource,
	SubsystemDirectory,
	SubsystemSync,
}

// EnvPrefix prefixes the per-subsystem level environment variables.
const EnvPrefix = "LDAP_SYNC_LOG_"

// NewRootLogger returns a context carrying the root logger at the given
// level, plus every subsystem logger. An empty or unknown level means info.
func NewRootLogger(ctx context.Context, level string) context.Context {
	lvl := ParseLevel(level)

	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName(LogName),
		tfsdklog.WithLevel(lvl),
		tfsdklog.WithoutLocation(),
	)

	return WithSubsystems(ctx)
}

// WithSubsystems registers every subsystem logger on the root logger in ctx.
// Subsystem levels default to the root level and can be overridden from the
// environment.
func WithSubsystems(ctx context.Context) context.Context {
	for _, subsystem := range Subsystems {
		ctx = tflog.NewSubsystem(ctx, subsystem,
			tflog.WithLevelFromEnv(EnvPrefix+strings.ToUpper(subsystem)))
	}
	return ctx
}

// ParseLevel maps a configured level name to an hclog level.
func ParseLevel(level string) hclog.Level {
	if level == "" {
		return hclog.Info
	}
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		return hclog.Info
	}
	return lvl
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	if level == "" {
		return true
	}
	return hclog.LevelFromString(level) != hclog.NoLevel
}
