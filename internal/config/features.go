package config

import (
	"slices"

	"github.com/isometry/ldap-sync/internal/reconcile"
)

// FeatureFlag is an opt-in behaviour.
type FeatureFlag string

const (
	FeatureSSOLogin       FeatureFlag = "sso_login"
	FeatureVerifyEmail    FeatureFlag = "verify_email"
	FeatureVerifyPhone    FeatureFlag = "verify_phone"
	FeatureDryRun         FeatureFlag = "dry_run"
	FeatureDeactivateOnly FeatureFlag = "deactivate_only"
)

// KnownFeatureFlags lists every accepted flag.
var KnownFeatureFlags = []FeatureFlag{
	FeatureSSOLogin,
	FeatureVerifyEmail,
	FeatureVerifyPhone,
	FeatureDryRun,
	FeatureDeactivateOnly,
}

// Enabled reports whether flag is set.
func (c *Config) Enabled(flag FeatureFlag) bool {
	return slices.Contains(c.FeatureFlags, flag)
}

// Features returns the toggles consumed by the reconcile engine.
func (c *Config) Features() reconcile.Features {
	return reconcile.Features{
		DryRun:                   c.Enabled(FeatureDryRun),
		DeactivateOnly:           c.Enabled(FeatureDeactivateOnly),
		RequireEmailVerification: c.Enabled(FeatureVerifyEmail),
		RequirePhoneVerification: c.Enabled(FeatureVerifyPhone),
		SSOLogin:                 c.Enabled(FeatureSSOLogin),
	}
}
