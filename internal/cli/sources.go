package cli

import (
	"context"
	"fmt"

	"github.com/isometry/ldap-sync/internal/config"
	"github.com/isometry/ldap-sync/internal/ldap"
	"github.com/isometry/ldap-sync/internal/reconcile"
	"github.com/isometry/ldap-sync/internal/source"
)

// buildSources creates the configured sources in their fixed order: LDAP,
// CSV, then the disable list. The returned closers release the LDAP pool.
func buildSources(ctx context.Context, cfg *config.Config) ([]reconcile.Source, []func(), error) {
	var (
		sources []reconcile.Source
		closers []func()
	)

	if l := cfg.Sources.LDAP; l != nil {
		connConfig, err := l.ConnectionConfig()
		if err != nil {
			return nil, nil, err
		}
		client, err := ldap.NewClient(ctx, connConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create LDAP client: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })

		poller := ldap.NewPoller(client, l.PollerConfig(cfg.CachePath, cfg.Features().DryRun))
		sources = append(sources, source.NewLDAP(poller, l.Attributes))
	}

	if c := cfg.Sources.CSV; c != nil {
		sources = append(sources, source.NewCSV(c.FilePath))
	}

	if d := cfg.Sources.DisableList; d != nil {
		sources = append(sources, source.NewDisableList(ctx, d.SourceConfig()))
	}

	return sources, closers, nil
}
