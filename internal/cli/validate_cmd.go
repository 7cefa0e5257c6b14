package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isometry/ldap-sync/internal/config"
	"github.com/isometry/ldap-sync/internal/ldap"
)

func newValidateCmd(opts *options) *cobra.Command {
	var connect bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		Long: `Loads and validates the configuration without contacting any service.

With --connect, the LDAP source additionally binds a connection and reads
the base DN entry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			// certificate files are only read when the LDAP source is built
			if l := cfg.Sources.LDAP; l != nil {
				connConfig, err := l.ConnectionConfig()
				if err != nil {
					return err
				}

				if connect {
					client, err := ldap.NewClient(ctx, connConfig)
					if err != nil {
						return fmt.Errorf("failed to create LDAP client: %w", err)
					}
					defer client.Close() //nolint:errcheck
					if err := client.Connect(ctx); err != nil {
						return err
					}
					if err := ldap.CheckBaseDN(ctx, client, l.BaseDN); err != nil {
						return err
					}
				}
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Configuration %s is valid.\n", config.Path(opts.configPath))
			return err
		},
	}

	cmd.Flags().BoolVar(&connect, "connect", false, "also test the LDAP connection")
	return cmd
}
