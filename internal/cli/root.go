// Package cli implements the ldap-sync command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isometry/ldap-sync/internal/config"
	"github.com/isometry/ldap-sync/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return execute(context.Background(), os.Args[1:])
}

func execute(ctx context.Context, args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "ldap-sync",
		Short:         "Synchronise users from LDAP, CSV and disable lists into Zitadel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "",
		fmt.Sprintf("configuration file (default $%s or %s)", config.EnvConfigPath, config.DefaultConfigPath))
	flags.StringVar(&opts.logLevel, "log-level", "", "log level, overrides log_level from the configuration")

	rootCmd.AddCommand(
		newSyncCmd(opts),
		newValidateCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// load reads the configuration and sets up logging for cmd.
func (o *options) load(cmd *cobra.Command) (context.Context, *config.Config, error) {
	cfg, err := config.Load(config.Path(o.configPath))
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if o.logLevel != "" {
		if !logging.ValidLevel(o.logLevel) {
			return nil, nil, fmt.Errorf("invalid --log-level %q", o.logLevel)
		}
		level = o.logLevel
	}

	return logging.NewRootLogger(cmd.Context(), level), cfg, nil
}
