package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/isometry/ldap-sync/internal/config"
	"github.com/isometry/ldap-sync/internal/logging"
	"github.com/isometry/ldap-sync/internal/reconcile"
	"github.com/isometry/ldap-sync/internal/zitadel"
)

func newSyncCmd(opts *options) *cobra.Command {
	var (
		schedule string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync pass, or keep running passes on a schedule",
		Long: `Reads every configured source and applies the differences to Zitadel.

Without a schedule a single pass runs and the command exits non-zero when a
source failed. With --schedule or the schedule configuration key, passes run
on the cron schedule until the process is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			if dryRun && !cfg.Enabled(config.FeatureDryRun) {
				cfg.FeatureFlags = append(cfg.FeatureFlags, config.FeatureDryRun)
			}
			if cmd.Flags().Changed("schedule") {
				cfg.Schedule = schedule
			}

			runner, err := newRunner(ctx, cfg)
			if err != nil {
				return err
			}
			defer runner.Close()

			if cfg.Schedule == "" {
				return runner.Run(ctx)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScheduled(ctx, cfg.Schedule, runner.Run)
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression, overrides schedule from the configuration")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log intended changes without applying them")
	return cmd
}

// runner holds the clients shared by every pass.
type runner struct {
	orchestrator *reconcile.Orchestrator
	closers      []func()
}

func newRunner(ctx context.Context, cfg *config.Config) (*runner, error) {
	client, err := zitadel.New(ctx, cfg.Zitadel.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create zitadel client: %w", err)
	}

	sources, closers, err := buildSources(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine := reconcile.NewEngine(client, cfg.EngineConfig())
	return &runner{
		orchestrator: reconcile.NewOrchestrator(engine, sources...),
		closers:      closers,
	}, nil
}

func (r *runner) Run(ctx context.Context) error {
	return r.orchestrator.Run(ctx)
}

func (r *runner) Close() {
	for _, closeFn := range r.closers {
		closeFn()
	}
}

// runScheduled runs pass on schedule until ctx is done. A pass is skipped while
// the previous one is still running.
func runScheduled(ctx context.Context, schedule string, pass func(context.Context) error) error {
	logger := logging.New(ctx, logging.SubsystemSync)
	cronLogger := &cronLogger{logger: logger}

	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		if err := pass(ctx); err != nil {
			logger.Error("Sync pass failed", map[string]any{"error": err.Error()})
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	logger.Info("Starting scheduled sync", map[string]any{"schedule": schedule})
	c.Start()
	<-ctx.Done()

	logger.Info("Stopping scheduled sync", nil)
	<-c.Stop().Done()
	return nil
}

// cronLogger forwards cron events to the sync subsystem.
type cronLogger struct {
	logger *logging.SubsystemLogger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, pairs(keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := pairs(keysAndValues)
	fields["error"] = err.Error()
	l.logger.Error(msg, fields)
}

func pairs(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
