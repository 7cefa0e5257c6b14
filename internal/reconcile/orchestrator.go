package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/isometry/ldap-sync/internal/logging"
)

// Orchestrator runs one sync pass over every configured source.
type Orchestrator struct {
	sources []Source
	engine  *Engine
}

// NewOrchestrator creates an orchestrator applying the diffs of sources
// through engine, in the given source order.
func NewOrchestrator(engine *Engine, sources ...Source) *Orchestrator {
	return &Orchestrator{sources: sources, engine: engine}
}

// Run performs one pass. Sources are independent: a failing source is logged
// and the remaining sources still run. The returned error aggregates every
// source failure. Per-user failures are only logged and counted.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger := logging.New(ctx, logging.SubsystemSync)
	start := time.Now()

	var result *multierror.Error
	for _, src := range o.sources {
		if err := o.runSource(ctx, src); err != nil {
			logger.Error("Failed to sync source", map[string]any{"source": src.Name(), "error": err.Error()})
			result = multierror.Append(result, fmt.Errorf("source %s: %w", src.Name(), err))
		}
	}

	logging.LogPerformance(ctx, logging.SubsystemSync, "sync_pass", time.Since(start), map[string]any{
		"sources": len(o.sources),
		"failed":  failedCount(result),
		"dry_run": o.engine.config.Features.DryRun,
	})
	return result.ErrorOrNil()
}

func (o *Orchestrator) runSource(ctx context.Context, src Source) error {
	logger := logging.New(ctx, logging.SubsystemSync)

	diff, err := src.GetDiff(ctx)
	if err != nil {
		return err
	}

	buckets := Classify(diff)
	logger.Info("Applying source changes", map[string]any{
		"source":  src.Name(),
		"create":  len(buckets.Create),
		"disable": len(buckets.Disable),
		"enable":  len(buckets.Enable),
		"update":  len(buckets.Update),
		"delete":  len(buckets.Delete),
	})

	report := o.engine.Apply(ctx, buckets)

	fields := report.Fields()
	fields["source"] = src.Name()
	logger.Info("Finished applying source changes", fields)
	return nil
}

func failedCount(err *multierror.Error) int {
	if err == nil {
		return 0
	}
	return len(err.Errors)
}
