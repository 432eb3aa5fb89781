package cmd

import (
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/exitcode"
	"github.com/felixgeelhaar/dispatch/internal/finding"
	"github.com/felixgeelhaar/dispatch/internal/plan"
	"github.com/felixgeelhaar/dispatch/internal/scheduler"
	"github.com/felixgeelhaar/dispatch/internal/ux"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a plan",
	Long: `Compile a plan, execute it layer by layer against the registered
capabilities and print the aggregated result.

Every step of the run is written to the audit log under the run's request id.
The exit code reflects the outcome: 0 when every task succeeded, 4 when some
tasks failed or were skipped, 3 when the plan was rejected, 5 when the run
deadline passed and 130 when the run was interrupted.`,
	Example: `  dispatch run --plan plan.yaml
  dispatch run --plan plan.json --objective "Why is checkout failing?" --format json
  dispatch run --plan plan.yaml --fail-fast --metrics-addr :9090`,
	Args: noArgs,
	RunE: runRun,
}

var (
	runPlanFile    string
	runRequestID   string
	runObjective   string
	runMetricsAddr string
	runFailFast    bool
)

func init() {
	runCmd.Flags().StringVarP(&runPlanFile, "plan", "p", "", "plan file (JSON or YAML)")
	runCmd.Flags().StringVar(&runRequestID, "request-id", "", "request id for the run (default: generated UUID)")
	runCmd.Flags().StringVar(&runObjective, "objective", "", "user objective shown to every worker")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the run executes")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "stop starting tasks after the first failure")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if runPlanFile == "" {
		return exitcode.Usage(stderrors.New("--plan is required"))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("fail-fast") {
		cfg.Scheduler.FailFast = runFailFast
	}
	if runMetricsAddr != "" {
		cfg.Metrics.Addr = runMetricsAddr
	}

	formatter, err := newFormatter(cmd)
	if err != nil {
		return err
	}

	logger, cleanup := setupObservability(ctx, cfg, cmd.ErrOrStderr())
	defer cleanup()

	raw, err := plan.LoadPlan(runPlanFile)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.WithError(cerr).Warn("failed to close audit store")
		}
	}()

	if cfg.Metrics.Addr != "" {
		stop, err := serveMetrics(cfg.Metrics.Addr, a.gatherer, logger)
		if err != nil {
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
		defer stop()
	}

	agg, runErr := a.scheduler.Run(ctx, raw, scheduler.Request{
		RequestID: runRequestID,
		Objective: runObjective,
	})
	if agg != nil {
		if err := formatter.Format(ux.AggregateView{Aggregate: agg}); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	return statusError(agg)
}

// statusError turns a partially successful run into an error carrying the
// matching exit code.
func statusError(agg *finding.Aggregate) error {
	if exitcode.ForStatus(agg.Status) == exitcode.Success {
		return nil
	}
	return errors.NewRunPartialError(agg.RequestID, len(agg.Failed), len(agg.Skipped))
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return exitcode.Usage(err)
	}
	return nil
}
