package cmd

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/dispatch/internal/config"
	"github.com/felixgeelhaar/dispatch/internal/health"
	"github.com/felixgeelhaar/dispatch/internal/log"
	"github.com/felixgeelhaar/dispatch/internal/ux"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local dependencies of dispatch",
	Long: `Check that the audit store can be opened, the policy compiles, every exec
worker's program is on PATH and, when tracing is enabled, the collector is
reachable. Exits with status 1 when any check is unhealthy.`,
	Args: noArgs,
	RunE: runDoctor,
}

var errUnhealthy = stderrors.New("one or more health checks failed")

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	formatter, err := newFormatter(cmd)
	if err != nil {
		return err
	}

	results := newHealthManager(cfg, log.Discard()).Check(cmd.Context())
	if err := formatter.Format(ux.HealthView{Results: results}); err != nil {
		return err
	}
	if health.Overall(results) == health.StatusUnhealthy {
		return errUnhealthy
	}
	return nil
}

// newHealthManager registers one check per configured dependency.
func newHealthManager(cfg *config.Config, logger *log.Logger) *health.Manager {
	m := health.NewManager()

	switch cfg.Audit.Sink {
	case config.SinkFile, config.SinkBadger:
		m.Add(health.NewDirChecker("audit-dir", cfg.Audit.Dir))
	}
	m.Add(health.CheckFunc("audit-store", func(ctx context.Context) *health.Result {
		store, err := openAuditStore(cfg.Audit, logger)
		if err != nil {
			return health.Unhealthy("audit store cannot be opened").WithDetail("error", err.Error())
		}
		defer func() { _ = store.Close() }()

		ids, err := store.RequestIDs(ctx)
		if err != nil {
			return health.Unhealthy("audit store cannot be read").WithDetail("error", err.Error())
		}
		return health.Healthy(fmt.Sprintf("%d runs recorded", len(ids))).WithDetail("sink", cfg.Audit.Sink)
	}))

	m.Add(health.CheckFunc("policy", func(context.Context) *health.Result {
		pipe, err := loadPipeline(cfg.Validation.PolicyFile)
		if err != nil {
			return health.Unhealthy("policy does not compile").WithDetail("error", err.Error())
		}
		source := cfg.Validation.PolicyFile
		if source == "" {
			source = "built-in"
		}
		return health.Healthy("policy compiles").
			WithDetail("source", source).
			WithDetail("hard_constraints", len(pipe.HardConstraints()))
	}))

	for _, c := range cfg.Capabilities {
		if c.Kind == config.KindExec {
			m.Add(health.NewExecutableChecker(c.Name, c.Command))
		}
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Exporter == "otlp" {
		m.Add(health.NewEndpointChecker("telemetry-collector", cfg.Telemetry.Endpoint))
	}
	return m
}
