package cmd

import (
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/dispatch/internal/exitcode"
	"github.com/felixgeelhaar/dispatch/internal/plan"
	"github.com/felixgeelhaar/dispatch/internal/ux"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect plans without executing them",
	Long: `Check a plan against the registered capabilities and show the execution
layering the scheduler would use. Nothing is executed and nothing is written
to the audit log.`,
}

var planValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that a plan compiles",
	Long: `Compile a plan and report the first problem found: a task without a name,
a repeated name, a dependency on a task that is not in the plan, a capability
that is not registered, or a dependency cycle.`,
	Example: `  dispatch plan validate --plan plan.yaml`,
	Args:    noArgs,
	RunE:    runPlanValidate,
}

var planLayersCmd = &cobra.Command{
	Use:     "layers",
	Short:   "Show the execution layers of a plan",
	Example: `  dispatch plan layers --plan plan.yaml --format json`,
	Args:    noArgs,
	RunE:    runPlanLayers,
}

var planFile string

func init() {
	planCmd.PersistentFlags().StringVarP(&planFile, "plan", "p", "", "plan file (JSON or YAML)")

	planCmd.AddCommand(planValidateCmd)
	planCmd.AddCommand(planLayersCmd)
	rootCmd.AddCommand(planCmd)
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	compiled, err := compilePlanFile()
	if err != nil {
		return err
	}

	formatter, err := newFormatter(cmd)
	if err != nil {
		return err
	}
	if outputFormat == "text" {
		return formatter.Format(fmt.Sprintf("plan is valid: %d tasks in %d layers (%s)",
			compiled.Len(), len(compiled.Layers), compiled.Hash))
	}
	return formatter.Format(ux.LayersView{Plan: compiled})
}

func runPlanLayers(cmd *cobra.Command, args []string) error {
	compiled, err := compilePlanFile()
	if err != nil {
		return err
	}

	formatter, err := newFormatter(cmd)
	if err != nil {
		return err
	}
	return formatter.Format(ux.LayersView{Plan: compiled})
}

// compilePlanFile compiles --plan against the configured capabilities.
func compilePlanFile() (*plan.CompiledPlan, error) {
	if planFile == "" {
		return nil, exitcode.Usage(stderrors.New("--plan is required"))
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	raw, err := plan.LoadPlan(planFile)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(cfg.Capabilities, cfg.Scheduler.CancelGrace)
	if err != nil {
		return nil, err
	}

	return plan.Compile(raw, reg)
}
