package cmd

import (
	stderrors "errors"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/dispatch/internal/audit"
	"github.com/felixgeelhaar/dispatch/internal/exitcode"
	"github.com/felixgeelhaar/dispatch/internal/ux"
)

var replayCmd = &cobra.Command{
	Use:   "replay REQUEST_ID",
	Short: "Reconstruct a run from its audit log",
	Long: `Read every audit event recorded for REQUEST_ID, verify the hash chain and
recompute the aggregate from the recorded plan and findings. The command fails
when the chain is broken and exits with status 1 when the recomputed aggregate
disagrees with the one recorded at the end of the run.`,
	Example: `  dispatch replay 0b6f3c52-8c1e-4f43-9a55-3e4f1d2c7a90
  dispatch replay --list`,
	RunE: runReplay,
}

var replayList bool

var (
	errReplayArgs         = stderrors.New("replay takes exactly one REQUEST_ID, or --list without arguments")
	errReplayInconsistent = stderrors.New("recomputed aggregate does not match the recorded aggregate")
)

func init() {
	replayCmd.Flags().BoolVar(&replayList, "list", false, "list the request ids in the audit log")

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if replayList && len(args) > 0 {
		return exitcode.Usage(errReplayArgs)
	}
	if !replayList && len(args) != 1 {
		return exitcode.Usage(errReplayArgs)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup := setupObservability(ctx, cfg, cmd.ErrOrStderr())
	defer cleanup()

	formatter, err := newFormatter(cmd)
	if err != nil {
		return err
	}

	store, err := openAuditStore(cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if replayList {
		ids, err := store.RequestIDs(ctx)
		if err != nil {
			return err
		}
		return formatter.Format(ids)
	}

	replay, err := audit.ReplayRun(ctx, store, args[0])
	if err != nil {
		return err
	}
	if err := formatter.Format(ux.ReplayView{Replay: replay}); err != nil {
		return err
	}
	if !replay.Consistent {
		return errReplayInconsistent
	}
	return nil
}
