package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/dispatch/internal/config"
	"github.com/felixgeelhaar/dispatch/internal/exitcode"
	"github.com/felixgeelhaar/dispatch/internal/ux"
)

var (
	cfgFile      string
	logLevel     string
	logFormat    string
	noColor      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Execute capability plans with bounded context and audited results",
	Long: `dispatch is the execution core of a control plane for tool-using workers.
It compiles a plan of subtasks into dependency layers, hands every subtask to
the worker registered for its capability inside a token-bounded context
envelope, validates each result against safety, redaction and quality policy,
and records every step in a hash-chained audit log that can be replayed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx. Cancelling ctx cancels the
// run in progress.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .dispatch/config.yaml, ./dispatch.yaml or ~/.dispatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "text", "output format: text, json, yaml")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitcode.Usage(err)
	})
}

// loadConfig resolves the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		discovered, err := ux.DiscoverConfigFile()
		if err != nil {
			return nil, err
		}
		path = discovered
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, exitcode.Usage(config.ValidationErrors(errs))
	}
	return cfg, nil
}

// newFormatter returns the formatter selected by --format.
func newFormatter(cmd *cobra.Command) (ux.Formatter, error) {
	f, err := ux.NewFormatter(outputFormat, &ux.FormatterOptions{
		Writer:  cmd.OutOrStdout(),
		NoColor: noColor,
	})
	if err != nil {
		return nil, exitcode.Usage(err)
	}
	return f, nil
}
