package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/dispatch/internal/ux"
)

var capabilitiesCmd = &cobra.Command{
	Use:     "capabilities",
	Aliases: []string{"caps"},
	Short:   "List the registered capabilities",
	Long: `List every capability registered from the configuration together with its
description, tool allowlist and health. Plans may only name capabilities shown
here.`,
	Args: noArgs,
	RunE: runCapabilities,
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := buildRegistry(cfg.Capabilities, cfg.Scheduler.CancelGrace)
	if err != nil {
		return err
	}

	formatter, err := newFormatter(cmd)
	if err != nil {
		return err
	}
	return formatter.Format(ux.CapabilitiesView{Entries: reg.List(), Health: reg.Health()})
}
