package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/dispatch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information including version number, git commit,
build date, Go version, and platform.`,
	Args: noArgs,
	RunE: runVersion,
}

var versionShort bool

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")

	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.GetInfo()

	formatter, err := newFormatter(cmd)
	if err != nil {
		return err
	}
	if outputFormat != "text" {
		return formatter.Format(info)
	}
	if versionShort {
		return formatter.Format(info.Short())
	}
	return formatter.Format(info.String())
}
