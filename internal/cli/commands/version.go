package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fmdata/internal/cli/config"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the fmdata version and the Data API version it targets by default.`,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "fmdata v%s %s/%s\n", version, runtime.GOOS, runtime.GOARCH)
			_, _ = fmt.Fprintf(out, "FileMaker Data API client (default API version %s)\n", config.DefaultAPIVersion)
		},
	}
}
