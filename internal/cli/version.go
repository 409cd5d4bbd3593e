package cli

import (
	"runtime"

	"matchgate/internal/common"

	"github.com/spf13/cobra"
)

var (
	// Version information - can be set during build with ldflags
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionConfig common.CommandConfig

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := getLoggerFromContext(cmd.Context())
		if err != nil {
			return err
		}
		info := map[string]string{
			"version":    Version,
			"git_commit": GitCommit,
			"build_date": BuildDate,
			"go":         runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		}
		return common.NewOutputHandler(logger).HandleOutput(info, versionConfig)
	},
}

func init() {
	addOutputFlags(versionCmd, &versionConfig)
	versionConfig.OutputFormat = "text"
}
