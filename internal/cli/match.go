package cli

import (
	"context"
	"fmt"

	"matchgate/internal/api"
	"matchgate/internal/common"
	"matchgate/internal/registry"

	"github.com/spf13/cobra"
)

var (
	matchConfig  common.CommandConfig
	marketConfig common.CommandConfig

	matchReq    api.MatchRequest
	matchResume string
	marketQuery api.MarketQuery
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Score a resume against job listings",
	Long: `Score a resume against job listings with the matching service. Use
--resume-id for a resume you uploaded, or --resume to send a local text file.
Without --job the service picks the best jobs itself.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := matchReq
		switch {
		case matchResume != "" && req.ResumeID != "":
			return fmt.Errorf("use either --resume or --resume-id, not both")
		case matchResume != "":
			logger, err := getLoggerFromContext(cmd.Context())
			if err != nil {
				return err
			}
			contents, err := common.NewFileProcessor(logger).ValidateAndReadFiles(matchResume)
			if err != nil {
				return err
			}
			req.ResumeText = contents[0]
		case req.ResumeID == "":
			return fmt.Errorf("one of --resume or --resume-id is required")
		}

		return runCall(cmd, matchConfig, "match", func(ctx context.Context, stack *registry.Stack) (api.MatchResult, error) {
			return api.NewML(stack.Registry.ML()).MatchResume(ctx, req)
		})
	},
}

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Show job market analytics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := marketQuery
		return runCall(cmd, marketConfig, "market", func(ctx context.Context, stack *registry.Stack) (api.MarketAnalytics, error) {
			return api.NewML(stack.Registry.ML()).MarketAnalytics(ctx, q)
		})
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchReq.ResumeID, "resume-id", "", "ID of an uploaded resume")
	matchCmd.Flags().StringVar(&matchResume, "resume", "", "Local resume text file")
	matchCmd.Flags().StringSliceVar(&matchReq.JobIDs, "job", nil, "Job ID to score against (repeatable)")
	matchCmd.Flags().IntVar(&matchReq.TopK, "top", 10, "Number of matches to return")

	marketCmd.Flags().StringVar(&marketQuery.Role, "role", "", "Role, for example 'backend engineer'")
	marketCmd.Flags().StringVar(&marketQuery.Location, "location", "", "Location")
	marketCmd.Flags().IntVar(&marketQuery.Days, "days", 30, "Look-back window in days")

	addOutputFlags(matchCmd, &matchConfig)
	addOutputFlags(marketCmd, &marketConfig)
}
