package cli

import (
	"context"

	"matchgate/internal/api"
	"matchgate/internal/common"
	"matchgate/internal/registry"

	"github.com/spf13/cobra"
)

var (
	jobsListConfig   common.CommandConfig
	jobsGetConfig    common.CommandConfig
	jobsScrapeConfig common.CommandConfig

	jobFilter  api.JobFilter
	remoteOnly bool
	scrapeReq  api.ScrapeRequest
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Browse and collect job listings",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs matching a filter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := jobFilter
		if cmd.Flags().Changed("remote") {
			filter.Remote = &remoteOnly
		}
		return runCall(cmd, jobsListConfig, "jobs.list", func(ctx context.Context, stack *registry.Stack) (api.JobList, error) {
			return api.NewCore(stack.Registry.Core()).ListJobs(ctx, filter)
		})
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd, jobsGetConfig, "jobs.get", func(ctx context.Context, stack *registry.Stack) (api.Job, error) {
			return api.NewCore(stack.Registry.Core()).GetJob(ctx, args[0])
		})
	},
}

var jobsScrapeCmd = &cobra.Command{
	Use:   "scrape <query>",
	Short: "Ask the platform to pull fresh listings from job boards",
	Long: `Ask the core service to scrape job boards for a query. Scraping is rate
limited upstream; when the limit is hit the error tells you when to retry.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := scrapeReq
		req.Query = args[0]
		return runCall(cmd, jobsScrapeConfig, "jobs.scrape", func(ctx context.Context, stack *registry.Stack) (api.ScrapeResult, error) {
			return api.NewCore(stack.Registry.Core()).ScrapeJobs(ctx, req)
		})
	},
}

func init() {
	f := jobsListCmd.Flags()
	f.StringVarP(&jobFilter.Query, "query", "q", "", "Free text search")
	f.StringVar(&jobFilter.Location, "location", "", "Location")
	f.BoolVar(&remoteOnly, "remote", false, "Only remote (true) or only on-site (false) jobs")
	f.StringVar(&jobFilter.EmploymentType, "type", "", "Employment type: full_time, part_time, contract, internship")
	f.StringSliceVar(&jobFilter.Skills, "skill", nil, "Required skill (repeatable)")
	f.IntVar(&jobFilter.MinSalary, "min-salary", 0, "Minimum salary")
	f.StringVar(&jobFilter.Source, "source", "", "Job board the listing came from")
	f.StringVar(&jobFilter.SortBy, "sort", "", "Sort by: posted_at, salary, relevance")
	f.IntVar(&jobFilter.Page, "page", 1, "Page number")
	f.IntVar(&jobFilter.PageSize, "page-size", api.DefaultPageSize, "Jobs per page")

	jobsScrapeCmd.Flags().StringVar(&scrapeReq.Location, "location", "", "Location")
	jobsScrapeCmd.Flags().StringSliceVar(&scrapeReq.Sources, "source", nil, "Job board to scrape (repeatable)")
	jobsScrapeCmd.Flags().IntVar(&scrapeReq.Limit, "limit", 0, "Maximum listings to pull")

	addOutputFlags(jobsListCmd, &jobsListConfig)
	addOutputFlags(jobsGetCmd, &jobsGetConfig)
	addOutputFlags(jobsScrapeCmd, &jobsScrapeConfig)

	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsScrapeCmd)
}
