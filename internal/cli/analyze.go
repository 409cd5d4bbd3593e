package cli

import (
	"context"

	"matchgate/internal/api"
	"matchgate/internal/common"
	"matchgate/internal/registry"

	"github.com/spf13/cobra"
)

var (
	analyzeConfig common.CommandConfig
	analyzeFocus  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [resume-file] [job-description-file]",
	Short: "Compare a resume with a job description",
	Long: `Send a resume and a job description to the analysis service and get back
a fit score with strengths, gaps and recommendations.

Analysis runs on a language model and can take a while; the llm service has
the longest timeout of the three backends.`,
	Args: cobra.ExactArgs(2),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFocus, "focus", "", "Focus: skills, experience, gaps or overall")
	addOutputFlags(analyzeCmd, &analyzeConfig)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	logger, err := getLoggerFromContext(cmd.Context())
	if err != nil {
		return err
	}

	contents, err := common.NewFileProcessor(logger).ValidateAndReadFiles(args...)
	if err != nil {
		return err
	}
	req := api.AnalysisRequest{
		ResumeText:     contents[0],
		JobDescription: contents[1],
		Focus:          analyzeFocus,
	}

	logger.Info("Starting resume analysis",
		"resume_chars", len(req.ResumeText),
		"job_chars", len(req.JobDescription),
		"output_format", analyzeConfig.OutputFormat)

	return runCall(cmd, analyzeConfig, "analyze", func(ctx context.Context, stack *registry.Stack) (api.Analysis, error) {
		return api.NewLLM(stack.Registry.LLM()).AnalyzeResume(ctx, req)
	})
}
