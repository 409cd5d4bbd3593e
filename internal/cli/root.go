package cli

import (
	"context"
	"fmt"

	"matchgate/internal/common"
	"matchgate/internal/config"
	"matchgate/internal/errors"
	"matchgate/internal/registry"

	"github.com/spf13/cobra"
)

// Define custom private types for context keys.
type configKeyType struct{}
type loggerKeyType struct{}

// Use variables of these types as the keys.
var configKey = configKeyType{}
var loggerKey = loggerKeyType{}

var rootCmd = &cobra.Command{
	Use:   "matchgate",
	Short: "Authenticated gateway to the job matching platform",
	Long: `Matchgate talks to the job matching platform's core, matching and
analysis services on your behalf. It keeps your session token, refreshes it
before it runs out, and reports failures in a way you can act on.

Run 'matchgate login' first, then query jobs, match resumes or start a local
proxy with 'matchgate serve'.`,
	SilenceUsage: true,
}

func Execute(ctx context.Context, cfg *config.Config, logger *errors.Logger) error {
	// Attach the config and logger to the context, making them available to all subcommands
	ctx = context.WithValue(ctx, configKey, cfg)
	ctx = context.WithValue(ctx, loggerKey, logger)
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}

// getConfigFromContext is a helper function to get config from context
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
		return cfg, nil
	}
	return nil, fmt.Errorf("config not found in context")
}

// getLoggerFromContext is a helper function to get logger from context
func getLoggerFromContext(ctx context.Context) (*errors.Logger, error) {
	if logger, ok := ctx.Value(loggerKey).(*errors.Logger); ok {
		return logger, nil
	}
	return nil, fmt.Errorf("logger not found in context")
}

// withStack builds the client stack for one command and closes it after.
func withStack(cmd *cobra.Command, fn func(ctx context.Context, stack *registry.Stack) error, opts ...registry.Option) error {
	cfg, err := getConfigFromContext(cmd.Context())
	if err != nil {
		return err
	}
	logger, err := getLoggerFromContext(cmd.Context())
	if err != nil {
		return err
	}

	stack, err := registry.Build(cfg, logger, Version, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize clients: %w", err)
	}
	defer func() {
		if err := stack.Close(context.Background()); err != nil {
			logger.LogError(err, "Failed to release client stack")
		}
	}()

	return fn(cmd.Context(), stack)
}

// addOutputFlags registers --output and --format on cmd and fills in the
// default format before it runs.
func addOutputFlags(cmd *cobra.Command, cc *common.CommandConfig) {
	cmd.Flags().StringVarP(&cc.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().StringVar(&cc.OutputFormat, "format", "", "Output format: json, yaml or text")

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg, err := getConfigFromContext(cmd.Context())
		if err != nil {
			return []string{}, cobra.ShellCompDirectiveError
		}
		return common.GetSupportedFormats(cfg.App.SupportedFormats), cobra.ShellCompDirectiveNoFileComp
	})

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd.Context())
		if err != nil {
			return err
		}
		// Apply default format if not specified
		if cc.OutputFormat == "" {
			cc.OutputFormat = cfg.App.DefaultFormat
		}
		// Validate format against supported formats
		return common.ValidateOutputFormat(cc.OutputFormat, cfg.App.SupportedFormats)
	}
}

// runCall executes call against a freshly built stack and prints the result.
func runCall[Output any](cmd *cobra.Command, cc common.CommandConfig, operation string, call func(context.Context, *registry.Stack) (Output, error)) error {
	return withStack(cmd, func(ctx context.Context, stack *registry.Stack) error {
		return common.RunCall(ctx, stack.Logger, cc, operation, func(ctx context.Context) (Output, error) {
			return call(ctx, stack)
		})
	})
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(resumesCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(marketCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
