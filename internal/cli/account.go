package cli

import (
	"context"

	"matchgate/internal/api"
	"matchgate/internal/common"
	"matchgate/internal/registry"

	"github.com/spf13/cobra"
)

var (
	profileConfig  common.CommandConfig
	settingsConfig common.CommandConfig
	statsConfig    common.CommandConfig
	resumesConfig  common.CommandConfig
	uploadConfig   common.CommandConfig

	profileName     string
	profileHeadline string
	profileLocation string
	profileSkills   []string

	alertFrequency string
	theme          string
	jobAlerts      bool
	emailNotify    bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update your profile",
	Long: `Show your profile. Passing any of the update flags changes those fields
and prints the updated profile.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var update api.ProfileUpdate
		changed := false
		if cmd.Flags().Changed("name") {
			update.FullName, changed = &profileName, true
		}
		if cmd.Flags().Changed("headline") {
			update.Headline, changed = &profileHeadline, true
		}
		if cmd.Flags().Changed("location") {
			update.Location, changed = &profileLocation, true
		}
		if cmd.Flags().Changed("skill") {
			update.Skills, changed = profileSkills, true
		}

		return runCall(cmd, profileConfig, "profile", func(ctx context.Context, stack *registry.Stack) (api.Profile, error) {
			core := api.NewCore(stack.Registry.Core())
			if changed {
				return core.UpdateProfile(ctx, update)
			}
			return core.GetProfile(ctx)
		})
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change notification and display settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		changed := flags.Changed("alerts") || flags.Changed("email") ||
			flags.Changed("alert-frequency") || flags.Changed("theme")

		return runCall(cmd, settingsConfig, "settings", func(ctx context.Context, stack *registry.Stack) (api.Settings, error) {
			core := api.NewCore(stack.Registry.Core())
			settings, err := core.GetSettings(ctx)
			if err != nil || !changed {
				return settings, err
			}
			if flags.Changed("alerts") {
				settings.JobAlerts = jobAlerts
			}
			if flags.Changed("email") {
				settings.EmailNotifications = emailNotify
			}
			if flags.Changed("alert-frequency") {
				settings.AlertFrequency = alertFrequency
			}
			if flags.Changed("theme") {
				settings.Theme = theme
			}
			return core.UpdateSettings(ctx, settings)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dashboard counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd, statsConfig, "stats", func(ctx context.Context, stack *registry.Stack) (api.Stats, error) {
			return api.NewCore(stack.Registry.Core()).GetStats(ctx)
		})
	},
}

var resumesCmd = &cobra.Command{
	Use:   "resumes",
	Short: "List your uploaded resumes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd, resumesConfig, "resumes.list", func(ctx context.Context, stack *registry.Stack) (api.ResumeList, error) {
			return api.NewCore(stack.Registry.Core()).ListResumes(ctx)
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a resume (pdf, doc, docx, txt or md)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd.Context())
		if err != nil {
			return err
		}
		logger, err := getLoggerFromContext(cmd.Context())
		if err != nil {
			return err
		}
		content, err := common.NewFileProcessor(logger).ReadUpload(args[0], cfg.App.MaxUploadSize)
		if err != nil {
			return err
		}
		return runCall(cmd, uploadConfig, "resumes.upload", func(ctx context.Context, stack *registry.Stack) (api.Resume, error) {
			return api.NewCore(stack.Registry.Core()).UploadResume(ctx, args[0], content)
		})
	},
}

func init() {
	profileCmd.Flags().StringVar(&profileName, "name", "", "Set full name")
	profileCmd.Flags().StringVar(&profileHeadline, "headline", "", "Set headline")
	profileCmd.Flags().StringVar(&profileLocation, "location", "", "Set location")
	profileCmd.Flags().StringSliceVar(&profileSkills, "skill", nil, "Set skills (repeatable)")

	settingsCmd.Flags().BoolVar(&jobAlerts, "alerts", false, "Enable job alerts")
	settingsCmd.Flags().BoolVar(&emailNotify, "email", false, "Enable email notifications")
	settingsCmd.Flags().StringVar(&alertFrequency, "alert-frequency", "", "Alert frequency: daily, weekly, never")
	settingsCmd.Flags().StringVar(&theme, "theme", "", "Theme: light, dark, system")

	addOutputFlags(profileCmd, &profileConfig)
	addOutputFlags(settingsCmd, &settingsConfig)
	addOutputFlags(statsCmd, &statsConfig)
	addOutputFlags(resumesCmd, &resumesConfig)
	addOutputFlags(uploadCmd, &uploadConfig)

	resumesCmd.AddCommand(uploadCmd)
}
