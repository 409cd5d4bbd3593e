package cli

import (
	"context"
	"fmt"
	"os"

	"matchgate/internal/auth"
	"matchgate/internal/common"
	"matchgate/internal/registry"

	"github.com/spf13/cobra"
)

var (
	loginConfig    common.CommandConfig
	registerConfig common.CommandConfig
	tokenConfig    common.CommandConfig

	loginEmail    string
	loginPassword string
	registerName  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session token",
	Long: `Exchange your email and password for a session token. The token is kept
in the configured store (encrypted file, memory or redis) and refreshed
automatically before it expires.

Credentials default to MATCHGATE_EMAIL and MATCHGATE_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password, err := credentials()
		if err != nil {
			return err
		}
		return runCall(cmd, loginConfig, "login", func(ctx context.Context, stack *registry.Stack) (map[string]any, error) {
			if _, err := stack.Session.Login(ctx, email, password); err != nil {
				return nil, err
			}
			return stack.Tokens.Status(ctx)
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password, err := credentials()
		if err != nil {
			return err
		}
		req := auth.RegisterRequest{Email: email, Password: password, FullName: registerName}
		return runCall(cmd, registerConfig, "register", func(ctx context.Context, stack *registry.Stack) (map[string]any, error) {
			if _, err := stack.Session.Register(ctx, req); err != nil {
				return nil, err
			}
			return stack.Tokens.Status(ctx)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(cmd, func(ctx context.Context, stack *registry.Stack) error {
			if err := stack.Session.Logout(ctx); err != nil {
				return fmt.Errorf("logout incomplete: %w", err)
			}
			stack.Logger.Info("Logged out")
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the state of the stored session token",
	Long: `Show whether a session token is stored, who it belongs to, when it expires
and whether the next call will refresh it. The token itself is masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd, tokenConfig, "token", func(ctx context.Context, stack *registry.Stack) (map[string]any, error) {
			return stack.Tokens.Status(ctx)
		})
	},
}

// credentials reads the login flags, falling back to the environment.
func credentials() (string, string, error) {
	email, password := loginEmail, loginPassword
	if email == "" {
		email = os.Getenv("MATCHGATE_EMAIL")
	}
	if password == "" {
		password = os.Getenv("MATCHGATE_PASSWORD")
	}
	if email == "" || password == "" {
		return "", "", fmt.Errorf("email and password are required (flags or MATCHGATE_EMAIL / MATCHGATE_PASSWORD)")
	}
	return email, password, nil
}

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, registerCmd} {
		cmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
		cmd.Flags().StringVar(&loginPassword, "password", "", "Account password")
	}
	registerCmd.Flags().StringVar(&registerName, "name", "", "Full name")

	addOutputFlags(loginCmd, &loginConfig)
	addOutputFlags(registerCmd, &registerConfig)
	addOutputFlags(tokenCmd, &tokenConfig)
}
