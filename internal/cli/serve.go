package cli

import (
	"context"

	"matchgate/internal/registry"
	"matchgate/internal/server"

	"github.com/spf13/cobra"
)

var (
	servePort string
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a local HTTP proxy to the backend services",
	Long: `Start a local backend-for-frontend. It holds the session token and exposes
the backend services over plain HTTP, so a browser UI never sees the token.

Available endpoints:
- POST /auth/login, /auth/register, /auth/logout: manage the session
- GET /auth/session: session status with the token masked
- /api/{core|ml|llm}/{path}: forwarded to the service with the token attached
- GET /health: breaker state per service
- GET /stats: request counters and rate limiting info
- GET /metrics: Prometheus metrics, when enabled`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := getConfigFromContext(cmd.Context())
	if err != nil {
		return err
	}

	// Flags win over the loaded configuration
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	return withStack(cmd, func(ctx context.Context, stack *registry.Stack) error {
		return server.NewServer(stack, Version).Start(ctx)
	}, registry.WithWatchers())
}
