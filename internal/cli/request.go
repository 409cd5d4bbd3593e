package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"matchgate/internal/common"
	"matchgate/internal/gateway"
	"matchgate/internal/registry"

	"github.com/spf13/cobra"
)

var (
	requestConfig  common.CommandConfig
	requestData    string
	requestQuery   []string
	requestHeaders []string
)

var requestCmd = &cobra.Command{
	Use:   "request <service> <method> <path>",
	Short: "Send a raw request to a backend service",
	Long: `Send a request through the gateway to one of the backend services (core,
ml or llm). The session token is attached and refreshed like any other call.

--data takes a JSON document, or @file to read it from a file.`,
	Example: `  matchgate request core GET /jobs --query q=golang --query page=2
  matchgate request ml POST /match --data '{"resume_id": "r1"}'`,
	Args: cobra.ExactArgs(3),
	RunE: runRequest,
}

func init() {
	requestCmd.Flags().StringVarP(&requestData, "data", "d", "", "JSON request body, or @file")
	requestCmd.Flags().StringArrayVarP(&requestQuery, "query", "q", nil, "Query parameter as key=value (repeatable)")
	requestCmd.Flags().StringArrayVarP(&requestHeaders, "header", "H", nil, "Extra header as key=value (repeatable)")
	addOutputFlags(requestCmd, &requestConfig)
}

func runRequest(cmd *cobra.Command, args []string) error {
	service, method, path := args[0], strings.ToUpper(args[1]), args[2]
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("unsupported method %q", args[1])
	}

	logger, err := getLoggerFromContext(cmd.Context())
	if err != nil {
		return err
	}
	body, err := requestBody(common.NewFileProcessor(logger), requestData)
	if err != nil {
		return err
	}
	query, err := pairs(requestQuery)
	if err != nil {
		return fmt.Errorf("invalid --query: %w", err)
	}
	headers, err := pairs(requestHeaders)
	if err != nil {
		return fmt.Errorf("invalid --header: %w", err)
	}

	opts := []gateway.RequestOption{gateway.WithQuery(query)}
	if len(headers) > 0 {
		flat := make(map[string]string, len(headers))
		for k := range headers {
			flat[k] = headers.Get(k)
		}
		opts = append(opts, gateway.WithHeaders(flat))
	}

	return runCall(cmd, requestConfig, "request", func(ctx context.Context, stack *registry.Stack) (json.RawMessage, error) {
		client, err := stack.Registry.Client(service)
		if err != nil {
			return nil, err
		}
		return client.Do(ctx, method, path, body, opts...)
	})
}

func requestBody(fp *common.FileProcessor, data string) (any, error) {
	if data == "" {
		return nil, nil
	}
	if name, ok := strings.CutPrefix(data, "@"); ok {
		content, err := fp.ReadFile(name)
		if err != nil {
			return nil, err
		}
		data = content
	}
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("--data is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// pairs parses key=value flags.
func pairs(items []string) (url.Values, error) {
	values := url.Values{}
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", item)
		}
		values.Add(key, value)
	}
	return values, nil
}
