package common

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"matchgate/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCallWritesFormattedResult(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "result.json")
	cfg := CommandConfig{OutputFile: out, OutputFormat: "json"}

	err := RunCall(context.Background(), nil, cfg, "test", func(context.Context) (map[string]int, error) {
		return map[string]int{"total": 3}, nil
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":3}`, string(data))
}

func TestRunCallExplainsGatewayErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "session expired",
			err:  &gateway.APIError{Kind: gateway.KindSessionExpired},
			want: "run 'matchgate login'",
		},
		{
			name: "rate limited with retry after",
			err:  &gateway.APIError{Kind: gateway.KindRateLimited, RetryAfter: 90 * time.Second},
			want: "retry in 1m30s",
		},
		{
			name: "rate limited",
			err:  &gateway.APIError{Kind: gateway.KindRateLimited},
			want: "slow down",
		},
		{
			name: "unavailable",
			err:  &gateway.APIError{Kind: gateway.KindUnavailable},
			want: "try again later",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RunCall(context.Background(), nil, CommandConfig{OutputFormat: "json"}, "test",
				func(context.Context) (any, error) { return nil, tt.err })
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRunCallPassesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	err := RunCall(context.Background(), nil, CommandConfig{OutputFormat: "json"}, "test",
		func(context.Context) (any, error) { return nil, boom })
	assert.Same(t, boom, err)
}

func TestOutputHandlerStdout(t *testing.T) {
	var buf bytes.Buffer
	oh := NewOutputHandler(nil)
	oh.SetOutput(&buf)

	require.NoError(t, oh.HandleOutput(map[string]string{"k": "v"}, CommandConfig{OutputFormat: "text"}))
	assert.Equal(t, "k: v\n", buf.String())

	err := oh.HandleOutput(map[string]string{}, CommandConfig{OutputFormat: "xml"})
	assert.Error(t, err)
}

func TestReadUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cv.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello resume"), 0600))

	fp := NewFileProcessor(nil)

	data, err := fp.ReadUpload(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello resume", string(data))

	_, err = fp.ReadUpload(path, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "the limit is 4 B")

	_, err = fp.ReadUpload(filepath.Join(dir, "missing.txt"), 0)
	assert.Error(t, err)
}
