package common

import (
	"context"
	"fmt"
	"time"

	"matchgate/internal/errors"
	"matchgate/internal/gateway"
)

// CallFunc is one typed backend call.
type CallFunc[Output any] func(context.Context) (Output, error)

// RunCall runs a backend call, logs how it went and writes the result in the
// configured format.
func RunCall[Output any](
	ctx context.Context,
	logger *errors.Logger,
	cmdConfig CommandConfig,
	operation string,
	call CallFunc[Output],
) error {
	if logger == nil {
		logger = errors.Discard()
	}
	outputHandler := NewOutputHandler(logger)

	start := time.Now()
	result, err := call(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.LogError(err, "Backend call failed", "operation", operation, "duration", elapsed)
		return explain(err)
	}
	logger.Debug("Backend call completed", "operation", operation, "duration", elapsed)

	return outputHandler.HandleOutput(result, cmdConfig)
}

// explain adds what the user should do next to gateway errors.
func explain(err error) error {
	apiErr, ok := gateway.AsAPIError(err)
	if !ok {
		return err
	}
	switch apiErr.Action() {
	case gateway.ActionForceLogout:
		return fmt.Errorf("%w (run 'matchgate login' to sign in again)", err)
	case gateway.ActionSlowDown:
		if apiErr.RetryAfter > 0 {
			return fmt.Errorf("%w (retry in %s)", err, apiErr.RetryAfter.Round(time.Second))
		}
		return fmt.Errorf("%w (slow down and retry)", err)
	case gateway.ActionRetryLater:
		return fmt.Errorf("%w (try again later)", err)
	}
	return err
}
