package common

import (
	"fmt"
	"slices"

	"matchgate/internal/errors"
	"matchgate/internal/formatters"
)

// ValidateOutputFormat accepts format when a formatter exists for it and it
// is among the configured formats. An empty configured list allows every
// format that has a formatter.
func ValidateOutputFormat(format string, configured []string) error {
	supported := GetSupportedFormats(configured)
	if slices.Contains(supported, format) {
		return nil
	}
	return errors.NewValidationError(errors.ErrCodeInvalidFormat,
		fmt.Sprintf("unsupported output format '%s'. Supported formats: %v", format, supported), nil)
}

// GetSupportedFormats returns the configured formats that can actually be
// rendered, keeping the configured order.
func GetSupportedFormats(configured []string) []string {
	available := formatters.GlobalRegistry.GetSupportedFormats()
	if len(configured) == 0 {
		return available
	}
	supported := make([]string, 0, len(configured))
	for _, f := range configured {
		if slices.Contains(available, f) && !slices.Contains(supported, f) {
			supported = append(supported, f)
		}
	}
	return supported
}
