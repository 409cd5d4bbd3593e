package common

import (
	"fmt"
	"io"
	"os"

	"matchgate/internal/errors"
	"matchgate/internal/formatters"
)

// CommandConfig holds common configuration for commands
type CommandConfig struct {
	OutputFile   string
	OutputFormat string
}

// OutputHandler renders command results and sends them to stdout or a file.
type OutputHandler struct {
	files    *FileProcessor
	registry *formatters.FormatterRegistry
	logger   *errors.Logger
	stdout   io.Writer
}

// NewOutputHandler creates a new output handler
func NewOutputHandler(logger *errors.Logger) *OutputHandler {
	if logger == nil {
		logger = errors.Discard()
	}
	return &OutputHandler{
		files:    NewFileProcessor(logger),
		registry: formatters.GlobalRegistry,
		logger:   logger,
		stdout:   os.Stdout,
	}
}

// SetOutput redirects what would go to stdout.
func (oh *OutputHandler) SetOutput(w io.Writer) {
	oh.stdout = w
}

// HandleOutput formats data and writes it where config says. Formatting
// happens first so a bad format never truncates an existing output file.
func (oh *OutputHandler) HandleOutput(data any, config CommandConfig) error {
	if err := oh.files.ValidateOutputFile(config.OutputFile); err != nil {
		return err
	}

	rendered, err := oh.registry.Format(data, config.OutputFormat)
	if err != nil {
		return errors.NewValidationError(errors.ErrCodeInvalidFormat,
			fmt.Sprintf("Failed to format output as %s", config.OutputFormat), err)
	}

	if config.OutputFile == "" {
		_, err := io.WriteString(oh.stdout, rendered)
		return err
	}
	if err := oh.files.WriteFile(config.OutputFile, rendered); err != nil {
		return err
	}
	oh.logger.Info("Output written", "file", config.OutputFile, "format", config.OutputFormat, "bytes", len(rendered))
	return nil
}

// GetSupportedFormats returns all supported output formats
func (oh *OutputHandler) GetSupportedFormats() []string {
	return oh.registry.GetSupportedFormats()
}
