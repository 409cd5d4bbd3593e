package common

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"matchgate/internal/errors"
	"matchgate/internal/utils"
)

// FileProcessor reads command inputs (resumes, job descriptions, request
// bodies) and writes command output files.
type FileProcessor struct {
	logger *errors.Logger
}

// NewFileProcessor creates a new file processor instance
func NewFileProcessor(logger *errors.Logger) *FileProcessor {
	if logger == nil {
		logger = errors.Discard()
	}
	return &FileProcessor{logger: logger}
}

// ReadFile returns the content of filename as text.
func (fp *FileProcessor) ReadFile(filename string) (string, error) {
	content, err := os.ReadFile(filename)
	switch {
	case err == nil:
		return string(content), nil
	case stderrors.Is(err, fs.ErrNotExist):
		return "", errors.NewIOError(errors.ErrCodeFileNotFound,
			fmt.Sprintf("File not found: %s", filename), err)
	default:
		return "", errors.NewIOError(errors.ErrCodeFileNotReadable,
			fmt.Sprintf("Cannot read file: %s", filename), err)
	}
}

// ValidateAndReadFiles reads text inputs in order. Blank files are rejected
// since the backends refuse empty resumes and job descriptions anyway.
func (fp *FileProcessor) ValidateAndReadFiles(filenames ...string) ([]string, error) {
	contents := make([]string, 0, len(filenames))
	for _, filename := range filenames {
		if err := utils.ValidateInputFile(filename); err != nil {
			return nil, errors.NewValidationError("INVALID_INPUT_FILE",
				fmt.Sprintf("Invalid file %s", filename), err)
		}
		if !utils.IsTextFile(filename) {
			fp.logger.Warn("File may not be a text file, upload it instead", "filename", filename)
		}

		content, err := fp.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(content) == "" {
			return nil, errors.NewValidationError("EMPTY_INPUT_FILE",
				fmt.Sprintf("File is empty: %s", filename), nil)
		}
		contents = append(contents, content)
	}
	return contents, nil
}

// ReadUpload reads a file that is about to be uploaded, refusing anything
// larger than maxSize bytes. A maxSize of zero means no limit.
func (fp *FileProcessor) ReadUpload(filename string, maxSize int64) ([]byte, error) {
	if err := utils.ValidateInputFile(filename); err != nil {
		return nil, errors.NewValidationError("INVALID_INPUT_FILE",
			fmt.Sprintf("Invalid file %s", filename), err)
	}
	if maxSize > 0 {
		info, err := os.Stat(filename)
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeFileNotReadable,
				fmt.Sprintf("Cannot stat file: %s", filename), err)
		}
		if info.Size() > maxSize {
			return nil, errors.NewValidationError("FILE_TOO_LARGE",
				fmt.Sprintf("%s is %s, the limit is %s", filename,
					utils.FormatFileSize(info.Size()), utils.FormatFileSize(maxSize)), nil)
		}
	}
	content, err := fp.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

// WriteFile replaces filename with content. The file is written next to its
// destination and renamed so readers never see a partial result.
func (fp *FileProcessor) WriteFile(filename, content string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.NewIOError("DIRECTORY_CREATE_FAILED",
			fmt.Sprintf("Cannot create directory: %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*")
	if err != nil {
		return errors.NewIOError(errors.ErrCodeFileNotWritable,
			fmt.Sprintf("Cannot write file: %s", filename), err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return errors.NewIOError(errors.ErrCodeFileNotWritable,
			fmt.Sprintf("Cannot write file: %s", filename), err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewIOError(errors.ErrCodeFileNotWritable,
			fmt.Sprintf("Cannot write file: %s", filename), err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return errors.NewIOError(errors.ErrCodeFileNotWritable,
			fmt.Sprintf("Cannot replace file: %s", filename), err)
	}
	return nil
}

// ValidateOutputFile checks an output path. Empty means stdout.
func (fp *FileProcessor) ValidateOutputFile(filename string) error {
	if err := utils.ValidateOutputFile(filename); err != nil {
		return errors.NewValidationError("INVALID_OUTPUT_FILE",
			fmt.Sprintf("Invalid output file: %s", filename), err)
	}
	return nil
}
