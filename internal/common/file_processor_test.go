package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndReadFiles(t *testing.T) {
	dir := t.TempDir()
	resume := filepath.Join(dir, "resume.md")
	job := filepath.Join(dir, "job.txt")
	blank := filepath.Join(dir, "blank.txt")
	require.NoError(t, os.WriteFile(resume, []byte("# Ada\nGo, SQL"), 0600))
	require.NoError(t, os.WriteFile(job, []byte("Backend engineer"), 0600))
	require.NoError(t, os.WriteFile(blank, []byte(" \n\t"), 0600))

	fp := NewFileProcessor(nil)

	contents, err := fp.ValidateAndReadFiles(resume, job)
	require.NoError(t, err)
	assert.Equal(t, []string{"# Ada\nGo, SQL", "Backend engineer"}, contents)

	_, err = fp.ValidateAndReadFiles(resume, blank)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMPTY_INPUT_FILE")

	_, err = fp.ValidateAndReadFiles(filepath.Join(dir, "missing.md"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_INPUT_FILE")
}

func TestWriteFileReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "jobs.yaml")
	fp := NewFileProcessor(nil)

	require.NoError(t, fp.WriteFile(path, "first\n"))
	require.NoError(t, fp.WriteFile(path, "second\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestReadFileNotFound(t *testing.T) {
	_, err := NewFileProcessor(nil).ReadFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FILE_NOT_FOUND")
}
