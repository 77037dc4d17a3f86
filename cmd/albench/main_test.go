package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTask(t *testing.T, dir, name, id string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := "id: " + id + "\ndescription: smoke task\nprompt_template: task.tmpl\nmax_attempts: 1\nexpected:\n  compile: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := rootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestListCommand(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "alpha.yaml", "alpha")
	writeTask(t, dir, "beta.yaml", "beta")

	assert.NoError(t, execute(t, "list", "--tasks", dir))
}

func TestTaskPatternRestrictsDiscovery(t *testing.T) {
	dir := t.TempDir()
	// Same id in two suites: the full glob trips the duplicate check, a
	// restricted pattern does not.
	writeTask(t, dir, "easy/shared.yaml", "shared")
	writeTask(t, dir, "hard/shared.yaml", "shared")

	err := execute(t, "list", "--tasks", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task id")

	assert.NoError(t, execute(t, "list", "--tasks", dir, "--task-pattern", "easy/*.yaml"))
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "alpha.yaml", "alpha")

	assert.NoError(t, execute(t, "validate", "--tasks", dir, "-m", "openai/gpt-4o@temp=0.2"))
}

func TestValidateCommandRejectsBadVariant(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "alpha.yaml", "alpha")

	assert.Error(t, execute(t, "validate", "--tasks", dir, "-m", "not-a-variant"))
}

func TestRunCommandRequiresModel(t *testing.T) {
	err := execute(t, "run", "--tasks", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--model")
}

func TestVersionCommand(t *testing.T) {
	assert.NoError(t, execute(t, "version"))
}
