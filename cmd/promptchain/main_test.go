package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/simon020286/go-promptchain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetChain = `name: greet
steps:
  - type: prompt
    config:
      text: "Hello {{name}}"
      output: greeting
  - type: code
    config:
      code: "return {{greeting}}.toUpperCase()"
`

// execute runs the CLI with an isolated environment
func execute(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PROMPTCHAIN_CONFIG", "")
	t.Setenv("PROMPTCHAIN_REDIS_ADDR", "")
	t.Setenv("PROMPTCHAIN_DB", dbPath)
	t.Setenv("PROMPTCHAIN_CHAINS_PATH", t.TempDir())

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeChain(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(greetChain), 0644))
	return path
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "", "run", writeChain(t), "-i", "name=ada", "--json")
	require.NoError(t, err)

	var partials []models.PartialRun
	require.NoError(t, json.Unmarshal([]byte(out), &partials))
	require.Len(t, partials, 2)
	assert.Equal(t, "Hello ada", partials[0].Output)
	assert.Equal(t, "HELLO ADA", partials[1].Output)
	assert.True(t, partials[1].IsLast)
}

func TestRunCommand_EmbeddedChainByName(t *testing.T) {
	out, err := execute(t, "", "run", "word_count")
	require.NoError(t, err)
	assert.Contains(t, out, "== row 0, step 0")
}

func TestRunCommand_SavesRuns(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	chain := writeChain(t)

	_, err := execute(t, db, "run", chain, "-i", "name=ada", "--save")
	require.NoError(t, err)

	out, err := execute(t, db, "runs")
	require.NoError(t, err)

	var listed []*models.Run
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, map[string]string{"name": "ada"}, listed[0].Inputs)

	_, err = execute(t, db, "runs", "label", "1", "golden")
	require.NoError(t, err)

	out, err = execute(t, db, "runs", "--label", "golden")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, []string{"golden"}, listed[0].Labels)

	_, err = execute(t, db, "runs", "rate", "99", "positive")
	assert.Error(t, err)
}

func TestRunCommand_InvalidInput(t *testing.T) {
	_, err := execute(t, "", "run", writeChain(t), "-i", "novalue")
	assert.Error(t, err)
}

func TestSchemaCommands(t *testing.T) {
	out, err := execute(t, "", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"steps"`)

	path := writeChain(t)
	out, err = execute(t, "", "schema", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, path+": ok")
}

func TestChainsCommand(t *testing.T) {
	out, err := execute(t, "", "chains")
	require.NoError(t, err)
	assert.Contains(t, out, "summarize")
	assert.Contains(t, out, "word_count")
	assert.Contains(t, out, "step kinds: code, prompt")
}

func TestLoadInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: a\n- name: b\n"), 0644))

	rows, err := loadInputs([]string{"name=c", "extra=x=y"}, path)
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{
		{"name": "a"},
		{"name": "b"},
		{"name": "c", "extra": "x=y"},
	}, rows)

	_, err = loadInputs([]string{"=x"}, "")
	assert.Error(t, err)
}
