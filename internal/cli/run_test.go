package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func firstField(line string) string {
	return strings.Fields(line)[0]
}

func writeScenarioFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand_PassingScenario(t *testing.T) {
	path := writeScenarioFile(t, `
name: smoke
tests:
  - event_handshake
  - queue_pipeline
`)

	out, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "pass")
	assert.Contains(t, out, "event_handshake")
	assert.Contains(t, out, "queue_pipeline")
}

func TestRunCommand_UnknownTest(t *testing.T) {
	path := writeScenarioFile(t, `
name: broken
tests: [no_such_test]
`)

	_, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown test")
}

func TestRunCommand_MissingScenarioFile(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRunCommand_RequiresArgument(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)
}

func TestRunAndListWithDatabase(t *testing.T) {
	scenario := writeScenarioFile(t, `
name: persisted
tests: [edge_monitor]
`)
	db := filepath.Join(t.TempDir(), "results.db")

	_, err := execute(t, "run", scenario, "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "persisted")
	assert.Contains(t, out, "edge_monitor")
	assert.Contains(t, out, "pass")
}

func TestTraceCommand_DumpsRun(t *testing.T) {
	scenario := writeScenarioFile(t, `
name: traced
tests: [event_handshake]
`)
	db := filepath.Join(t.TempDir(), "results.db")

	_, err := execute(t, "run", scenario, "--db", db)
	require.NoError(t, err)

	listing, err := execute(t, "list", "--db", db)
	require.NoError(t, err)
	lines := nonEmptyLines(listing)
	require.GreaterOrEqual(t, len(lines), 2, "header plus one result")
	token := firstField(lines[1])

	out, err := execute(t, "trace", token, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "start")
	assert.Contains(t, out, "finish")
}

func TestTraceCommand_UnknownRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "results.db")
	_, err := execute(t, "trace", "no-such-run", "--db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no trace")
}
