package regress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Full(t *testing.T) {
	path := writeScenario(t, `
name: smoke
description: basic coverage
write_policy: trust
max_time: 1000
max_steps: 500
signals:
  clk: 0
  rst: 1
tests:
  - event_handshake
  - edge_monitor
`)

	sc, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "smoke", sc.Name)
	assert.Equal(t, "trust", sc.WritePolicy)
	assert.Equal(t, uint64(1000), sc.MaxTime)
	assert.Equal(t, 500, sc.MaxSteps)
	assert.Equal(t, int64(1), sc.Signals["rst"])
	assert.Equal(t, []string{"event_handshake", "edge_monitor"}, sc.Tests)
}

func TestLoadScenario_Defaults(t *testing.T) {
	path := writeScenario(t, `
name: minimal
tests: [event_handshake]
`)

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Empty(t, sc.WritePolicy, "empty policy means deferred")
	assert.Zero(t, sc.MaxTime)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadScenario_BadYAML(t *testing.T) {
	path := writeScenario(t, "name: [unclosed")
	_, err := LoadScenario(path)
	assert.Error(t, err)
}

func TestScenario_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sc      Scenario
		wantErr string
	}{
		{
			name: "valid",
			sc:   Scenario{Name: "ok", Tests: []string{"a", "b"}},
		},
		{
			name:    "missing name",
			sc:      Scenario{Tests: []string{"a"}},
			wantErr: "missing name",
		},
		{
			name:    "no tests",
			sc:      Scenario{Name: "empty"},
			wantErr: "no tests",
		},
		{
			name:    "empty test name",
			sc:      Scenario{Name: "bad", Tests: []string{""}},
			wantErr: "empty test name",
		},
		{
			name:    "duplicate test",
			sc:      Scenario{Name: "dup", Tests: []string{"a", "a"}},
			wantErr: "duplicate",
		},
		{
			name:    "bad policy",
			sc:      Scenario{Name: "pol", Tests: []string{"a"}, WritePolicy: "psychic"},
			wantErr: "unknown write policy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sc.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
