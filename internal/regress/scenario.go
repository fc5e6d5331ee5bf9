// Package regress runs named tests against the cooperative scheduler and
// an in-memory bench, collects per-test results, and snapshots the
// deterministic run trace for golden comparison and persistence.
package regress

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cocotb/cocotb-sub002/internal/sched"
)

// Scenario is one regression configuration: which tests to run and how the
// bench and scheduler are set up for each of them.
type Scenario struct {
	// Name identifies this scenario in results and traces.
	Name string `yaml:"name"`

	// Description explains what the scenario covers.
	Description string `yaml:"description,omitempty"`

	// WritePolicy selects "deferred" (default) or "trust".
	WritePolicy string `yaml:"write_policy,omitempty"`

	// MaxTime stops each bench run past this simulated time. 0 = unbounded.
	MaxTime uint64 `yaml:"max_time,omitempty"`

	// MaxSteps overrides the per-reaction drain quota. 0 = scheduler default.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Signals seeds initial signal values on the bench.
	Signals map[string]int64 `yaml:"signals,omitempty"`

	// Tests lists registered test names, run in order.
	Tests []string `yaml:"tests"`
}

// LoadScenario reads and validates a scenario yaml file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

// Validate checks the scenario for structural errors.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(sc.Tests) == 0 {
		return fmt.Errorf("no tests listed")
	}
	seen := make(map[string]bool, len(sc.Tests))
	for _, name := range sc.Tests {
		if name == "" {
			return fmt.Errorf("empty test name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate test %q", name)
		}
		seen[name] = true
	}
	if _, err := sched.ParseWritePolicy(sc.WritePolicy); err != nil {
		return err
	}
	return nil
}
