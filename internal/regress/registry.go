package regress

import (
	"fmt"
	"sort"

	"github.com/cocotb/cocotb-sub002/internal/sched"
)

// TestFunc is the body of one registered test. It runs as the top-level
// task of a fresh scheduler; returning nil passes the test.
type TestFunc func(*sched.Context) error

// Registry maps test names to bodies. Scenarios refer to tests by name.
type Registry struct {
	tests map[string]TestFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tests: make(map[string]TestFunc)}
}

// Register adds a test under a unique name.
func (r *Registry) Register(name string, fn TestFunc) error {
	if name == "" {
		return fmt.Errorf("empty test name")
	}
	if fn == nil {
		return fmt.Errorf("test %q: nil body", name)
	}
	if _, dup := r.tests[name]; dup {
		return fmt.Errorf("duplicate test %q", name)
	}
	r.tests[name] = fn
	return nil
}

// Lookup returns the test body for a name.
func (r *Registry) Lookup(name string) (TestFunc, bool) {
	fn, ok := r.tests[name]
	return fn, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tests))
	for name := range r.tests {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
