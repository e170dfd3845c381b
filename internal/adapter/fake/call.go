package fake

import (
	"sync"

	"llmobs-harness/internal/harness"
)

// Call is one recorded runtime method invocation.
type Call struct {
	Method string
	Args   []any
}

// CallRecorder keeps the runtime calls a test made, in order.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *CallRecorder) record(method string, args ...any) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
	r.mu.Unlock()
}

// Calls returns the calls to method, or every call when method is "".
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Call
	for _, c := range r.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Methods returns the recorded method names in call order.
func (r *CallRecorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Method
	}
	return out
}

// RunConfigs returns the configs passed to ContainerRun and
// ContainerRunForeground, in call order.
func (r *CallRecorder) RunConfigs() []harness.RunConfig {
	var out []harness.RunConfig
	for _, c := range r.Calls("") {
		if c.Method != "ContainerRun" && c.Method != "ContainerRunForeground" {
			continue
		}
		if cfg, ok := c.Args[0].(harness.RunConfig); ok {
			out = append(out, cfg)
		}
	}
	return out
}

// Reset forgets every recorded call.
func (r *CallRecorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
