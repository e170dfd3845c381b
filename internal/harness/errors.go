package harness

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSetup marks a missing environment prerequisite. It aborts the
	// whole session.
	ErrSetup = errors.New("harness setup failed")
	// ErrRuntimeUnavailable means the container runtime could not be reached.
	ErrRuntimeUnavailable = fmt.Errorf("%w: container runtime not available", ErrSetup)
	// ErrUnknownLanguage is returned for languages without a server table entry.
	ErrUnknownLanguage = errors.New("unknown test language")
	// ErrMalformedPayload is returned when a captured request body cannot be
	// decoded.
	ErrMalformedPayload = errors.New("malformed llmobs payload")
	// ErrNotFound is returned by runtimes for containers or networks that no
	// longer exist. Teardown treats it as success.
	ErrNotFound = errors.New("not found")
)

// Component names used in StartupTimeoutError.
const (
	ComponentAgent  = "test agent"
	ComponentServer = "instrumented server"
)

// StartupTimeoutError reports a container that never became healthy within
// its retry budget.
type StartupTimeoutError struct {
	Component string
	Attempts  int
	// Running is true when the container was up but never answered.
	Running bool
	// Logs holds container output captured for diagnostics.
	Logs string
	Err  error
}

func (e *StartupTimeoutError) Error() string {
	var b strings.Builder
	if e.Running {
		fmt.Fprintf(&b, "%s container started but not responsive after %d attempts", e.Component, e.Attempts)
	} else {
		fmt.Fprintf(&b, "%s container failed to start", e.Component)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if logs := strings.TrimSpace(e.Logs); logs != "" {
		if e.Running {
			b.WriteString("\n\ncontainer logs:\n\n")
		} else {
			b.WriteString("\n\ncontainer stderr:\n\n")
		}
		b.WriteString(logs)
	}
	return b.String()
}

func (e *StartupTimeoutError) Unwrap() error { return e.Err }

// IsStartupTimeout reports whether err is a StartupTimeoutError.
func IsStartupTimeout(err error) bool {
	var st *StartupTimeoutError
	return errors.As(err, &st)
}
