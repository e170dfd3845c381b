//go:build debug

// Package check holds lifecycle assertions that only fire in debug builds
// (go test -tags debug).
package check

import "fmt"

// Assert panics when cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic("harness invariant violated: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("harness invariant violated: " + fmt.Sprintf(format, args...))
	}
}

// Enabled reports whether assertions are compiled in.
func Enabled() bool { return true }
