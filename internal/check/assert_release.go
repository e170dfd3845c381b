//go:build !debug

// Package check holds lifecycle assertions that only fire in debug builds
// (go test -tags debug).
package check

// Assert does nothing without the debug tag.
func Assert(bool, string) {}

// Assertf does nothing without the debug tag.
func Assertf(bool, string, ...any) {}

// Enabled reports whether assertions are compiled in.
func Enabled() bool { return false }
