// Package conformance holds the LLM Observability conformance tests. They
// need a Docker daemon and the server build contexts, and only build with
// the integration tag:
//
//	TEST_LIBS=python,nodejs go test -tags integration ./internal/conformance/
package conformance
