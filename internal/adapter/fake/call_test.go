package fake

import (
	"slices"
	"testing"

	"llmobs-harness/internal/harness"
)

func TestCallRecorder_Calls(t *testing.T) {
	var r CallRecorder

	r.record("ContainerKill", "ctr-1")
	r.record("NetworkRemove", "llmobs-test-1")
	r.record("ContainerKill", "ctr-2")

	if got := len(r.Calls("")); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	kills := r.Calls("ContainerKill")
	if len(kills) != 2 || kills[1].Args[0] != "ctr-2" {
		t.Fatalf("unexpected kills: %+v", kills)
	}
	if none := r.Calls("ImageBuild"); len(none) != 0 {
		t.Errorf("expected no ImageBuild calls, got %d", len(none))
	}
}

func TestCallRecorder_Methods(t *testing.T) {
	var r CallRecorder

	r.record("NetworkCreate")
	r.record("ContainerRun")
	r.record("ContainerKill")
	r.record("NetworkRemove")

	want := []string{"NetworkCreate", "ContainerRun", "ContainerKill", "NetworkRemove"}
	if got := r.Methods(); !slices.Equal(got, want) {
		t.Errorf("Methods() = %v, want %v", got, want)
	}
}

func TestCallRecorder_RunConfigs(t *testing.T) {
	var r CallRecorder

	r.record("ContainerRun", harness.RunConfig{Name: "mlobs-test-agent"})
	r.record("ContainerInspect", "ctr-1")
	r.record("ContainerRunForeground", harness.RunConfig{Name: "mlobs-test-agent", Cmd: []string{"--help"}})

	got := r.RunConfigs()
	if len(got) != 2 || got[1].Cmd[0] != "--help" {
		t.Errorf("RunConfigs() = %+v", got)
	}
}

func TestCallRecorder_Reset(t *testing.T) {
	var r CallRecorder

	r.record("ContainerRun", harness.RunConfig{})
	r.Reset()

	if got := len(r.Calls("")); got != 0 {
		t.Errorf("expected 0 calls after reset, got %d", got)
	}
}
