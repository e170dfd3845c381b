package ui

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// interactive is nil until ConfigureInteraction runs.
var interactive atomic.Pointer[bool]

// ConfigureInteraction decides whether stderr gets spinners and colour.
// disable comes from --no-interaction. CI, NO_INTERACTION and dumb terminals
// turn interaction off too, and NO_COLOR keeps spinners but drops colour.
func ConfigureInteraction(disable bool) {
	on := !disable && wantsTerminal(os.Getenv) && isCharDevice(os.Stderr)
	interactive.Store(&on)

	if !on || termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(os.Stderr).EnvColorProfile())
}

// IsInteractive reports the mode chosen by ConfigureInteraction, configuring
// it from the environment on first use.
func IsInteractive() bool {
	if on := interactive.Load(); on != nil {
		return *on
	}
	ConfigureInteraction(false)
	return *interactive.Load()
}

func wantsTerminal(getenv func(string) string) bool {
	if truthy(getenv("NO_INTERACTION")) || truthy(getenv("CI")) {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(getenv("TERM")), "dumb")
}

func isCharDevice(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
