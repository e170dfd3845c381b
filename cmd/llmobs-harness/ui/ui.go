// Package ui renders harness CLI output: status lines, the results table and
// spinners that follow session and server lifecycle steps.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"llmobs-harness/internal/scenario"
)

var (
	accent = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	pass   = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
	fail   = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	skip   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	muted  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	border = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

func Muted(s string) string { return muted.Render(s) }

func SuccessMsg(format string, a ...any) string { return mark(pass, "✓", format, a...) }
func WarnMsg(format string, a ...any) string    { return mark(skip, "!", format, a...) }
func ErrorMsg(format string, a ...any) string   { return mark(fail, "✗", format, a...) }
func InfoMsg(format string, a ...any) string    { return mark(accent, "●", format, a...) }

func mark(style lipgloss.Style, symbol, format string, a ...any) string {
	return style.Render(symbol) + " " + fmt.Sprintf(format, a...)
}

var outcomeStyles = map[string]lipgloss.Style{
	scenario.OutcomePassed:  pass,
	scenario.OutcomeSkipped: skip,
	scenario.OutcomeFailed:  fail,
}

// Outcome colours a scenario outcome. Unknown outcomes render plain.
func Outcome(outcome string) string {
	if style, ok := outcomeStyles[outcome]; ok {
		return style.Render(outcome)
	}
	return outcome
}

// Pair is one line of KeyValues output.
type Pair struct{ Key, Value string }

func KV(key, value string) Pair { return Pair{Key: key, Value: value} }

// KeyValues renders one "key:  value" line per pair, values aligned.
func KeyValues(indent string, pairs ...Pair) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p.Key)+1)
	}
	var sb strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&sb, "%s%s %s\n", indent, muted.Render(fmt.Sprintf("%-*s", width, p.Key+":")), p.Value)
	}
	return sb.String()
}

// Table renders rows under bold headers inside a rounded border.
func Table(headers []string, rows [][]string) string {
	head := accent.Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(border).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return head
			}
			return cell
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}
