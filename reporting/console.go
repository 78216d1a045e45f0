// Package reporting renders discovered trees and run results for the console.
package reporting

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// maxMessageWidth bounds the message column; only the first line of a
// message is shown.
const maxMessageWidth = 80

// TreeFormatter renders a test tree as an indented list
type TreeFormatter struct {
	showLines bool
}

// NewTreeFormatter creates a tree formatter. showLines appends file:line
// to every test.
func NewTreeFormatter(showLines bool) *TreeFormatter {
	return &TreeFormatter{showLines: showLines}
}

// Format renders root and every descendant.
func (f *TreeFormatter) Format(root *types.TestTreeNode) string {
	if root == nil {
		return ""
	}
	l := list.NewWriter()
	l.SetStyle(list.StyleConnectedRounded)
	f.appendNode(l, root)
	return l.Render() + "\n"
}

func (f *TreeFormatter) appendNode(l list.Writer, node *types.TestTreeNode) {
	l.AppendItem(f.label(node))
	if len(node.Children) == 0 {
		return
	}
	l.Indent()
	for _, child := range node.Children {
		f.appendNode(l, child)
	}
	l.UnIndent()
}

func (f *TreeFormatter) label(node *types.TestTreeNode) string {
	if node.IsSuite() {
		return fmt.Sprintf("%s (%d)", node.Label, node.Count())
	}
	if f.showLines && node.File != "" {
		return fmt.Sprintf("%s  %s:%d", node.Label, types.FileLabel(node.File), node.Line)
	}
	return node.Label
}

// SummaryFormatter renders the per-test outcome of a run as a table
type SummaryFormatter struct {
	title string
	plain bool
}

// NewSummaryFormatter creates a new summary formatter
func NewSummaryFormatter(title string) *SummaryFormatter {
	return &SummaryFormatter{title: title}
}

// Plain disables colors, for output written to files.
func (f *SummaryFormatter) Plain() *SummaryFormatter {
	f.plain = true
	return f
}

// Format renders one row per test and a footer with the totals.
func (f *SummaryFormatter) Format(summary *types.RunSummary) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(fmt.Sprintf("%s (%s)", f.title, formatDuration(summary.Duration)))
	t.AppendHeader(table.Row{"TEST", "ID", "STATE", "MESSAGE"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "TEST", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "ID", WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
		{Name: "MESSAGE", WidthMax: maxMessageWidth, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, test := range summary.Tests {
		t.AppendRow(table.Row{
			test.Label,
			test.ID,
			stateString(test.State),
			firstLine(test.Message),
		})
	}

	stats := summary.Stats()
	switch {
	case f.plain:
		t.SetStyle(table.StyleLight)
	case summary.Failed():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case stats.Skipped > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	overall := "PASS"
	if summary.Failed() {
		overall = "FAIL"
	}
	t.AppendFooter(table.Row{
		"TOTAL",
		stats.Total,
		overall,
		fmt.Sprintf("%d passed, %d failed, %d skipped, %d errored", stats.Passed, stats.Failed, stats.Skipped, stats.Errored),
	})
	t.Render()

	if summary.Err != nil {
		fmt.Fprintf(&buf, "run error: %v\n", summary.Err)
	}
	return buf.String()
}

func stateString(state types.TestState) string {
	switch state {
	case types.TestStatePassed:
		return "✓ pass"
	case types.TestStateFailed:
		return "✗ fail"
	case types.TestStateSkipped:
		return "- skip"
	case types.TestStateErrored:
		return "! error"
	case types.TestStateRunning:
		return "… unfinished"
	default:
		return string(state)
	}
}

func firstLine(message string) string {
	message = strings.TrimSpace(message)
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}

// formatDuration formats a duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
