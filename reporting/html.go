package reporting

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/ethereum-optimism/infra/op-test-explorer/templates"
	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// HTMLFormatter renders a run as an HTML page laid out like the test tree
type HTMLFormatter struct {
	title string
	tmpl  *template.Template
}

// htmlReport is the data passed to the results template
type htmlReport struct {
	Title    string
	RunID    string
	Duration time.Duration
	Stats    types.RunStats
	Error    string
	Rows     []htmlRow
}

type htmlRow struct {
	Suite   bool
	Depth   int
	Label   string
	State   types.TestState
	File    string
	Line    int
	Message string
}

// NewHTMLFormatter creates a new HTMLFormatter using the embedded results
// template.
func NewHTMLFormatter(title string) (*HTMLFormatter, error) {
	tmpl, err := templates.GetHTMLTemplate(templates.ResultsTemplate)
	if err != nil {
		return nil, err
	}
	return &HTMLFormatter{title: title, tmpl: tmpl}, nil
}

// Format writes the report of summary to w. Only the suites and tests of
// tree that took part in the run are shown; tests of the run missing from
// tree are listed at the end.
func (f *HTMLFormatter) Format(w io.Writer, summary *types.RunSummary, tree *types.TestTreeNode) error {
	report := htmlReport{
		Title:    f.title,
		RunID:    summary.RunID,
		Duration: summary.Duration,
		Stats:    summary.Stats(),
	}
	if summary.Err != nil {
		report.Error = summary.Err.Error()
	}

	shown := make(map[string]bool, len(summary.Tests))
	if tree != nil {
		report.Rows = appendRows(report.Rows, tree, 0, summary, shown)
	}
	for _, test := range summary.Tests {
		if shown[test.ID] {
			continue
		}
		report.Rows = append(report.Rows, htmlRow{
			Label:   test.Label,
			State:   test.State,
			Message: test.Message,
		})
	}

	if err := f.tmpl.Execute(w, report); err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}
	return nil
}

// appendRows walks node depth first and appends a row for every suite with
// at least one test in summary and for every such test.
func appendRows(rows []htmlRow, node *types.TestTreeNode, depth int, summary *types.RunSummary, shown map[string]bool) []htmlRow {
	if !node.IsSuite() {
		test, ok := summary.Get(node.ID)
		if !ok || shown[node.ID] {
			return rows
		}
		shown[node.ID] = true
		return append(rows, htmlRow{
			Depth:   depth,
			Label:   node.Label,
			State:   test.State,
			File:    node.File,
			Line:    node.Line,
			Message: test.Message,
		})
	}

	suiteAt := len(rows)
	rows = append(rows, htmlRow{Suite: true, Depth: depth, Label: node.Label})
	for _, child := range node.Children {
		rows = appendRows(rows, child, depth+1, summary, shown)
	}
	if len(rows) == suiteAt+1 {
		// No test of this suite was run.
		return rows[:suiteAt]
	}
	return rows
}
